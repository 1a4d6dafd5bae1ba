package exporter

import (
	"math"
	"strconv"

	"clumpcli/internal/crunch"
	"clumpcli/internal/standardize"
)

// RawAnalyses renders analyses as a raw data table suitable for
// re-ingestion.
func RawAnalyses(records []*crunch.Analysis) ([]string, [][]string) {
	headers := []string{
		"UID", "Session", "Sample",
		"d45", "d46", "d47", "d48", "d49",
		"d13Cwg_VPDB", "d18Owg_VSMOW",
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		wg13, wg18 := "", ""
		if r.WGFromRecord {
			wg13 = num(r.D13CwgVPDB, 3)
			wg18 = num(r.D18OwgVSMOW, 3)
		}
		rows = append(rows, []string{
			r.UID, r.Session, r.Sample,
			num(r.Delta45, 6), num(r.Delta46, 6),
			num(r.Delta47, 6), num(r.Delta48, 6), num(r.Delta49, 6),
			wg13, wg18,
		})
	}
	return headers, rows
}

// Tables renders a standardized dataset as report tables.
type Tables struct {
	eng *standardize.Engine
}

// NewTables creates a table renderer over a standardized engine.
func NewTables(e *standardize.Engine) *Tables {
	return &Tables{eng: e}
}

func num(v float64, prec int) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', prec, 64)
}

// Analyses returns one row per analysis with its raw deltas, bulk
// composition and raw and absolute anomalies.
func (t *Tables) Analyses() ([]string, [][]string) {
	ds := t.eng.Dataset()
	mass := ds.Mass.String()
	headers := []string{
		"UID", "Session", "Sample",
		"d13Cwg_VPDB", "d18Owg_VSMOW",
		"d45", "d46", "d47", "d48", "d49",
		"d13C_VPDB", "d18O_VSMOW",
		"D47raw", "D48raw", "D49raw",
		"D" + mass,
	}
	records := make([][]string, 0, len(ds.Analyses))
	for _, r := range ds.Analyses {
		records = append(records, []string{
			r.UID, r.Session, r.Sample,
			num(r.D13CwgVPDB, 3), num(r.D18OwgVSMOW, 3),
			num(r.Delta45, 6), num(r.Delta46, 6),
			num(r.Delta47, 6), num(r.Delta48, 6), num(r.Delta49, 6),
			num(r.D13CVPDB, 3), num(r.D18OVSMOW, 3),
			num(r.D47Raw, 6), num(r.D48Raw, 6), num(r.D49Raw, 6),
			num(r.D4x, 6),
		})
	}
	return headers, records
}

// Samples returns one row per sample with its average composition, anomaly,
// standard error, 95% confidence limits and variance statistics.
func (t *Tables) Samples() ([]string, [][]string) {
	ds := t.eng.Dataset()
	res := t.eng.Result()
	mass := ds.Mass.String()
	headers := []string{
		"Sample", "N",
		"d13C_VPDB", "d18O_VSMOW",
		"D" + mass, "SE_D" + mass, "95CL_D" + mass,
		"SD_D" + mass, "p_Levene",
	}
	records := make([][]string, 0, len(ds.SampleNames()))
	for _, name := range ds.SampleNames() {
		smp := ds.Samples[name]
		cl := ""
		if !smp.Anchor && res != nil && !math.IsNaN(res.T95) {
			cl = num(res.T95*smp.SED4x, 4)
		}
		se := ""
		if !smp.Anchor {
			se = num(smp.SED4x, 4)
		}
		records = append(records, []string{
			name, strconv.Itoa(smp.N),
			num(smp.D13CVPDB, 2), num(smp.D18OVSMOW, 2),
			num(smp.D4x, 4), se, cl,
			num(smp.SD, 4), num(smp.PLevene, 3),
		})
	}
	return headers, records
}

// Sessions returns one row per session with its anchor and unknown counts,
// working gas, repeatabilities and fitted instrumental parameters.
func (t *Tables) Sessions() ([]string, [][]string) {
	ds := t.eng.Dataset()
	mass := ds.Mass.String()
	headers := []string{
		"Session", "Na", "Nu",
		"d13Cwg_VPDB", "d18Owg_VSMOW",
		"r_d13C_VPDB", "r_d18O_VSMOW", "r_D" + mass,
		"a", "SE_a", "b", "SE_b", "c", "SE_c",
		"a2", "SE_a2", "b2", "SE_b2", "c2", "SE_c2",
	}
	records := make([][]string, 0, len(ds.SessionNames()))
	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		records = append(records, []string{
			name, strconv.Itoa(s.Na), strconv.Itoa(s.Nu),
			num(s.D13CwgVPDB, 3), num(s.D18OwgVSMOW, 3),
			num(s.Rd13C, 4), num(s.Rd18O, 4), num(s.RD4x, 4),
			num(s.A, 6), num(s.SEA, 6),
			num(s.B, 6), num(s.SEB, 6),
			num(s.C, 6), num(s.SEC, 6),
			num(s.A2, 6), num(s.SEA2, 6),
			num(s.B2, 6), num(s.SEB2, 6),
			num(s.C2, 6), num(s.SEC2, 6),
		})
	}
	return headers, records
}

// SampleCorrel returns the error correlation matrix of the unknown samples.
func (t *Tables) SampleCorrel() ([]string, [][]string, error) {
	ds := t.eng.Dataset()
	unknowns := ds.UnknownNames()
	headers := append([]string{"Sample"}, unknowns...)
	records := make([][]string, 0, len(unknowns))
	for _, s1 := range unknowns {
		row := make([]string, 0, len(unknowns)+1)
		row = append(row, s1)
		for _, s2 := range unknowns {
			c, err := t.eng.SampleCorrel(s1, s2)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, num(c, 6))
		}
		records = append(records, row)
	}
	return headers, records, nil
}

// SampleCovar returns the error covariance matrix of the unknown samples.
func (t *Tables) SampleCovar() ([]string, [][]string, error) {
	ds := t.eng.Dataset()
	unknowns := ds.UnknownNames()
	headers := append([]string{"Sample"}, unknowns...)
	records := make([][]string, 0, len(unknowns))
	for _, s1 := range unknowns {
		row := make([]string, 0, len(unknowns)+1)
		row = append(row, s1)
		for _, s2 := range unknowns {
			c, err := t.eng.SampleCovar(s1, s2)
			if err != nil {
				return nil, nil, err
			}
			row = append(row, strconv.FormatFloat(c, 'e', 6, 64))
		}
		records = append(records, row)
	}
	return headers, records, nil
}
