package crunch

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"clumpcli/internal/isotopes"
)

// roundTripTol bounds the acceptable deviation of R45/R45stoch and
// R46/R46stoch from unity. These ratios are exactly 1 by construction, so
// any larger deviation signals a bug or numerical instability.
const roundTripTol = 5e-8

// Cruncher computes bulk compositions and raw clumped anomalies for every
// analysis of a dataset, then applies the per-session bulk isotope
// standardizations.
type Cruncher struct {
	ds     *Dataset
	logger *slog.Logger
}

// NewCruncher creates a cruncher for the dataset.
func NewCruncher(ds *Dataset, logger *slog.Logger) *Cruncher {
	if logger == nil {
		logger = ds.Logger()
	}
	return &Cruncher{ds: ds, logger: logger}
}

// Crunch computes δ13C_VPDB, δ18O_VSMOW and Δ47raw/Δ48raw/Δ49raw for all
// analyses, then standardizes the bulk compositions per session. Every
// session must have a working-gas composition, either assigned explicitly,
// carried by its raw records, or inferred via InferWorkingGas.
func (c *Cruncher) Crunch(ctx context.Context) error {
	ds := c.ds
	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		if !s.HasWG {
			if len(s.Analyses) > 0 && s.Analyses[0].WGFromRecord {
				r := s.Analyses[0]
				if err := ds.SetWorkingGas(name, r.D13CwgVPDB, r.D18OwgVSMOW); err != nil {
					return err
				}
			} else {
				return Configf("session %q has no working-gas composition", name)
			}
		}
		for _, r := range s.Analyses {
			r.D13CwgVPDB = s.D13CwgVPDB
			r.D18OwgVSMOW = s.D18OwgVSMOW
		}
	}

	for _, r := range ds.Analyses {
		if err := c.crunchAnalysis(r); err != nil {
			return fmt.Errorf("analysis %s: %w", r.UID, err)
		}
	}

	if err := c.standardizeBulk(); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "crunched analyses",
		"analyses", len(ds.Analyses),
		"sessions", len(ds.SessionNames()),
	)
	return nil
}

// crunchAnalysis computes the bulk composition and raw clumped anomalies of
// a single analysis from its working-gas-relative deltas.
func (c *Cruncher) crunchAnalysis(r *Analysis) error {
	p := c.ds.Params

	// Working-gas isobar ratios from its bulk composition.
	r13wg := p.R13VPDB * (1 + r.D13CwgVPDB/1000)
	r18wg := p.R18VSMOW * (1 + r.D18OwgVSMOW/1000)
	wg := p.ComputeIsobarRatios(r13wg, r18wg, isotopes.Anomalies{})

	// Analyte isobar ratios.
	r45 := (1 + r.Delta45/1000) * wg.R45
	r46 := (1 + r.Delta46/1000) * wg.R46
	r47 := (1 + r.Delta47/1000) * wg.R47
	r48 := (1 + r.Delta48/1000) * wg.R48
	r49 := (1 + r.Delta49/1000) * wg.R49

	d13C, d18O, err := p.ComputeBulkDelta(r45, r46, r.D17O)
	if err != nil {
		return err
	}
	r.D13CVPDB = d13C
	r.D18OVSMOW = d18O

	// Stochastic isobar ratios for the recovered bulk composition.
	r13 := (1 + d13C/1000) * p.R13VPDB
	r18 := (1 + d18O/1000) * p.R18VSMOW
	stoch := p.ComputeIsobarRatios(r13, r18, isotopes.Anomalies{D17O: r.D17O})

	// R45 and R46 must round-trip to the stochastic prediction exactly.
	if dev := math.Abs(r45/stoch.R45 - 1); dev > roundTripTol {
		c.logger.Warn("R45 deviates from stochastic prediction",
			"uid", r.UID, "deviation_ppm", 1e6*(r45/stoch.R45-1))
	}
	if dev := math.Abs(r46/stoch.R46 - 1); dev > roundTripTol {
		c.logger.Warn("R46 deviates from stochastic prediction",
			"uid", r.UID, "deviation_ppm", 1e6*(r46/stoch.R46-1))
	}

	r.D47Raw = 1000 * (r47/stoch.R47 - 1)
	r.D48Raw = 1000 * (r48/stoch.R48 - 1)
	r.D49Raw = 1000 * (r49/stoch.R49 - 1)
	return nil
}

// standardizeBulk applies the per-session δ13C and δ18O standardizations.
func (c *Cruncher) standardizeBulk() error {
	ds := c.ds
	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]

		if s.D13CMethod != BulkNone {
			err := c.fitBulk(s, s.D13CMethod, ds.NominalD13C,
				func(r *Analysis) float64 { return r.D13CVPDB },
				func(r *Analysis, v float64) { r.D13CVPDB = v },
				func(y float64) float64 { return y },
			)
			if err != nil {
				return fmt.Errorf("session %q: d13C standardization: %w", name, err)
			}
		}
		if s.D18OMethod != BulkNone {
			// Nominal values are carbonate VPDB; convert to CO2 on the
			// VSMOW scale through the acid fractionation factor.
			convert := func(y float64) float64 {
				return (1000+y)*ds.Params.R18VPDB*ds.AcidAlpha/ds.Params.R18VSMOW - 1000
			}
			err := c.fitBulk(s, s.D18OMethod, ds.NominalD18O,
				func(r *Analysis) float64 { return r.D18OVSMOW },
				func(r *Analysis, v float64) { r.D18OVSMOW = v },
				convert,
			)
			if err != nil {
				return fmt.Errorf("session %q: d18O standardization: %w", name, err)
			}
		}
	}
	return nil
}

// fitBulk performs a 1-point offset or 2-point affine correction of one
// bulk isotope within a session, mapping observed standard values onto
// their (converted) nominal values.
func (c *Cruncher) fitBulk(
	s *Session,
	method BulkMethod,
	nominal map[string]float64,
	get func(*Analysis) float64,
	set func(*Analysis, float64),
	convert func(float64) float64,
) error {
	var xs, ys []float64
	for _, r := range s.Analyses {
		if y, ok := nominal[r.Sample]; ok {
			xs = append(xs, get(r))
			ys = append(ys, convert(y))
		}
	}
	if len(xs) == 0 {
		return &InsufficientDataError{Session: s.Name, Msg: "no standard analyses for bulk standardization"}
	}

	switch method {
	case Bulk1pt:
		offset := stat.Mean(ys, nil) - stat.Mean(xs, nil)
		for _, r := range s.Analyses {
			set(r, get(r)+offset)
		}
	case Bulk2pt:
		if len(xs) < 2 {
			return &InsufficientDataError{Session: s.Name, Msg: "2pt bulk standardization needs at least two standard analyses"}
		}
		alpha, beta := stat.LinearRegression(xs, ys, nil, false)
		if math.IsNaN(alpha) || math.IsNaN(beta) {
			return &InsufficientDataError{Session: s.Name, Msg: "2pt bulk standardization is singular (identical standard values)"}
		}
		for _, r := range s.Analyses {
			set(r, beta*get(r)+alpha)
		}
	default:
		return Configf("unknown bulk standardization method %q", method)
	}
	return nil
}

// InferWorkingGas derives each session's working-gas bulk composition from
// the carbonate standards present in both nominal bulk tables: the observed
// d45 (d46) of standard analyses is regressed against the standards' R45
// (R46), and the intercept at delta = 0 is the working-gas ratio. When the
// session's deltas do not bracket zero closely enough to extrapolate, the
// mean of R/(1+d/1000) is used instead.
func (c *Cruncher) InferWorkingGas(ctx context.Context) error {
	ds := c.ds
	if ds.AcidAlpha == 0 {
		return Configf("acid fractionation factor must not be zero")
	}

	type standardRatios struct{ r45, r46 float64 }
	standards := map[string]standardRatios{}
	for sample, d13C := range ds.NominalD13C {
		d18O, ok := ds.NominalD18O[sample]
		if !ok {
			continue
		}
		r13 := ds.Params.R13VPDB * (1 + d13C/1000)
		r18 := ds.Params.R18VPDB * (1 + d18O/1000) * ds.AcidAlpha
		rr := ds.Params.ComputeIsobarRatios(r13, r18, isotopes.Anomalies{})
		standards[sample] = standardRatios{r45: rr.R45, r46: rr.R46}
	}
	if len(standards) == 0 {
		return Configf("no sample appears in both nominal d13C and d18O tables")
	}

	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		var d45s, d46s, r45s, r46s []float64
		for _, r := range s.Analyses {
			std, ok := standards[r.Sample]
			if !ok {
				continue
			}
			d45s = append(d45s, r.Delta45)
			d46s = append(d46s, r.Delta46)
			r45s = append(r45s, std.r45)
			r46s = append(r46s, std.r46)
		}
		if len(d45s) == 0 {
			return &InsufficientDataError{Session: name, Msg: "no carbonate standard analyses to infer working gas from"}
		}

		r45wg := interceptAtZero(d45s, r45s)
		r46wg := interceptAtZero(d46s, r46s)

		d13C, d18O, err := ds.Params.ComputeBulkDelta(r45wg, r46wg, 0)
		if err != nil {
			return fmt.Errorf("session %q: working gas inversion: %w", name, err)
		}
		if err := ds.SetWorkingGas(name, d13C, d18O); err != nil {
			return err
		}
		c.logger.InfoContext(ctx, "inferred working gas",
			"session", name, "d13C_VPDB", d13C, "d18O_VSMOW", d18O)
	}
	return nil
}

// interceptAtZero estimates the isobar ratio at delta = 0. The regression
// intercept is used only when delta = 0 sits within (or near) the observed
// bracket; otherwise each point is individually projected and averaged.
func interceptAtZero(deltas, ratios []float64) float64 {
	x1, x2 := deltas[0], deltas[0]
	for _, x := range deltas {
		x1 = math.Min(x1, x)
		x2 = math.Max(x2, x)
	}
	coord := 999.0
	if x1 < x2 {
		coord = x1 / (x1 - x2)
	}
	if coord < -0.5 || coord > 1.5 {
		projected := make([]float64, len(deltas))
		for i := range deltas {
			projected[i] = ratios[i] / (1 + deltas[i]/1000)
		}
		return stat.Mean(projected, nil)
	}
	alpha, _ := stat.LinearRegression(deltas, ratios, nil, false)
	return alpha
}
