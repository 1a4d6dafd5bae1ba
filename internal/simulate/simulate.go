package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"clumpcli/internal/crunch"
	"clumpcli/internal/isotopes"
)

// SampleSpec describes one simulated sample. NaN compositions fall back to
// the nominal tables of the simulation config.
type SampleSpec struct {
	Name string
	N    int

	D13CVPDB float64 // carbonate d13C, VPDB
	D18OVPDB float64 // carbonate d18O, VPDB
	D47      float64
	D48      float64
	D49      float64
	D17O     float64
}

// NewSampleSpec returns a spec for n analyses of the named sample, with all
// compositions deferred to the nominal tables.
func NewSampleSpec(name string, n int) SampleSpec {
	return SampleSpec{
		Name:     name,
		N:        n,
		D13CVPDB: math.NaN(),
		D18OVPDB: math.NaN(),
		D47:      math.NaN(),
		D48:      math.NaN(),
	}
}

// Config holds the instrument model and noise levels of a simulated
// session.
type Config struct {
	Params    isotopes.Params
	AcidAlpha float64

	WGd13CVPDB  float64
	WGd18OVSMOW float64

	// Instrumental parameters applied to the raw anomalies.
	A47, B47, C47 float64
	A48, B48, C48 float64

	// Analytical repeatabilities, permil.
	Rd45, Rd46, RD47, RD48 float64

	Session string
	Seed    uint64
	Shuffle bool

	NominalD47  map[string]float64
	NominalD48  map[string]float64
	NominalD13C map[string]float64
	NominalD18O map[string]float64
}

// DefaultConfig returns a simulation config with a typical working gas,
// unit scrambling and textbook repeatabilities.
func DefaultConfig() Config {
	return Config{
		Params:      isotopes.DefaultParams(),
		AcidAlpha:   crunch.DefaultAcidAlpha,
		WGd13CVPDB:  -4,
		WGd18OVSMOW: 26,
		A47:         1, B47: 0, C47: -0.9,
		A48: 1, B48: 0, C48: -0.45,
		Rd45: 0.020, Rd46: 0.060, RD47: 0.015, RD48: 0.045,
		Session:     "Session01",
		Shuffle:     true,
		NominalD47:  crunch.DefaultNominalD47(),
		NominalD48:  crunch.DefaultNominalD48(),
		NominalD13C: crunch.DefaultNominalD13C(),
		NominalD18O: crunch.DefaultNominalD18O(),
	}
}

// resolve fills the sample's NaN compositions from the nominal tables.
func (cfg *Config) resolve(spec SampleSpec) (SampleSpec, error) {
	lookup := func(v float64, table map[string]float64, what string) (float64, error) {
		if !math.IsNaN(v) {
			return v, nil
		}
		nv, ok := table[spec.Name]
		if !ok {
			return 0, fmt.Errorf("sample %q has no %s value and none is defined in the nominal table", spec.Name, what)
		}
		return nv, nil
	}
	var err error
	if spec.D13CVPDB, err = lookup(spec.D13CVPDB, cfg.NominalD13C, "d13C"); err != nil {
		return spec, err
	}
	if spec.D18OVPDB, err = lookup(spec.D18OVPDB, cfg.NominalD18O, "d18O"); err != nil {
		return spec, err
	}
	if spec.D47, err = lookup(spec.D47, cfg.NominalD47, "D47"); err != nil {
		return spec, err
	}
	if spec.D48, err = lookup(spec.D48, cfg.NominalD48, "D48"); err != nil {
		return spec, err
	}
	return spec, nil
}

// SingleAnalysis computes the noise-free working-gas deltas one analysis of
// the described sample would produce under the config's instrument model. The
// mass-47 and mass-48 deltas include the raw-anomaly transformation, fixed
// up iteratively since the deltas feed back into the model.
func SingleAnalysis(cfg Config, spec SampleSpec) (*crunch.Analysis, error) {
	spec, err := cfg.resolve(spec)
	if err != nil {
		return nil, err
	}
	p := cfg.Params

	wg := p.ComputeIsobarRatios(
		p.R13VPDB*(1+cfg.WGd13CVPDB/1000),
		p.R18VSMOW*(1+cfg.WGd18OVSMOW/1000),
		isotopes.Anomalies{},
	)

	r13 := p.R13VPDB * (1 + spec.D13CVPDB/1000)
	r18 := p.R18VPDB * (1 + spec.D18OVPDB/1000) * cfg.AcidAlpha
	sample := p.ComputeIsobarRatios(r13, r18, isotopes.Anomalies{
		D17O: spec.D17O, D47: spec.D47, D48: spec.D48, D49: spec.D49,
	})
	stoch := p.ComputeIsobarRatios(r13, r18, isotopes.Anomalies{D17O: spec.D17O})

	a := &crunch.Analysis{
		Sample:       spec.Name,
		Session:      cfg.Session,
		D17O:         spec.D17O,
		D13CwgVPDB:   cfg.WGd13CVPDB,
		D18OwgVSMOW:  cfg.WGd18OVSMOW,
		WGFromRecord: true,
		Delta45:      1000 * (sample.R45/wg.R45 - 1),
		Delta46:      1000 * (sample.R46/wg.R46 - 1),
		Delta47:      1000 * (sample.R47/wg.R47 - 1),
		Delta48:      1000 * (sample.R48/wg.R48 - 1),
		Delta49:      1000 * (sample.R49/wg.R49 - 1),
	}

	for range 3 {
		r47raw := (1 + (cfg.A47*spec.D47+cfg.B47*a.Delta47+cfg.C47)/1000) * stoch.R47
		r48raw := (1 + (cfg.A48*spec.D48+cfg.B48*a.Delta48+cfg.C48)/1000) * stoch.R48
		a.Delta47 = 1000 * (r47raw/wg.R47 - 1)
		a.Delta48 = 1000 * (r48raw/wg.R48 - 1)
	}
	return a, nil
}

// SessionData simulates all analyses of one session, adding correlated
// measurement noise scaled to the configured repeatabilities.
func SessionData(cfg Config, specs []SampleSpec) ([]*crunch.Analysis, error) {
	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var n int
	for _, s := range specs {
		n += s.N
	}
	if n == 0 {
		return nil, fmt.Errorf("no analyses to simulate")
	}

	e45 := scaledNoise(rng, n, cfg.Rd45)
	e46 := scaledNoise(rng, n, cfg.Rd46)
	e47 := scaledNoise(rng, n, cfg.RD47)
	e48 := scaledNoise(rng, n, cfg.RD48)

	out := make([]*crunch.Analysis, 0, n)
	k := 0
	for _, spec := range specs {
		for i := 0; i < spec.N; i++ {
			a, err := SingleAnalysis(cfg, spec)
			if err != nil {
				return nil, err
			}
			a.Delta45 += e45[k]
			a.Delta46 += e46[k]
			// The mass-47 and mass-48 deltas inherit the bulk errors
			// through the isobar arithmetic.
			a.Delta47 += (e45[k] + e46[k] + e47[k]) * cfg.A47
			a.Delta48 += (2*e46[k] + e48[k]) * cfg.A48
			out = append(out, a)
			k++
		}
	}

	if cfg.Shuffle {
		rng.Shuffle(len(out), func(i, j int) {
			out[i], out[j] = out[j], out[i]
		})
	}
	return out, nil
}

// scaledNoise draws n normal deviates rescaled so their sample standard
// deviation is exactly r.
func scaledNoise(rng *rand.Rand, n int, r float64) []float64 {
	e := make([]float64, n)
	for i := range e {
		e[i] = rng.NormFloat64()
	}
	if n > 1 {
		if sd := stat.StdDev(e, nil); sd > 0 {
			for i := range e {
				e[i] *= r / sd
			}
		}
	}
	return e
}
