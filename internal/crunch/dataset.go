package crunch

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"clumpcli/internal/isotopes"
)

// Dataset owns the flat analysis collection and its derived session and
// sample registries for one clumped-isotope system (Δ47 or Δ48).
type Dataset struct {
	Mass   Mass
	Params isotopes.Params

	// AcidAlpha is the 18O/16O acid fractionation factor applied when
	// converting carbonate nominal values to CO2 equivalents.
	AcidAlpha float64

	// NominalD4x defines the anchor samples: membership in this table is
	// what makes a sample an anchor.
	NominalD4x map[string]float64

	// NominalD13C and NominalD18O define the carbonate standards used for
	// bulk isotope standardization and working-gas inference.
	NominalD13C map[string]float64
	NominalD18O map[string]float64

	LeveneRef      string
	DefaultSession string
	D13CMethod     BulkMethod
	D18OMethod     BulkMethod

	// DriftFlags configures per-session drift terms, applied on Refresh.
	DriftFlags map[string]Drift

	Analyses []*Analysis
	Sessions map[string]*Session
	Samples  map[string]*Sample

	sessionNames []string
	sampleNames  []string
	anchorNames  []string
	unknownNames []string

	logger *slog.Logger
	nextID int
}

// Option configures a Dataset.
type Option func(*Dataset)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(ds *Dataset) { ds.logger = l }
}

// WithParams overrides the reference isotope ratios.
func WithParams(p isotopes.Params) Option {
	return func(ds *Dataset) { ds.Params = p }
}

// WithNominalD4x overrides the anchor anomaly table.
func WithNominalD4x(nominal map[string]float64) Option {
	return func(ds *Dataset) { ds.NominalD4x = nominal }
}

// WithBulkNominals overrides the carbonate standard tables.
func WithBulkNominals(d13c, d18o map[string]float64) Option {
	return func(ds *Dataset) {
		ds.NominalD13C = d13c
		ds.NominalD18O = d18o
	}
}

// WithAcidAlpha overrides the acid fractionation factor.
func WithAcidAlpha(alpha float64) Option {
	return func(ds *Dataset) { ds.AcidAlpha = alpha }
}

// WithBulkMethods sets the per-session bulk standardization methods.
func WithBulkMethods(d13c, d18o BulkMethod) Option {
	return func(ds *Dataset) {
		ds.D13CMethod = d13c
		ds.D18OMethod = d18o
	}
}

// WithDefaultSession sets the session name assigned to analyses ingested
// without one.
func WithDefaultSession(name string) Option {
	return func(ds *Dataset) { ds.DefaultSession = name }
}

// WithLeveneRef sets the reference sample for the Levene variance test.
func WithLeveneRef(sample string) Option {
	return func(ds *Dataset) { ds.LeveneRef = sample }
}

// WithDriftFlags sets per-session drift configuration.
func WithDriftFlags(flags map[string]Drift) Option {
	return func(ds *Dataset) { ds.DriftFlags = flags }
}

// New creates an empty dataset for the given mass with default reference
// ratios and nominal tables.
func New(mass Mass, opts ...Option) *Dataset {
	ds := &Dataset{
		Mass:           mass,
		Params:         isotopes.DefaultParams(),
		AcidAlpha:      DefaultAcidAlpha,
		NominalD4x:     DefaultNominal(mass),
		NominalD13C:    DefaultNominalD13C(),
		NominalD18O:    DefaultNominalD18O(),
		LeveneRef:      DefaultLeveneRef,
		DefaultSession: DefaultSessionName,
		D13CMethod:     Bulk2pt,
		D18OMethod:     Bulk2pt,
		Sessions:       map[string]*Session{},
		Samples:        map[string]*Sample{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

// Logger exposes the dataset's structured logger.
func (ds *Dataset) Logger() *slog.Logger { return ds.logger }

// Add ingests analyses, fills in defaults for optional fields (sequential
// UID, default session, zero Δ17O) and rebuilds the registries.
func (ds *Dataset) Add(records ...*Analysis) {
	for _, r := range records {
		ds.nextID++
		if r.UID == "" {
			r.UID = strconv.Itoa(ds.nextID)
		}
		if r.Session == "" {
			r.Session = ds.DefaultSession
		}
		ds.Analyses = append(ds.Analyses, r)
	}
	ds.Refresh()
}

// Refresh rebuilds the session and sample registries from the analysis
// collection. Fitted session parameters survive only through the analyses
// themselves; registries are views, recomputed from scratch.
func (ds *Dataset) Refresh() {
	prevSessions := ds.Sessions
	ds.Sessions = map[string]*Session{}
	for _, r := range ds.Analyses {
		s, ok := ds.Sessions[r.Session]
		if !ok {
			s = &Session{
				Name:       r.Session,
				D13CMethod: ds.D13CMethod,
				D18OMethod: ds.D18OMethod,
			}
			if prev, ok := prevSessions[r.Session]; ok {
				s.Drift = prev.Drift
				s.D13CwgVPDB = prev.D13CwgVPDB
				s.D18OwgVSMOW = prev.D18OwgVSMOW
				s.HasWG = prev.HasWG
				s.D13CMethod = prev.D13CMethod
				s.D18OMethod = prev.D18OMethod
			}
			if drift, ok := ds.DriftFlags[r.Session]; ok {
				s.Drift = drift
			}
			ds.Sessions[r.Session] = s
		}
		s.Analyses = append(s.Analyses, r)
	}

	ds.Samples = map[string]*Sample{}
	for _, r := range ds.Analyses {
		smp, ok := ds.Samples[r.Sample]
		if !ok {
			smp = NewSample(r.Sample)
			if nominal, isAnchor := ds.NominalD4x[r.Sample]; isAnchor {
				smp.Anchor = true
				smp.Nominal = nominal
			}
			ds.Samples[r.Sample] = smp
		}
		smp.Analyses = append(smp.Analyses, r)
	}

	ds.sessionNames = sortedKeys(ds.Sessions)
	ds.sampleNames = sortedKeys(ds.Samples)
	ds.anchorNames = ds.anchorNames[:0]
	ds.unknownNames = ds.unknownNames[:0]
	for _, name := range ds.sampleNames {
		if ds.Samples[name].Anchor {
			ds.anchorNames = append(ds.anchorNames, name)
		} else {
			ds.unknownNames = append(ds.unknownNames, name)
		}
	}
}

// SessionNames returns the session identifiers in sorted order.
func (ds *Dataset) SessionNames() []string { return ds.sessionNames }

// SampleNames returns the sample identifiers in sorted order.
func (ds *Dataset) SampleNames() []string { return ds.sampleNames }

// AnchorNames returns the anchor sample identifiers in sorted order.
func (ds *Dataset) AnchorNames() []string { return ds.anchorNames }

// UnknownNames returns the unknown sample identifiers in sorted order.
func (ds *Dataset) UnknownNames() []string { return ds.unknownNames }

// IsAnchor reports whether the named sample has a nominal anomaly assigned.
func (ds *Dataset) IsAnchor(sample string) bool {
	_, ok := ds.NominalD4x[sample]
	return ok
}

// Session returns the named session or an error.
func (ds *Dataset) Session(name string) (*Session, error) {
	s, ok := ds.Sessions[name]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", name)
	}
	return s, nil
}

// AssignTimestamps assigns the time coordinate t to every analysis. Within
// a session, t is the supplied TimeTag minus the session mean when all
// analyses carry one, and the analysis index centered on the session middle
// otherwise.
func (ds *Dataset) AssignTimestamps() {
	for _, name := range ds.sessionNames {
		sdata := ds.Sessions[name].Analyses
		tagged := true
		for _, r := range sdata {
			if !r.HasTimeTag {
				tagged = false
				break
			}
		}
		if tagged {
			tags := make([]float64, len(sdata))
			for i, r := range sdata {
				tags[i] = r.TimeTag
			}
			t0 := stat.Mean(tags, nil)
			for _, r := range sdata {
				r.T = r.TimeTag - t0
			}
			continue
		}
		t0 := float64(len(sdata)-1) / 2
		for i, r := range sdata {
			r.T = float64(i) - t0
		}
	}
}

// SetWorkingGas assigns a session's working-gas bulk composition and copies
// it onto the session's analyses.
func (ds *Dataset) SetWorkingGas(session string, d13C, d18O float64) error {
	s, err := ds.Session(session)
	if err != nil {
		return err
	}
	s.D13CwgVPDB = d13C
	s.D18OwgVSMOW = d18O
	s.HasWG = true
	for _, r := range s.Analyses {
		r.D13CwgVPDB = d13C
		r.D18OwgVSMOW = d18O
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
