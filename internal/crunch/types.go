package crunch

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Mass selects which clumped-isotope anomaly a dataset standardizes.
type Mass string

const (
	// Mass47 standardizes Δ47.
	Mass47 Mass = "47"
	// Mass48 standardizes Δ48.
	Mass48 Mass = "48"
)

// String returns the cardinal mass as a string.
func (m Mass) String() string { return string(m) }

// BulkMethod selects the per-session bulk isotope standardization applied
// after crunching.
type BulkMethod string

const (
	// BulkNone applies no correction.
	BulkNone BulkMethod = "none"
	// Bulk1pt offsets values so the anchor mean matches the nominal mean.
	Bulk1pt BulkMethod = "1pt"
	// Bulk2pt maps observed to nominal anchor values with an affine fit.
	Bulk2pt BulkMethod = "2pt"
)

// Analysis is a single dual-inlet mass-spectrometer measurement. Raw fields
// are set at ingestion; derived fields are written in place by crunching and
// standardization.
type Analysis struct {
	UID     string
	Session string
	Sample  string

	// SampleOriginal keeps the pre-split sample name while an unknown is
	// split into per-UID or per-session pseudo-samples.
	SampleOriginal string
	// SampleSplit keeps the synthetic name after unsplitting, for reporting.
	SampleSplit string

	// TimeTag is an optional acquisition time coordinate; HasTimeTag marks
	// whether it was supplied.
	TimeTag    float64
	HasTimeTag bool

	// D17O is the independently known oxygen-17 anomaly, zero by default.
	D17O float64

	// Working-gas-relative deltas, permil. Delta48 and Delta49 default to
	// NaN when not measured.
	Delta45 float64
	Delta46 float64
	Delta47 float64
	Delta48 float64
	Delta49 float64

	// Derived: session working-gas bulk composition, copied onto each
	// record for reporting. WGFromRecord marks values that were supplied
	// with the raw record rather than derived from the session.
	D13CwgVPDB   float64
	D18OwgVSMOW  float64
	WGFromRecord bool

	// Derived: standardized bulk composition of the analyte.
	D13CVPDB  float64
	D18OVSMOW float64

	// Derived: raw clumped anomalies relative to the stochastic reference.
	D47Raw float64
	D48Raw float64
	D49Raw float64

	// T is the time coordinate within the session, centered on the session
	// mean.
	T float64

	// Standardization fields for the dataset's active mass.
	WD4xRaw     float64
	D4x         float64
	WD4x        float64
	D4xResidual float64
}

// Delta returns the working-gas-relative delta for the given mass.
func (a *Analysis) Delta(m Mass) float64 {
	if m == Mass48 {
		return a.Delta48
	}
	return a.Delta47
}

// RawAnomaly returns the raw clumped anomaly for the given mass.
func (a *Analysis) RawAnomaly(m Mass) float64 {
	if m == Mass48 {
		return a.D48Raw
	}
	return a.D47Raw
}

// Drift controls which instrumental parameters of a session are allowed to
// vary linearly with the time coordinate.
type Drift struct {
	Scrambling bool `yaml:"scrambling"`
	Slope      bool `yaml:"slope"`
	WG         bool `yaml:"wg"`
}

// Session is one analytical batch sharing a working-gas composition and a
// single set of instrumental parameters (a, b, c) with optional drift terms
// (a2, b2, c2).
type Session struct {
	Name     string
	Analyses []*Analysis

	D13CwgVPDB  float64
	D18OwgVSMOW float64
	HasWG       bool

	Drift      Drift
	D13CMethod BulkMethod
	D18OMethod BulkMethod

	// Fitted instrumental parameters and their standard errors.
	A, B, C    float64
	A2, B2, C2 float64
	SEA, SEB, SEC    float64
	SEA2, SEB2, SEC2 float64

	// CM is the 6x6 covariance of (a, b, c, a2, b2, c2); inactive drift
	// rows and columns are zero.
	CM *mat.Dense

	// Np is the number of fitted parameters, Na/Nu the anchor/unknown
	// analysis counts.
	Np int
	Na int
	Nu int

	// Within-session repeatabilities.
	Rd13C float64
	Rd18O float64
	RD4x  float64
}

// ActiveParams reports, in (a, b, c, a2, b2, c2) order, which instrumental
// parameters this session fits.
func (s *Session) ActiveParams() [6]bool {
	return [6]bool{true, true, true, s.Drift.Scrambling, s.Drift.Slope, s.Drift.WG}
}

// NumActiveParams counts the fitted parameters of this session.
func (s *Session) NumActiveParams() int {
	n := 3
	if s.Drift.Scrambling {
		n++
	}
	if s.Drift.Slope {
		n++
	}
	if s.Drift.WG {
		n++
	}
	return n
}

// Params returns the six instrumental parameters in canonical order.
func (s *Session) Params() [6]float64 {
	return [6]float64{s.A, s.B, s.C, s.A2, s.B2, s.C2}
}

// Scaling evaluates a + a2*t, the effective scrambling factor at time t.
// Inverting the affine standardization model divides by this term, so it
// must stay non-zero for every t present in the session.
func (s *Session) Scaling(t float64) float64 {
	return s.A + s.A2*t
}

// SessionEstimate is one session's contribution to an unknown sample's
// overall value under per-session standardization: the local estimate, its
// combined error and its normalized inverse-variance weight.
type SessionEstimate struct {
	D4x    float64
	SE     float64
	Weight float64
}

// Sample groups all analyses sharing a sample identifier. A sample is an
// anchor when it appears in the dataset's nominal anomaly table; anchors
// keep their nominal value (SE = 0 by definition) while unknowns receive a
// fitted value and standard error.
type Sample struct {
	Name     string
	Analyses []*Analysis

	Anchor  bool
	Nominal float64

	D4x   float64
	SED4x float64

	N         int
	SD        float64 // NaN when N < 2
	D13CVPDB  float64
	D18OVSMOW float64
	PLevene   float64 // NaN when N < 3

	// SessionEstimates is populated for unknowns under per-session
	// standardization, keyed by session name.
	SessionEstimates map[string]*SessionEstimate
}

// NewSample returns a sample with statistics initialized to "not computed".
func NewSample(name string) *Sample {
	return &Sample{
		Name:    name,
		SD:      math.NaN(),
		PLevene: math.NaN(),
	}
}
