package simulate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clumpcli/internal/crunch"
	"clumpcli/internal/standardize"
)

func TestSingleAnalysisMissingComposition(t *testing.T) {
	cfg := DefaultConfig()
	_, err := SingleAnalysis(cfg, NewSampleSpec("NOT-A-STANDARD", 1))
	require.Error(t, err)
}

func TestSessionDataDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 42
	specs := []SampleSpec{NewSampleSpec("ETH-1", 3), NewSampleSpec("ETH-2", 3)}

	a, err := SessionData(cfg, specs)
	require.NoError(t, err)
	b, err := SessionData(cfg, specs)
	require.NoError(t, err)

	require.Len(t, a, 6)
	for i := range a {
		assert.Equal(t, a[i].Sample, b[i].Sample)
		assert.Equal(t, a[i].Delta47, b[i].Delta47)
	}
}

func TestNoiseFreeRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rd45, cfg.Rd46, cfg.RD47, cfg.RD48 = 0, 0, 0, 0
	cfg.Shuffle = false
	cfg.A47, cfg.B47, cfg.C47 = 1.02, 0.002, -0.85

	foo := NewSampleSpec("FOO", 3)
	foo.D13CVPDB = 2.0
	foo.D18OVPDB = -2.0
	foo.D47 = 0.6
	foo.D48 = 0.2

	specs := []SampleSpec{
		NewSampleSpec("ETH-1", 3),
		NewSampleSpec("ETH-2", 3),
		NewSampleSpec("ETH-3", 3),
		foo,
	}
	records, err := SessionData(cfg, specs)
	require.NoError(t, err)

	ds := crunch.New(crunch.Mass47, crunch.WithBulkMethods(crunch.BulkNone, crunch.BulkNone))
	ds.Add(records...)
	require.NoError(t, crunch.NewCruncher(ds, nil).Crunch(context.Background()))

	eng := standardize.NewEngine(ds, standardize.WithMethod(standardize.Pooled))
	_, err = eng.Standardize(context.Background())
	require.NoError(t, err)

	s := ds.Sessions[cfg.Session]
	assert.InDelta(t, cfg.A47, s.A, 1e-3)
	assert.InDelta(t, cfg.C47, s.C, 1e-3)
	assert.InDelta(t, 0.6, ds.Samples["FOO"].D4x, 1e-3)
}

func TestNoisyRecoveryWithinTolerance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 7
	cfg.Session = "S1"

	foo := NewSampleSpec("FOO", 8)
	foo.D13CVPDB = -5.0
	foo.D18OVPDB = -10.0
	foo.D47 = 0.55
	foo.D48 = 0.2

	specs := []SampleSpec{
		NewSampleSpec("ETH-1", 8),
		NewSampleSpec("ETH-2", 8),
		NewSampleSpec("ETH-3", 8),
		foo,
	}
	records, err := SessionData(cfg, specs)
	require.NoError(t, err)

	ds := crunch.New(crunch.Mass47)
	ds.Add(records...)
	require.NoError(t, crunch.NewCruncher(ds, nil).Crunch(context.Background()))

	eng := standardize.NewEngine(ds, standardize.WithMethod(standardize.Pooled))
	_, err = eng.Standardize(context.Background())
	require.NoError(t, err)

	smp := ds.Samples["FOO"]
	// The estimate should land within a few standard errors of the truth.
	assert.InDelta(t, 0.55, smp.D4x, 5*smp.SED4x+1e-3)
	assert.Greater(t, eng.Repeatability.RD4x, 0.0)
}
