package standardize

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clumpcli/internal/crunch"
)

// rawAnalysis builds an analysis with its crunched anomaly already set,
// bypassing the raw-delta stage.
func rawAnalysis(session, sample string, d47, d47raw float64) *crunch.Analysis {
	return &crunch.Analysis{
		Session: session,
		Sample:  sample,
		Delta47: d47,
		D47Raw:  d47raw,
	}
}

// affine47 evaluates the forward standardization model.
func affine47(a, b, c, d47, D47 float64) float64 {
	return a*D47 + b*d47 + c
}

func TestPooledExactRecovery(t *testing.T) {
	const (
		aTrue = 1.02
		bTrue = 0.003
		cTrue = -0.8
		dTrue = 0.8
	)

	ds := crunch.New(crunch.Mass47)
	nominal := ds.NominalD4x
	ds.Add(
		rawAnalysis("S1", "ETH-1", 10, affine47(aTrue, bTrue, cTrue, 10, nominal["ETH-1"])),
		rawAnalysis("S1", "ETH-2", -5, affine47(aTrue, bTrue, cTrue, -5, nominal["ETH-2"])),
		rawAnalysis("S1", "ETH-3", 2, affine47(aTrue, bTrue, cTrue, 2, nominal["ETH-3"])),
		rawAnalysis("S1", "FOO", 1, affine47(aTrue, bTrue, cTrue, 1, dTrue)),
		rawAnalysis("S1", "FOO", 3, affine47(aTrue, bTrue, cTrue, 3, dTrue)),
	)

	eng := NewEngine(ds, WithMethod(Pooled))
	res, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	s := ds.Sessions["S1"]
	assert.InDelta(t, aTrue, s.A, 1e-6)
	assert.InDelta(t, bTrue, s.B, 1e-6)
	assert.InDelta(t, cTrue, s.C, 1e-6)
	assert.Zero(t, s.A2)
	assert.Equal(t, 3, s.Np)

	foo := ds.Samples["FOO"]
	assert.InDelta(t, dTrue, foo.D4x, 1e-6)
	assert.Less(t, foo.SED4x, 1e-4)

	// 5 analyses, 4 free parameters.
	assert.Equal(t, 1, res.Nf)
	assert.False(t, math.IsNaN(res.T95))

	for _, r := range ds.Analyses {
		assert.InDelta(t, 0, r.D4xResidual, 1e-6)
	}
	eth1 := ds.Samples["ETH-1"]
	assert.Equal(t, nominal["ETH-1"], eth1.D4x)
	assert.Zero(t, eth1.SED4x)
}

func TestPooledTwoSessions(t *testing.T) {
	ds := crunch.New(crunch.Mass47)
	nominal := ds.NominalD4x

	add := func(session string, a, b, c float64) {
		ds.Add(
			rawAnalysis(session, "ETH-1", 12, affine47(a, b, c, 12, nominal["ETH-1"])),
			rawAnalysis(session, "ETH-2", -8, affine47(a, b, c, -8, nominal["ETH-2"])),
			rawAnalysis(session, "ETH-3", 3, affine47(a, b, c, 3, nominal["ETH-3"])),
			rawAnalysis(session, "FOO", 2, affine47(a, b, c, 2, 0.75)),
		)
	}
	add("S1", 1.01, 0.002, -0.85)
	add("S2", 0.97, -0.001, -0.78)

	eng := NewEngine(ds, WithMethod(Pooled))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1.01, ds.Sessions["S1"].A, 1e-5)
	assert.InDelta(t, 0.97, ds.Sessions["S2"].A, 1e-5)
	assert.InDelta(t, 0.75, ds.Samples["FOO"].D4x, 1e-5)
}

func TestPooledWGDriftRecovery(t *testing.T) {
	const (
		aTrue  = 1.0
		cTrue  = -0.8
		c2True = 0.05
	)

	ds := crunch.New(crunch.Mass47, crunch.WithDriftFlags(map[string]crunch.Drift{
		"S1": {WG: true},
	}))
	nominal := ds.NominalD4x

	// Six analyses; index-based timestamps are -2.5 .. 2.5.
	names := []string{"ETH-1", "ETH-2", "ETH-3", "ETH-1", "ETH-2", "ETH-3"}
	d47s := []float64{10, -5, 2, 9, -4, 1}
	for i, name := range names {
		tt := float64(i) - 2.5
		raw := aTrue*nominal[name] + cTrue + c2True*tt
		ds.Add(rawAnalysis("S1", name, d47s[i], raw))
	}

	eng := NewEngine(ds, WithMethod(Pooled))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	s := ds.Sessions["S1"]
	assert.InDelta(t, aTrue, s.A, 1e-5)
	assert.InDelta(t, cTrue, s.C, 1e-5)
	assert.InDelta(t, c2True, s.C2, 1e-5)
	assert.Equal(t, 4, s.Np)
}

func TestPooledConstraints(t *testing.T) {
	ds := crunch.New(crunch.Mass47)
	nominal := ds.NominalD4x
	add := func(session string) {
		ds.Add(
			rawAnalysis(session, "ETH-1", 12, affine47(1.01, 0, -0.85, 12, nominal["ETH-1"])),
			rawAnalysis(session, "ETH-2", -8, affine47(1.01, 0, -0.85, -8, nominal["ETH-2"])),
			rawAnalysis(session, "ETH-3", 3, affine47(1.01, 0, -0.85, 3, nominal["ETH-3"])),
		)
	}
	add("S1")
	add("S2")

	t.Run("tie sessions together", func(t *testing.T) {
		eng := NewEngine(ds,
			WithMethod(Pooled),
			WithConstraints(map[string]Constraint{
				SessionParam("a", "S2"): EqualTo(SessionParam("a", "S1")),
			}),
		)
		_, err := eng.Standardize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ds.Sessions["S1"].A, ds.Sessions["S2"].A)
		assert.InDelta(t, 1.01, ds.Sessions["S2"].A, 1e-5)
	})

	t.Run("unknown parameter is rejected", func(t *testing.T) {
		eng := NewEngine(ds,
			WithMethod(Pooled),
			WithConstraints(map[string]Constraint{"a_NOPE": Fixed(1)}),
		)
		_, err := eng.Standardize(context.Background())
		var cErr *ConstraintError
		require.ErrorAs(t, err, &cErr)
	})

	t.Run("reference to constrained parameter is rejected", func(t *testing.T) {
		eng := NewEngine(ds,
			WithMethod(Pooled),
			WithConstraints(map[string]Constraint{
				SessionParam("b", "S1"): EqualTo(SessionParam("a2", "S1")),
			}),
		)
		_, err := eng.Standardize(context.Background())
		var cErr *ConstraintError
		require.ErrorAs(t, err, &cErr)
	})
}

func TestIndepSessionsRecovery(t *testing.T) {
	const (
		aTrue = 1.015
		bTrue = 0.002
		cTrue = -0.82
		dTrue = 0.8
	)

	ds := crunch.New(crunch.Mass47)
	nominal := ds.NominalD4x
	ds.Add(
		rawAnalysis("S1", "ETH-1", 10, affine47(aTrue, bTrue, cTrue, 10, nominal["ETH-1"])),
		rawAnalysis("S1", "ETH-2", -5, affine47(aTrue, bTrue, cTrue, -5, nominal["ETH-2"])),
		rawAnalysis("S1", "ETH-3", 2, affine47(aTrue, bTrue, cTrue, 2, nominal["ETH-3"])),
		rawAnalysis("S1", "ETH-1", 9, affine47(aTrue, bTrue, cTrue, 9, nominal["ETH-1"])),
		// Unknown replicates with a little scatter so the weighted
		// deviation stays non-degenerate.
		rawAnalysis("S1", "FOO", 1, affine47(aTrue, bTrue, cTrue, 1, dTrue+0.01)),
		rawAnalysis("S1", "FOO", 3, affine47(aTrue, bTrue, cTrue, 3, dTrue-0.01)),
	)

	eng := NewEngine(ds, WithMethod(IndepSessions))
	res, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	s := ds.Sessions["S1"]
	assert.InDelta(t, aTrue, s.A, 1e-9)
	assert.InDelta(t, bTrue, s.B, 1e-9)
	assert.InDelta(t, cTrue, s.C, 1e-9)
	assert.Equal(t, 3, s.Np)
	assert.Equal(t, 4, s.Na)
	assert.Equal(t, 2, s.Nu)

	foo := ds.Samples["FOO"]
	assert.InDelta(t, dTrue, foo.D4x, 1e-6)
	assert.Greater(t, foo.SED4x, 0.0)
	require.Contains(t, foo.SessionEstimates, "S1")
	assert.InDelta(t, 1.0, foo.SessionEstimates["S1"].Weight, 1e-12)

	// 6 analyses, 1 unknown, 3 session parameters.
	assert.Equal(t, 2, res.Nf)
	assert.Greater(t, eng.Repeatability.Sigma, 0.0)
	assert.Greater(t, s.SEA, 0.0)
}

func TestIndepSessionsInsufficientAnchors(t *testing.T) {
	ds := crunch.New(crunch.Mass47)
	ds.Add(
		rawAnalysis("S1", "ETH-1", 10, 0),
		rawAnalysis("S1", "ETH-2", -5, 0),
		rawAnalysis("S1", "FOO", 1, 0),
	)

	eng := NewEngine(ds, WithMethod(IndepSessions))
	_, err := eng.Standardize(context.Background())
	var dataErr *crunch.InsufficientDataError
	require.ErrorAs(t, err, &dataErr)
}

func TestPooledMass48(t *testing.T) {
	ds := crunch.New(crunch.Mass48)
	nominal := ds.NominalD4x

	add := func(sample string, d48, D48 float64) {
		ds.Add(&crunch.Analysis{
			Session: "S1", Sample: sample,
			Delta48: d48,
			D48Raw:  affine47(1.0, 0, -0.5, d48, D48),
		})
	}
	add("ETH-1", 5, nominal["ETH-1"])
	add("ETH-4", -3, nominal["ETH-4"])
	add("GU-1", 1, nominal["GU-1"])
	add("BAR", 2, 0.1)
	add("BAR", 4, 0.1)

	eng := NewEngine(ds, WithMethod(Pooled))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 1.0, ds.Sessions["S1"].A, 1e-5)
	assert.InDelta(t, 0.1, ds.Samples["BAR"].D4x, 1e-5)
}

func TestLevenePValueRange(t *testing.T) {
	a := []float64{0.1, 0.12, 0.09, 0.11, 0.1}
	b := []float64{0.1, 0.3, -0.1, 0.25, -0.05}
	p := levenePValue(a, b)
	assert.False(t, math.IsNaN(p))
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)

	// Wildly different spreads should look significant.
	assert.Less(t, p, 0.2)
}

func TestNoiselessThreeAnchorRecovery(t *testing.T) {
	// Anchors spanning the model exactly, raw values from a=1, b=0, c=-0.5.
	nominal := map[string]float64{"A0": 0.0, "A6": 0.6, "A3": 0.3}

	for _, tt := range []struct {
		method Method
		tol    float64
	}{
		{Pooled, 1e-6},
		{IndepSessions, 1e-9},
	} {
		t.Run(string(tt.method), func(t *testing.T) {
			ds := crunch.New(crunch.Mass47, crunch.WithNominalD4x(nominal))
			ds.Add(
				rawAnalysis("S1", "A0", 0, -0.5),
				rawAnalysis("S1", "A6", 5, 0.1),
				rawAnalysis("S1", "A3", -3, -0.2),
				rawAnalysis("S1", "FOO", 2, 0.3),
			)

			eng := NewEngine(ds, WithMethod(tt.method))
			res, err := eng.Standardize(context.Background())
			require.NoError(t, err)

			s := ds.Sessions["S1"]
			assert.InDelta(t, 1, s.A, tt.tol)
			assert.InDelta(t, 0, s.B, tt.tol)
			assert.InDelta(t, -0.5, s.C, tt.tol)

			assert.InDelta(t, 0.8, ds.Samples["FOO"].D4x, tt.tol)
			assert.Equal(t, 0, res.Nf)
			for _, r := range ds.Analyses {
				assert.InDelta(t, 0, r.D4xResidual, tt.tol)
			}
		})
	}
}

func TestWeightedSessionsMustPartitionSessions(t *testing.T) {
	groups := map[string][][]string{
		"uncovered session": {{"S1"}},
		"unknown session":   {{"S1", "S2"}, {"S3"}},
		"duplicate session": {{"S1", "S2"}, {"S2"}},
	}
	for name, ws := range groups {
		for _, method := range []Method{Pooled, IndepSessions} {
			t.Run(name+"/"+string(method), func(t *testing.T) {
				ds := noisyDataset(t)
				eng := NewEngine(ds, WithMethod(method), WithWeightedSessions(ws))
				_, err := eng.Standardize(context.Background())
				var cfgErr *crunch.ConfigError
				require.ErrorAs(t, err, &cfgErr)
			})
		}
	}
}

func TestWeightedSessionsCoveringAllSessions(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(Pooled),
		WithWeightedSessions([][]string{{"S1"}, {"S2"}}))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	// Every analysis enters the global fit with a finite positive weight.
	for _, r := range ds.Analyses {
		assert.Greater(t, r.WD4xRaw, 0.0)
	}
	assert.InDelta(t, 0.8, ds.Samples["FOO"].D4x, 0.05)
}
