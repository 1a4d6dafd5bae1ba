package crunch

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clumpcli/internal/isotopes"
	"clumpcli/internal/shared/testutil"
)

// synthFromRatios builds the working-gas-relative deltas an analysis with
// the given analyte isobar ratios would produce against the given working
// gas.
func synthFromRatios(p isotopes.Params, wg13, wg18, r13, r18 float64, an isotopes.Anomalies) (d45, d46, d47, d48, d49 float64) {
	r13wg := p.R13VPDB * (1 + wg13/1000)
	r18wg := p.R18VSMOW * (1 + wg18/1000)
	wg := p.ComputeIsobarRatios(r13wg, r18wg, isotopes.Anomalies{})
	s := p.ComputeIsobarRatios(r13, r18, an)
	return 1000 * (s.R45/wg.R45 - 1),
		1000 * (s.R46/wg.R46 - 1),
		1000 * (s.R47/wg.R47 - 1),
		1000 * (s.R48/wg.R48 - 1),
		1000 * (s.R49/wg.R49 - 1)
}

// synthAnalysis builds an analysis whose analyte has the given bulk
// composition (VPDB / VSMOW) and clumped anomalies.
func synthAnalysis(p isotopes.Params, sample string, wg13, wg18, d13C, d18O float64, an isotopes.Anomalies) *Analysis {
	r13 := p.R13VPDB * (1 + d13C/1000)
	r18 := p.R18VSMOW * (1 + d18O/1000)
	d45, d46, d47, d48, d49 := synthFromRatios(p, wg13, wg18, r13, r18, an)
	return &Analysis{
		Sample:  sample,
		D17O:    an.D17O,
		Delta45: d45,
		Delta46: d46,
		Delta47: d47,
		Delta48: d48,
		Delta49: d49,
	}
}

func TestCrunchRecoversBulkAndAnomalies(t *testing.T) {
	p := isotopes.DefaultParams()
	wg13, wg18 := -4.0, 26.0

	tests := []struct {
		name       string
		d13C, d18O float64
		an         isotopes.Anomalies
	}{
		{"stochastic", 2.02, 37.0, isotopes.Anomalies{}},
		{"clumped", -10.17, 19.1, isotopes.Anomalies{D47: 0.6, D48: 0.25, D49: 1.2}},
		{"with 17O anomaly", 1.71, 37.45, isotopes.Anomalies{D17O: -0.1, D47: 0.3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := New(Mass47, WithBulkMethods(BulkNone, BulkNone))
			ds.Add(synthAnalysis(p, "X", wg13, wg18, tt.d13C, tt.d18O, tt.an))
			require.NoError(t, ds.SetWorkingGas(DefaultSessionName, wg13, wg18))

			require.NoError(t, NewCruncher(ds, nil).Crunch(context.Background()))

			r := ds.Analyses[0]
			assert.InDelta(t, tt.d13C, r.D13CVPDB, 1e-6)
			assert.InDelta(t, tt.d18O, r.D18OVSMOW, 1e-6)
			assert.InDelta(t, tt.an.D47, r.D47Raw, 1e-4)
			assert.InDelta(t, tt.an.D48, r.D48Raw, 1e-4)
			assert.InDelta(t, tt.an.D49, r.D49Raw, 1e-4)
		})
	}
}

func TestCrunchWorkingGasResolution(t *testing.T) {
	p := isotopes.DefaultParams()

	t.Run("missing working gas fails", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(BulkNone, BulkNone))
		ds.Add(&Analysis{Sample: "X", Delta45: 0, Delta46: 0, Delta47: 0})

		err := NewCruncher(ds, nil).Crunch(context.Background())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("record working gas is adopted", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(BulkNone, BulkNone))
		a := synthAnalysis(p, "X", -4.0, 26.0, 2.0, 37.0, isotopes.Anomalies{})
		a.D13CwgVPDB = -4.0
		a.D18OwgVSMOW = 26.0
		a.WGFromRecord = true
		ds.Add(a)

		require.NoError(t, NewCruncher(ds, nil).Crunch(context.Background()))

		s := ds.Sessions[DefaultSessionName]
		assert.True(t, s.HasWG)
		assert.InDelta(t, -4.0, s.D13CwgVPDB, 1e-12)
		assert.InDelta(t, 2.0, ds.Analyses[0].D13CVPDB, 1e-6)
	})
}

func TestBulkStandardization(t *testing.T) {
	p := isotopes.DefaultParams()
	wg13, wg18 := -4.0, 26.0
	nominalD13C := DefaultNominalD13C()
	nominalD18O := DefaultNominalD18O()

	// Nominal carbonate d18O as the equivalent CO2 on the VSMOW scale.
	convert := func(y float64) float64 {
		return (1000+y)*p.R18VPDB*DefaultAcidAlpha/p.R18VSMOW - 1000
	}

	t.Run("2pt leaves exact standards unchanged", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(Bulk2pt, Bulk2pt))
		for _, name := range []string{"ETH-1", "ETH-2", "ETH-3"} {
			ds.Add(synthAnalysis(p, name, wg13, wg18,
				nominalD13C[name], convert(nominalD18O[name]), isotopes.Anomalies{}))
		}
		require.NoError(t, ds.SetWorkingGas(DefaultSessionName, wg13, wg18))

		require.NoError(t, NewCruncher(ds, nil).Crunch(context.Background()))

		for _, r := range ds.Analyses {
			assert.InDelta(t, nominalD13C[r.Sample], r.D13CVPDB, 1e-5)
			assert.InDelta(t, convert(nominalD18O[r.Sample]), r.D18OVSMOW, 1e-5)
		}
	})

	t.Run("1pt removes a constant offset", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(Bulk1pt, BulkNone))
		for _, name := range []string{"ETH-1", "ETH-2", "ETH-3"} {
			ds.Add(synthAnalysis(p, name, wg13, wg18,
				nominalD13C[name]+0.5, 37.0, isotopes.Anomalies{}))
		}
		require.NoError(t, ds.SetWorkingGas(DefaultSessionName, wg13, wg18))

		require.NoError(t, NewCruncher(ds, nil).Crunch(context.Background()))

		for _, r := range ds.Analyses {
			assert.InDelta(t, nominalD13C[r.Sample], r.D13CVPDB, 1e-5)
		}
	})

	t.Run("no standards fails", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(Bulk1pt, BulkNone))
		ds.Add(synthAnalysis(p, "UNK", wg13, wg18, 2.0, 37.0, isotopes.Anomalies{}))
		require.NoError(t, ds.SetWorkingGas(DefaultSessionName, wg13, wg18))

		err := NewCruncher(ds, nil).Crunch(context.Background())
		var dataErr *InsufficientDataError
		require.ErrorAs(t, err, &dataErr)
	})

	t.Run("2pt needs two standards", func(t *testing.T) {
		ds := New(Mass47, WithBulkMethods(Bulk2pt, BulkNone))
		ds.Add(synthAnalysis(p, "ETH-1", wg13, wg18, 2.02, 37.0, isotopes.Anomalies{}))
		require.NoError(t, ds.SetWorkingGas(DefaultSessionName, wg13, wg18))

		err := NewCruncher(ds, nil).Crunch(context.Background())
		var dataErr *InsufficientDataError
		require.ErrorAs(t, err, &dataErr)
	})
}

func TestInferWorkingGas(t *testing.T) {
	p := isotopes.DefaultParams()
	wg13, wg18 := -3.75, 25.1

	ds := New(Mass47, WithBulkMethods(BulkNone, BulkNone))
	for _, name := range []string{"ETH-1", "ETH-2", "ETH-3"} {
		// Standards carry their nominal carbonate composition, reacted
		// through the acid fractionation.
		r13 := p.R13VPDB * (1 + DefaultNominalD13C()[name]/1000)
		r18 := p.R18VPDB * (1 + DefaultNominalD18O()[name]/1000) * DefaultAcidAlpha
		d45, d46, d47, d48, d49 := synthFromRatios(p, wg13, wg18, r13, r18, isotopes.Anomalies{})
		ds.Add(&Analysis{
			Sample: name, Delta45: d45, Delta46: d46,
			Delta47: d47, Delta48: d48, Delta49: d49,
		})
	}

	c := NewCruncher(ds, nil)
	require.NoError(t, c.InferWorkingGas(context.Background()))

	s := ds.Sessions[DefaultSessionName]
	require.True(t, s.HasWG)
	assert.InDelta(t, wg13, s.D13CwgVPDB, 1e-4)
	assert.InDelta(t, wg18, s.D18OwgVSMOW, 1e-4)

	require.NoError(t, c.Crunch(context.Background()))
	for _, r := range ds.Analyses {
		assert.False(t, math.IsNaN(r.D47Raw))
		assert.InDelta(t, 0, r.D47Raw, 1e-3)
	}
}

func TestInferWorkingGasNoStandards(t *testing.T) {
	ds := New(Mass47, WithBulkNominals(map[string]float64{}, map[string]float64{}))
	ds.Add(&Analysis{Sample: "X"})

	err := NewCruncher(ds, nil).InferWorkingGas(context.Background())
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestCrunchLogging(t *testing.T) {
	p := isotopes.DefaultParams()
	logger, captured := testutil.NewTestLogger(t)

	ds := New(Mass47, WithLogger(logger), WithBulkMethods(BulkNone, BulkNone))
	ds.Add(synthAnalysis(p, "X", -4, 26, 1.5, 35, isotopes.Anomalies{D47: 0.4}))
	require.NoError(t, ds.SetWorkingGas(DefaultSessionName, -4, 26))

	require.NoError(t, NewCruncher(ds, logger).Crunch(context.Background()))

	assert.True(t, captured.ContainsMessage("crunched analyses"))
	assert.Empty(t, captured.RecordsAtLevel(slog.LevelWarn))
	testutil.AssertNoErrors(t, captured)
}
