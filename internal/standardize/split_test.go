package standardize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestSplitUnsplitBySession(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(Pooled))

	require.NoError(t, eng.SplitSamples([]string{"FOO"}, GroupBySession))
	assert.ElementsMatch(t,
		[]string{"BAR", "FOO__S1", "FOO__S2"},
		ds.UnknownNames(),
	)

	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	fooS1 := ds.Samples["FOO__S1"].D4x
	fooS2 := ds.Samples["FOO__S2"].D4x
	seS1 := ds.Samples["FOO__S1"].SED4x
	seS2 := ds.Samples["FOO__S2"].SED4x
	assert.InDelta(t, 0.8, fooS1, 0.05)
	assert.InDelta(t, 0.8, fooS2, 0.05)

	// The merged estimate must reproduce a fresh inverse-variance weighted
	// average of the split estimates, with the error accounting for their
	// covariance in the joint fit.
	covS1S2, err := eng.Result().Covariance(
		SampleParam(ds.Mass, "FOO__S1"),
		SampleParam(ds.Mass, "FOO__S2"),
	)
	require.NoError(t, err)
	wantD4x, _ := WAvg([]float64{fooS1, fooS2}, []float64{seS1, seS2})
	wsum := 1/(seS1*seS1) + 1/(seS2*seS2)
	c := mat.NewDense(2, 2, []float64{
		seS1 * seS1, covS1S2,
		covS1S2, seS2 * seS2,
	})
	_, wantSE := CorrelatedSum([]float64{fooS1, fooS2}, c,
		[]float64{1 / (seS1 * seS1) / wsum, 1 / (seS2 * seS2) / wsum})

	require.NoError(t, eng.UnsplitSamples())

	assert.ElementsMatch(t, []string{"BAR", "FOO"}, ds.UnknownNames())
	foo := ds.Samples["FOO"]
	assert.InDelta(t, wantD4x, foo.D4x, 1e-12)
	assert.InDelta(t, wantSE, foo.SED4x, 1e-12)

	res := eng.Result()
	assert.True(t, res.Has(SampleParam(ds.Mass, "FOO")))
	assert.False(t, res.Has(SampleParam(ds.Mass, "FOO__S1")))

	for _, r := range ds.Analyses {
		if r.SampleOriginal == "FOO" {
			assert.Equal(t, "FOO", r.Sample)
			assert.NotEmpty(t, r.SampleSplit)
		}
	}
}

func TestSplitByUID(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(Pooled))

	require.NoError(t, eng.SplitSamples([]string{"BAR"}, GroupByUID))

	n := 0
	for _, name := range ds.UnknownNames() {
		if name != "FOO" {
			n++
		}
	}
	assert.Equal(t, 4, n) // four BAR analyses, one pseudo-sample each

	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)
	require.NoError(t, eng.UnsplitSamples())

	// Equal weighting of per-analysis estimates is a plain mean.
	assert.InDelta(t, 0.55, ds.Samples["BAR"].D4x, 0.05)
}

func TestSplitRejectsUnknownGrouping(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(Pooled))
	assert.Error(t, eng.SplitSamples(nil, Grouping("by_moon_phase")))
}

func TestUnsplitRequiresPooledFit(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(IndepSessions))
	require.NoError(t, eng.SplitSamples([]string{"FOO"}, GroupBySession))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)
	assert.Error(t, eng.UnsplitSamples())
}

func TestCombineSamples(t *testing.T) {
	ds := noisyDataset(t)
	eng := NewEngine(ds, WithMethod(Pooled))
	_, err := eng.Standardize(context.Background())
	require.NoError(t, err)

	groups, values, covar, err := eng.CombineSamples(map[string][]string{
		"combined": {"FOO", "BAR"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"combined"}, groups)
	require.Len(t, values, 1)

	// FOO and BAR have the same replicate count, so the group value is
	// their plain mean.
	mid := (ds.Samples["FOO"].D4x + ds.Samples["BAR"].D4x) / 2
	assert.InDelta(t, mid, values[0], 1e-9)
	assert.Greater(t, covar.At(0, 0), 0.0)

	t.Run("unknown member", func(t *testing.T) {
		_, _, _, err := eng.CombineSamples(map[string][]string{"g": {"NOPE"}})
		assert.Error(t, err)
	})
}
