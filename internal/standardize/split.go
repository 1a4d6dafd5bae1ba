package standardize

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Grouping selects how analyses of a split sample are regrouped into
// pseudo-samples.
type Grouping string

const (
	// GroupBySession treats analyses of a sample in different sessions as
	// different samples.
	GroupBySession Grouping = "by_session"
	// GroupByUID treats every analysis as its own sample.
	GroupByUID Grouping = "by_uid"
)

// SplitSamples renames the analyses of the given unknown samples (all
// unknowns when nil) into per-session or per-analysis pseudo-samples, so a
// subsequent pooled standardization fits each group independently. The
// original names are retained for UnsplitSamples.
func (e *Engine) SplitSamples(samplesToSplit []string, grouping Grouping) error {
	ds := e.ds
	if grouping != GroupBySession && grouping != GroupByUID {
		return fmt.Errorf("unknown grouping %q", grouping)
	}
	if samplesToSplit == nil {
		samplesToSplit = ds.UnknownNames()
	}
	split := map[string]bool{}
	for _, s := range samplesToSplit {
		split[s] = true
	}
	e.grouping = grouping

	for _, r := range ds.Analyses {
		switch {
		case split[r.Sample]:
			r.SampleOriginal = r.Sample
			if grouping == GroupByUID {
				r.Sample = r.Sample + "__" + r.UID
			} else {
				r.Sample = r.Sample + "__" + r.Session
			}
		case !ds.IsAnchor(r.Sample):
			r.SampleOriginal = r.Sample
		}
	}
	ds.Refresh()
	return nil
}

// UnsplitSamples reverses SplitSamples after a pooled standardization: the
// split anomaly estimates are merged back into per-sample values through a
// linear projection of the parameter vector, which also maps the model
// covariance exactly. Splits are weighted by inverse error variance when
// grouped by session and equally when grouped by analysis.
func (e *Engine) UnsplitSamples() error {
	ds := e.ds
	if e.result == nil || e.result.Method != Pooled {
		return fmt.Errorf("unsplit requires a pooled standardization")
	}
	res := e.result

	oldUnknowns := ds.UnknownNames()
	nOld := len(res.Names)
	ns := nOld - len(oldUnknowns)

	merged := map[string]bool{}
	for _, r := range ds.Analyses {
		if r.SampleOriginal != "" {
			merged[r.SampleOriginal] = true
		}
	}
	newUnknowns := make([]string, 0, len(merged))
	for name := range merged {
		newUnknowns = append(newUnknowns, name)
	}
	sort.Strings(newUnknowns)

	newNames := append([]string(nil), res.Names[:ns]...)
	for _, u := range newUnknowns {
		newNames = append(newNames, SampleParam(ds.Mass, u))
	}

	// Projection from the split parameter vector onto the merged one.
	w := mat.NewDense(len(newNames), nOld, nil)
	for i := 0; i < ns; i++ {
		w.Set(i, i, 1)
	}
	for _, u := range newUnknowns {
		splits := map[string]bool{}
		for _, r := range ds.Analyses {
			if r.SampleOriginal == u {
				splits[r.Sample] = true
			}
		}
		splitNames := make([]string, 0, len(splits))
		for s := range splits {
			splitNames = append(splitNames, s)
		}
		sort.Strings(splitNames)

		weights := make([]float64, len(splitNames))
		var wsum float64
		for k, s := range splitNames {
			if e.grouping == GroupBySession {
				se := ds.Samples[s].SED4x
				weights[k] = 1 / (se * se)
			} else {
				weights[k] = 1
			}
			wsum += weights[k]
		}

		row, _ := findName(newNames, SampleParam(ds.Mass, u))
		for k, s := range splitNames {
			col, ok := res.Index(SampleParam(ds.Mass, s))
			if !ok {
				return fmt.Errorf("split sample %q has no fitted parameter", s)
			}
			w.Set(row, col, weights[k]/wsum)
		}
	}

	newValues := make([]float64, len(newNames))
	for i := range newNames {
		var v float64
		for j := 0; j < nOld; j++ {
			if c := w.At(i, j); c != 0 {
				v += c * res.Values[j]
			}
		}
		newValues[i] = v
	}
	tmp := mat.NewDense(len(newNames), nOld, nil)
	tmp.Mul(w, res.Covar)
	newCovar := mat.NewDense(len(newNames), len(newNames), nil)
	newCovar.Mul(tmp, w.T())

	res.setParams(newNames, newValues, newCovar)

	for _, r := range ds.Analyses {
		if r.SampleOriginal != "" {
			r.SampleSplit = r.Sample
			r.Sample = r.SampleOriginal
		}
	}
	ds.Refresh()

	if err := e.consolidateSamples(); err != nil {
		return err
	}
	e.computeRepeatabilities()
	return nil
}

// CombineSamples merges standardized samples into named groups, weighting
// each sample by its number of replicates, and returns the sorted group
// names with their combined anomalies and covariance.
func (e *Engine) CombineSamples(groups map[string][]string) ([]string, []float64, *mat.Dense, error) {
	ds := e.ds
	if e.result == nil {
		return nil, nil, nil, fmt.Errorf("dataset is not standardized")
	}

	groupNames := make([]string, 0, len(groups))
	for name := range groups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	var samples []string
	groupOf := map[string]string{}
	totals := map[string]float64{}
	for _, g := range groupNames {
		members := append([]string(nil), groups[g]...)
		sort.Strings(members)
		for _, s := range members {
			smp, ok := ds.Samples[s]
			if !ok {
				return nil, nil, nil, fmt.Errorf("unknown sample %q in group %q", s, g)
			}
			samples = append(samples, s)
			groupOf[s] = g
			totals[g] += float64(smp.N)
		}
	}

	old := make([]float64, len(samples))
	cmOld := mat.NewDense(len(samples), len(samples), nil)
	for i, s1 := range samples {
		old[i] = ds.Samples[s1].D4x
		for j, s2 := range samples {
			cov, err := e.SampleCovar(s1, s2)
			if err != nil {
				return nil, nil, nil, err
			}
			cmOld.Set(i, j, cov)
		}
	}

	w := mat.NewDense(len(groupNames), len(samples), nil)
	for j, g := range groupNames {
		for i, s := range samples {
			if groupOf[s] == g {
				w.Set(j, i, float64(ds.Samples[s].N)/totals[g])
			}
		}
	}

	combined := make([]float64, len(groupNames))
	for j := range groupNames {
		var v float64
		for i := range samples {
			v += w.At(j, i) * old[i]
		}
		combined[j] = v
	}
	tmp := mat.NewDense(len(groupNames), len(samples), nil)
	tmp.Mul(w, cmOld)
	cmNew := mat.NewDense(len(groupNames), len(groupNames), nil)
	cmNew.Mul(tmp, w.T())

	return groupNames, combined, cmNew, nil
}

func findName(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
