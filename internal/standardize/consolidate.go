package standardize

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"clumpcli/internal/crunch"
)

type sampleSel int

const (
	selAll sampleSel = iota
	selAnchors
	selUnknowns
)

type valueKey int

const (
	keyD13C valueKey = iota
	keyD18O
	keyD4x
)

// Consolidate compiles sample statistics, session statistics and analytical
// repeatabilities after a standardization fit.
func (e *Engine) Consolidate(ctx context.Context) error {
	if err := e.consolidateSamples(); err != nil {
		return err
	}
	e.consolidateSessions()
	e.computeRepeatabilities()
	e.logger.DebugContext(ctx, "consolidated statistics",
		"samples", len(e.ds.SampleNames()),
		"sessions", len(e.ds.SessionNames()),
	)
	return nil
}

func (e *Engine) consolidateSamples() error {
	ds := e.ds

	var refPop []float64
	if ref, ok := ds.Samples[ds.LeveneRef]; ok {
		for _, r := range ref.Analyses {
			refPop = append(refPop, r.D4x)
		}
	}

	for _, name := range ds.SampleNames() {
		smp := ds.Samples[name]
		smp.N = len(smp.Analyses)

		pop := make([]float64, 0, smp.N)
		var sum13, sum18 float64
		for _, r := range smp.Analyses {
			pop = append(pop, r.D4x)
			sum13 += r.D13CVPDB
			sum18 += r.D18OVSMOW
		}
		smp.D13CVPDB = sum13 / float64(smp.N)
		smp.D18OVSMOW = sum18 / float64(smp.N)
		smp.SD = math.NaN()
		if smp.N > 1 {
			smp.SD = stat.StdDev(pop, nil)
		}
		smp.PLevene = math.NaN()
		if smp.N > 2 && len(refPop) > 0 {
			smp.PLevene = levenePValue(refPop, pop)
		}
	}

	switch e.result.Method {
	case Pooled:
		for _, name := range ds.AnchorNames() {
			smp := ds.Samples[name]
			smp.D4x = smp.Nominal
			smp.SED4x = 0
		}
		for _, name := range ds.UnknownNames() {
			smp := ds.Samples[name]
			v, err := e.result.Value(SampleParam(ds.Mass, name))
			if err != nil {
				return err
			}
			smp.D4x = v
			covar, err := e.SampleCovar(name, name)
			if err != nil {
				return err
			}
			smp.SED4x = math.Sqrt(covar)
		}

	case IndepSessions:
		for _, name := range ds.AnchorNames() {
			smp := ds.Samples[name]
			smp.D4x = smp.Nominal
			smp.SED4x = 0
		}
		for _, name := range ds.UnknownNames() {
			smp := ds.Samples[name]
			smp.SessionEstimates = map[string]*crunch.SessionEstimate{}
			var vals, ses []float64
			var sessions []string
			for _, session := range ds.SessionNames() {
				s := ds.Sessions[session]
				var n int
				var wraw float64
				for _, r := range s.Analyses {
					if r.Sample == name {
						if n == 0 {
							wraw = r.WD4xRaw
						}
						n++
					}
				}
				if n == 0 {
					continue
				}
				avgD4x, avgd4x := sessionAverages(s, name, ds.Mass)
				sigmaS := StandardizationError(s, avgd4x, avgD4x, 0)
				sigmaU := wraw / s.A / math.Sqrt(float64(n))
				se := math.Sqrt(sigmaU*sigmaU + sigmaS*sigmaS)
				smp.SessionEstimates[session] = &crunch.SessionEstimate{D4x: avgD4x, SE: se}
				vals = append(vals, avgD4x)
				ses = append(ses, se)
				sessions = append(sessions, session)
			}
			smp.D4x, smp.SED4x = WAvg(vals, ses)

			var wsum float64
			for _, se := range ses {
				wsum += 1 / (se * se)
			}
			for i, session := range sessions {
				smp.SessionEstimates[session].Weight = 1 / (ses[i] * ses[i]) / wsum
			}
		}
	}

	for _, r := range ds.Analyses {
		r.D4xResidual = r.D4x - ds.Samples[r.Sample].D4x
	}
	return nil
}

func (e *Engine) consolidateSessions() {
	ds := e.ds
	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		s.Na, s.Nu = 0, 0
		for _, r := range s.Analyses {
			if ds.IsAnchor(r.Sample) {
				s.Na++
			} else {
				s.Nu++
			}
		}
		s.Rd13C = e.computeR(keyD13C, selAnchors, []string{name})
		s.Rd18O = e.computeR(keyD18O, selAnchors, []string{name})
		s.RD4x = e.computeR(keyD4x, selAll, []string{name})

		if e.result.Method == Pooled {
			var sum float64
			for _, r := range s.Analyses {
				sum += r.D4xResidual * r.D4xResidual
			}
			s.RD4x = math.Sqrt(sum / float64(len(s.Analyses)))
		}
	}
}

func (e *Engine) computeRepeatabilities() {
	all := e.ds.SessionNames()
	e.Repeatability.Rd13C = e.computeR(keyD13C, selAnchors, all)
	e.Repeatability.Rd18O = e.computeR(keyD18O, selAnchors, all)
	e.Repeatability.RD4xAnchors = e.computeR(keyD4x, selAnchors, all)
	e.Repeatability.RD4xUnknowns = e.computeR(keyD4x, selUnknowns, all)
	e.Repeatability.RD4x = e.computeR(keyD4x, selAll, all)
}

func (e *Engine) selectSamples(sel sampleSel) []string {
	switch sel {
	case selAnchors:
		return e.ds.AnchorNames()
	case selUnknowns:
		return e.ds.UnknownNames()
	}
	return e.ds.SampleNames()
}

// computeR estimates the analytical repeatability of one quantity over the
// selected samples and sessions. For the clumped anomaly the degrees of
// freedom account for the fitted unknowns and, per session, for as many
// session parameters as its distinct anchors can constrain; for bulk
// isotopes it is a plain pooled standard deviation.
func (e *Engine) computeR(key valueKey, sel sampleSel, sessions []string) float64 {
	ds := e.ds
	inSession := map[string]bool{}
	for _, s := range sessions {
		inSession[s] = true
	}
	samples := e.selectSamples(sel)
	inSample := map[string]bool{}
	for _, s := range samples {
		inSample[s] = true
	}

	if key == keyD4x {
		var chisq float64
		var n int
		for _, r := range ds.Analyses {
			if inSample[r.Sample] && inSession[r.Session] {
				chisq += r.D4xResidual * r.D4xResidual
				n++
			}
		}
		nf := n
		for _, name := range samples {
			if !ds.IsAnchor(name) {
				nf--
			}
		}
		for _, session := range sessions {
			s := ds.Sessions[session]
			distinct := map[string]bool{}
			for _, r := range s.Analyses {
				if ds.IsAnchor(r.Sample) && inSample[r.Sample] {
					distinct[r.Sample] = true
				}
			}
			nf -= min(s.Np, len(distinct))
		}
		if nf <= 0 {
			return 0
		}
		return math.Sqrt(chisq / float64(nf))
	}

	value := func(r *crunch.Analysis) float64 {
		if key == keyD13C {
			return r.D13CVPDB
		}
		return r.D18OVSMOW
	}
	var chisq float64
	var nf int
	for _, name := range samples {
		var xs []float64
		for _, r := range ds.Samples[name].Analyses {
			if inSession[r.Session] {
				xs = append(xs, value(r))
			}
		}
		if len(xs) > 1 {
			m := stat.Mean(xs, nil)
			for _, x := range xs {
				chisq += (x - m) * (x - m)
			}
			nf += len(xs) - 1
		}
	}
	if nf <= 0 {
		return 0
	}
	return math.Sqrt(chisq / float64(nf))
}

// rmswdResult holds the root mean squared weighted deviation of the
// standardized anomalies and its degrees of freedom.
type rmswdResult struct {
	RMSWD float64
	ChiSq float64
	Nf    int
}

func (e *Engine) rmswd(sel sampleSel, sessions []string) rmswdResult {
	ds := e.ds
	inSession := map[string]bool{}
	for _, s := range sessions {
		inSession[s] = true
	}

	var out rmswdResult
	for _, name := range e.selectSamples(sel) {
		var vals, ws []float64
		for _, r := range ds.Samples[name].Analyses {
			if inSession[r.Session] {
				vals = append(vals, r.D4x)
				ws = append(ws, r.WD4x)
			}
		}
		if len(vals) < 2 {
			continue
		}
		avg, _ := WAvg(vals, ws)
		out.Nf += len(vals) - 1
		for i, v := range vals {
			d := (v - avg) / ws[i]
			out.ChiSq += d * d
		}
	}
	if out.Nf > 0 {
		out.RMSWD = math.Sqrt(out.ChiSq / float64(out.Nf))
	}
	return out
}

// levenePValue runs a two-group median-centered Levene test of equal
// variance and returns the p-value, NaN when the test is degenerate.
func levenePValue(a, b []float64) float64 {
	za := absDevFromMedian(a)
	zb := absDevFromMedian(b)
	na, nb := float64(len(za)), float64(len(zb))
	n := na + nb

	mza := stat.Mean(za, nil)
	mzb := stat.Mean(zb, nil)
	mz := (na*mza + nb*mzb) / n

	num := (n - 2) * (na*(mza-mz)*(mza-mz) + nb*(mzb-mz)*(mzb-mz))
	var den float64
	for _, z := range za {
		den += (z - mza) * (z - mza)
	}
	for _, z := range zb {
		den += (z - mzb) * (z - mzb)
	}
	if den == 0 {
		return math.NaN()
	}
	w := num / den
	f := distuv.F{D1: 1, D2: n - 2}
	return 1 - f.CDF(w)
}

func absDevFromMedian(x []float64) []float64 {
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	var med float64
	n := len(sorted)
	if n%2 == 1 {
		med = sorted[n/2]
	} else {
		med = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Abs(v - med)
	}
	return out
}
