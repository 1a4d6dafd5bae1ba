package standardize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"clumpcli/internal/crunch"
)

// StandardizationError propagates a session's parameter covariance onto a
// single standardized anomaly at composition (d4x, D4x) and time t.
func StandardizationError(s *crunch.Session, d4x, D4x, t float64) float64 {
	scale := s.Scaling(t)
	x, y := D4x, d4x
	v := []float64{
		-x / scale,
		-y / scale,
		-1 / scale,
		-x * s.A2 / scale,
		-y * t / scale,
		-t / scale,
	}
	var sx2 float64
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			sx2 += v[i] * s.CM.At(i, j) * v[j]
		}
	}
	return math.Sqrt(sx2)
}

// WAvg computes the variance-weighted average of X given the standard
// errors sX, returning the average and its standard error.
func WAvg(x, sx []float64) (float64, float64) {
	var wsum float64
	w := make([]float64, len(x))
	for i, s := range sx {
		w[i] = 1 / (s * s)
		wsum += w[i]
	}
	var avg, varsum float64
	for i := range x {
		f := w[i] / wsum
		avg += f * x[i]
		varsum += f * f * sx[i] * sx[i]
	}
	return avg, math.Sqrt(varsum)
}

// CorrelatedSum computes w'x and its standard error sqrt(w'Cw), accounting
// for covariances between the elements of x. Nil weights mean unit weights.
func CorrelatedSum(x []float64, c mat.Matrix, w []float64) (float64, float64) {
	if w == nil {
		w = make([]float64, len(x))
		for i := range w {
			w[i] = 1
		}
	}
	var sum, variance float64
	for i := range x {
		sum += w[i] * x[i]
		for j := range x {
			variance += w[i] * c.At(i, j) * w[j]
		}
	}
	return sum, math.Sqrt(variance)
}

// SampleCovar returns the error covariance between the average anomalies of
// two samples; with equal arguments it is that sample's error variance.
func (e *Engine) SampleCovar(sample1, sample2 string) (float64, error) {
	if e.result == nil {
		return 0, fmt.Errorf("dataset is not standardized")
	}
	ds := e.ds

	switch e.result.Method {
	case Pooled:
		return e.result.Covariance(
			SampleParam(ds.Mass, sample1),
			SampleParam(ds.Mass, sample2),
		)

	case IndepSessions:
		smp1, ok := ds.Samples[sample1]
		if !ok {
			return 0, fmt.Errorf("unknown sample %q", sample1)
		}
		if sample1 == sample2 {
			return smp1.SED4x * smp1.SED4x, nil
		}
		smp2, ok := ds.Samples[sample2]
		if !ok {
			return 0, fmt.Errorf("unknown sample %q", sample2)
		}

		// Session parameter errors are shared between samples measured in
		// the same session, which correlates their standardized anomalies.
		var c float64
		for _, name := range ds.SessionNames() {
			est1, ok1 := smp1.SessionEstimates[name]
			est2, ok2 := smp2.SessionEstimates[name]
			if !ok1 || !ok2 {
				continue
			}
			s := ds.Sessions[name]
			avgD1, avgd1 := sessionAverages(s, sample1, ds.Mass)
			avgD2, avgd2 := sessionAverages(s, sample2, ds.Mass)
			v1 := [3]float64{avgD1, avgd1, 1}
			v2 := [3]float64{avgD2, avgd2, 1}
			var q float64
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					q += v1[i] * s.CM.At(i, j) * v2[j]
				}
			}
			c += est1.Weight * est2.Weight * q / (s.A * s.A)
		}
		return c, nil
	}
	return 0, fmt.Errorf("unknown standardization method %q", e.result.Method)
}

// SampleCorrel returns the error correlation between the average anomalies
// of two samples.
func (e *Engine) SampleCorrel(sample1, sample2 string) (float64, error) {
	if sample1 == sample2 {
		return 1, nil
	}
	covar, err := e.SampleCovar(sample1, sample2)
	if err != nil {
		return 0, err
	}
	se1 := e.ds.Samples[sample1].SED4x
	se2 := e.ds.Samples[sample2].SED4x
	return covar / se1 / se2, nil
}

// SampleAverage computes a covariance-aware weighted combination of sample
// anomalies. Nil weights mean equal weights; when normalize is true the
// weights are rescaled to sum to one.
func (e *Engine) SampleAverage(samples []string, weights []float64, normalize bool) (float64, float64, error) {
	if weights == nil {
		weights = make([]float64, len(samples))
		for i := range weights {
			weights[i] = 1 / float64(len(samples))
		}
	}
	if len(weights) != len(samples) {
		return 0, 0, fmt.Errorf("got %d weights for %d samples", len(weights), len(samples))
	}
	if normalize {
		var sum float64
		for _, w := range weights {
			sum += w
		}
		if sum != 0 {
			scaled := make([]float64, len(weights))
			for i, w := range weights {
				scaled[i] = w / sum
			}
			weights = scaled
		}
	}

	n := len(samples)
	x := make([]float64, n)
	c := mat.NewDense(n, n, nil)
	for i, s := range samples {
		smp, ok := e.ds.Samples[s]
		if !ok {
			return 0, 0, fmt.Errorf("unknown sample %q", s)
		}
		x[i] = smp.D4x
		for j, s2 := range samples {
			cov, err := e.SampleCovar(s, s2)
			if err != nil {
				return 0, 0, err
			}
			c.Set(i, j, cov)
		}
	}
	avg, se := CorrelatedSum(x, c, weights)
	return avg, se, nil
}

// sessionAverages returns the mean standardized anomaly and mean raw delta
// of a sample within a session.
func sessionAverages(s *crunch.Session, sample string, m crunch.Mass) (avgD4x, avgd4x float64) {
	var n float64
	for _, r := range s.Analyses {
		if r.Sample != sample {
			continue
		}
		avgD4x += r.D4x
		avgd4x += r.Delta(m)
		n++
	}
	if n > 0 {
		avgD4x /= n
		avgd4x /= n
	}
	return avgD4x, avgd4x
}
