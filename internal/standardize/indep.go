package standardize

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"clumpcli/internal/crunch"
)

// fitIndep standardizes each session independently through the normal
// equations of its anchor analyses, then rescales all uncertainties by the
// global root mean squared weighted deviation unless session weights were
// pre-fitted.
func (e *Engine) fitIndep(ctx context.Context) (*Result, error) {
	ds := e.ds

	if len(e.weightedSessions) > 0 {
		if err := e.checkWeightedSessions(); err != nil {
			return nil, err
		}
		for _, group := range e.weightedSessions {
			sub := e.subEngine(group)
			sub.ds.AssignTimestamps()
			if _, err := sub.fitIndep(ctx); err != nil {
				return nil, fmt.Errorf("weighted session group %v: %w", group, err)
			}
			e.logger.DebugContext(ctx, "weighted session group",
				"sessions", group, "wD4xraw", sub.ds.Analyses[0].WD4xRaw)
		}
	} else {
		for _, r := range ds.Analyses {
			r.WD4xRaw = 1
		}
	}

	for _, name := range ds.SessionNames() {
		if err := e.fitSession(ds.Sessions[name]); err != nil {
			return nil, err
		}
	}

	// The rescale needs at least one multi-replicate sample; without one the
	// observed scatter is undefined and the unit weights stand.
	if len(e.weightedSessions) == 0 {
		if w := e.rmswd(selAll, ds.SessionNames()).RMSWD; w > 0 {
			for _, r := range ds.Analyses {
				r.WD4x *= w
				r.WD4xRaw *= w
			}
			for _, name := range ds.SessionNames() {
				s := ds.Sessions[name]
				s.CM.Scale(w*w, s.CM)
			}
		}
	}

	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		s.SEA = math.Sqrt(s.CM.At(0, 0))
		s.SEB = math.Sqrt(s.CM.At(1, 1))
		s.SEC = math.Sqrt(s.CM.At(2, 2))
		s.SEA2 = math.Sqrt(s.CM.At(3, 3))
		s.SEB2 = math.Sqrt(s.CM.At(4, 4))
		s.SEC2 = math.Sqrt(s.CM.At(5, 5))
	}

	res := newResult(IndepSessions)
	if len(e.weightedSessions) == 0 {
		nf := len(ds.Analyses) - len(ds.UnknownNames())
		for _, name := range ds.SessionNames() {
			nf -= ds.Sessions[name].Np
		}
		res.Nf = nf
	} else {
		for _, group := range e.weightedSessions {
			res.Nf += e.rmswd(selAll, group).Nf
		}
	}
	if res.Nf > 0 {
		res.T95 = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(res.Nf)}.Quantile(0.975)
	}

	// Pooled within-sample deviation of the standardized anomalies.
	avg := map[string]float64{}
	for _, name := range ds.SampleNames() {
		var sum float64
		sdata := ds.Samples[name].Analyses
		for _, r := range sdata {
			sum += r.D4x
		}
		avg[name] = sum / float64(len(sdata))
	}
	var chisq float64
	for _, r := range ds.Analyses {
		d := r.D4x - avg[r.Sample]
		chisq += d * d
	}
	if res.Nf > 0 {
		e.Repeatability.Sigma = math.Sqrt(chisq / float64(res.Nf))
	}

	return res, nil
}

// fitSession solves one session's standardization on its anchors. The
// design has one column per active parameter; inactive drift columns are
// dropped and their covariance entries stay zero.
func (e *Engine) fitSession(s *crunch.Session) error {
	ds := e.ds
	active := s.ActiveParams()
	np := s.NumActiveParams()

	var rows [][]float64
	var ys []float64
	for _, r := range s.Analyses {
		nominal, ok := ds.NominalD4x[r.Sample]
		if !ok {
			continue
		}
		d := r.Delta(ds.Mass)
		w := r.WD4xRaw
		cols := [6]float64{nominal, d, 1, nominal * r.T, d * r.T, r.T}
		row := make([]float64, 0, np)
		for i, a := range active {
			if a {
				row = append(row, cols[i]/w)
			}
		}
		rows = append(rows, row)
		ys = append(ys, r.RawAnomaly(ds.Mass)/w)
	}
	s.Na = len(ys)
	if len(ys) < np {
		return &crunch.InsufficientDataError{
			Session: s.Name,
			Msg:     fmt.Sprintf("%d anchor analyses cannot constrain %d parameters", len(ys), np),
		}
	}

	a := mat.NewDense(len(rows), np, nil)
	for i, row := range rows {
		a.SetRow(i, row)
	}
	y := mat.NewVecDense(len(ys), ys)

	normal := mat.NewSymDense(np, nil)
	for i := 0; i < np; i++ {
		for j := i; j < np; j++ {
			var sum float64
			for k := 0; k < len(rows); k++ {
				sum += a.At(k, i) * a.At(k, j)
			}
			normal.SetSym(i, j, sum)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(normal) {
		return &crunch.InsufficientDataError{
			Session: s.Name,
			Msg:     "singular design matrix: anchors do not span the standardization model",
		}
	}
	cm := mat.NewSymDense(np, nil)
	if err := chol.InverseTo(cm); err != nil {
		return Fitf("session %q: cannot invert normal equations: %v", s.Name, err)
	}

	aty := mat.NewVecDense(np, nil)
	aty.MulVec(a.T(), y)
	bf := mat.NewVecDense(np, nil)
	bf.MulVec(cm, aty)

	var p [6]float64
	k := 0
	for i, act := range active {
		if act {
			p[i] = bf.AtVec(k)
			k++
		}
	}
	s.A, s.B, s.C, s.A2, s.B2, s.C2 = p[0], p[1], p[2], p[3], p[4], p[5]
	s.Np = np

	for _, r := range s.Analyses {
		d := r.Delta(ds.Mass)
		scale := s.Scaling(r.T)
		r.D4x = (r.RawAnomaly(ds.Mass) - s.C - s.B*d - s.C2*r.T - s.B2*r.T*d) / scale
		r.WD4x = r.WD4xRaw / scale
	}

	// Embed the active-parameter covariance into the canonical 6x6 layout.
	s.CM = mat.NewDense(6, 6, nil)
	var activeIdx []int
	for i, act := range active {
		if act {
			activeIdx = append(activeIdx, i)
		}
	}
	for i, gi := range activeIdx {
		for j, gj := range activeIdx {
			s.CM.Set(gi, gj, cm.At(i, j))
		}
	}
	return nil
}
