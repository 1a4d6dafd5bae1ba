package standardize

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// pooledObs is one analysis prepared for the pooled regression: the full
// parameter indices of its session, its sample handle (nominal anomaly for
// anchors, full parameter index for unknowns) and the measured quantities.
type pooledObs struct {
	sessionIdx [6]int
	sampleIdx  int // -1 for anchors
	nominal    float64
	d4x        float64
	raw        float64
	t          float64
	w          float64
}

// fitPooled standardizes all sessions and unknowns in one regression. The
// model predicts each raw anomaly as (a + a2 t) D4x + (b + b2 t) d4x + c +
// c2 t, with the session parameters and the unknown anomalies fitted
// jointly.
func (e *Engine) fitPooled(ctx context.Context) (*Result, error) {
	ds := e.ds

	if len(e.weightedSessions) > 0 {
		if err := e.checkWeightedSessions(); err != nil {
			return nil, err
		}
		for _, group := range e.weightedSessions {
			sub := e.subEngine(group)
			sub.ds.AssignTimestamps()
			res, err := sub.fitPooled(ctx)
			if err != nil {
				return nil, fmt.Errorf("weighted session group %v: %w", group, err)
			}
			w := math.Sqrt(res.RedChi)
			for _, r := range sub.ds.Analyses {
				r.WD4xRaw *= w
			}
			e.logger.DebugContext(ctx, "weighted session group",
				"sessions", group, "rmswd", w)
		}
	} else {
		for _, r := range ds.Analyses {
			r.WD4xRaw = 1
		}
	}

	ps, err := newParamSpace(ds, e.constraints)
	if err != nil {
		return nil, err
	}

	obs := make([]pooledObs, 0, len(ds.Analyses))
	for _, r := range ds.Analyses {
		o := pooledObs{
			sampleIdx: -1,
			d4x:       r.Delta(ds.Mass),
			raw:       r.RawAnomaly(ds.Mass),
			t:         r.T,
			w:         r.WD4xRaw,
		}
		for i, kind := range sessionParamKinds {
			o.sessionIdx[i] = ps.fullIndex[SessionParam(kind, r.Session)]
		}
		if nominal, ok := ds.NominalD4x[r.Sample]; ok {
			o.nominal = nominal
		} else {
			o.sampleIdx = ps.fullIndex[SampleParam(ds.Mass, r.Sample)]
		}
		obs = append(obs, o)
	}

	full := make([]float64, len(ps.fullNames))
	residFn := func(p, dst []float64) {
		ps.expand(p, full)
		for i, o := range obs {
			x := o.nominal
			if o.sampleIdx >= 0 {
				x = full[o.sampleIdx]
			}
			pred := full[o.sessionIdx[0]]*x +
				full[o.sessionIdx[1]]*o.d4x +
				full[o.sessionIdx[2]] +
				o.t*(full[o.sessionIdx[3]]*x+
					full[o.sessionIdx[4]]*o.d4x+
					full[o.sessionIdx[5]])
			dst[i] = (o.raw - pred) / o.w
		}
	}

	lm, err := leastSquares(residFn, ps.initFree(), len(obs))
	if err != nil {
		return nil, fmt.Errorf("pooled standardization: %w", err)
	}

	res := newResult(Pooled)
	res.ChiSq = lm.ChiSq
	res.Nf = len(obs) - len(ps.freeNames)
	res.RedChi = 1
	if res.Nf > 0 {
		res.RedChi = lm.ChiSq / float64(res.Nf)
		res.T95 = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(res.Nf)}.Quantile(0.975)
	}

	freeCovar := mat.NewDense(len(ps.freeNames), len(ps.freeNames), nil)
	freeCovar.Scale(res.RedChi, lm.Covar)
	res.setParams(ps.fullNames, ps.expand(lm.Params, nil), ps.fullCovar(freeCovar))

	if err := e.applyPooled(res); err != nil {
		return nil, err
	}
	return res, nil
}

// applyPooled writes the fitted session parameters (with their 6x6
// covariance blocks) back onto the sessions, then inverts the model to
// obtain the absolute anomaly of every analysis.
func (e *Engine) applyPooled(res *Result) error {
	ds := e.ds
	for _, name := range ds.SessionNames() {
		s := ds.Sessions[name]
		var p [6]float64
		var idx [6]int
		for i, kind := range sessionParamKinds {
			pname := SessionParam(kind, name)
			v, err := res.Value(pname)
			if err != nil {
				return err
			}
			p[i] = v
			idx[i], _ = res.Index(pname)
		}
		s.A, s.B, s.C, s.A2, s.B2, s.C2 = p[0], p[1], p[2], p[3], p[4], p[5]

		cm := mat.NewDense(6, 6, nil)
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				cm.Set(i, j, res.Covar.At(idx[i], idx[j]))
			}
		}
		s.CM = cm
		s.SEA = math.Sqrt(cm.At(0, 0))
		s.SEB = math.Sqrt(cm.At(1, 1))
		s.SEC = math.Sqrt(cm.At(2, 2))
		s.SEA2 = math.Sqrt(cm.At(3, 3))
		s.SEB2 = math.Sqrt(cm.At(4, 4))
		s.SEC2 = math.Sqrt(cm.At(5, 5))
		s.Np = s.NumActiveParams()

		for _, r := range s.Analyses {
			d := r.Delta(ds.Mass)
			r.D4x = (r.RawAnomaly(ds.Mass) - s.C - s.B*d - s.C2*r.T - s.B2*r.T*d) / s.Scaling(r.T)
		}
	}
	return nil
}
