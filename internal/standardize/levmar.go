package standardize

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	lmMaxIter    = 200
	lmLambdaInit = 1e-3
	lmLambdaMax  = 1e12
	lmFdStep     = 1e-8
)

// lmResult is the outcome of a least-squares minimization.
type lmResult struct {
	Params []float64
	ChiSq  float64
	// Covar is the unscaled covariance (J'J)^-1 at the solution. Callers
	// scale it by the reduced chi-squared.
	Covar *mat.Dense
	Iters int
}

// leastSquares minimizes the sum of squared residuals of fn starting from
// p0 with a Levenberg-Marquardt iteration. fn writes its nRes residuals
// into dst and must not retain p. The Jacobian is evaluated by forward
// differences.
func leastSquares(fn func(p, dst []float64), p0 []float64, nRes int) (*lmResult, error) {
	nPar := len(p0)
	if nPar == 0 {
		return nil, Fitf("no free parameters to fit")
	}
	if nRes < nPar {
		return nil, Fitf("underdetermined fit: %d residuals for %d free parameters", nRes, nPar)
	}

	p := append([]float64(nil), p0...)
	r := make([]float64, nRes)
	rTrial := make([]float64, nRes)
	pTrial := make([]float64, nPar)
	jac := mat.NewDense(nRes, nPar, nil)

	fn(p, r)
	chisq := dot(r, r)

	normal := mat.NewSymDense(nPar, nil)
	grad := make([]float64, nPar)
	delta := mat.NewVecDense(nPar, nil)

	lambda := lmLambdaInit
	iters := 0
	for ; iters < lmMaxIter; iters++ {
		fillJacobian(fn, p, r, jac, rTrial, pTrial)

		// normal = J'J, grad = J'r
		for a := 0; a < nPar; a++ {
			for b := a; b < nPar; b++ {
				var s float64
				for i := 0; i < nRes; i++ {
					s += jac.At(i, a) * jac.At(i, b)
				}
				normal.SetSym(a, b, s)
			}
			var g float64
			for i := 0; i < nRes; i++ {
				g += jac.At(i, a) * r[i]
			}
			grad[a] = g
		}

		improved := false
		for lambda <= lmLambdaMax {
			damped := mat.NewSymDense(nPar, nil)
			damped.CopySym(normal)
			for a := 0; a < nPar; a++ {
				d := normal.At(a, a)
				damped.SetSym(a, a, d+lambda*(d+1e-12))
			}

			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			negGrad := mat.NewVecDense(nPar, nil)
			for a := 0; a < nPar; a++ {
				negGrad.SetVec(a, -grad[a])
			}
			if err := chol.SolveVecTo(delta, negGrad); err != nil {
				lambda *= 10
				continue
			}

			for a := 0; a < nPar; a++ {
				pTrial[a] = p[a] + delta.AtVec(a)
			}
			fn(pTrial, rTrial)
			trialChisq := dot(rTrial, rTrial)
			if trialChisq <= chisq {
				improvement := chisq - trialChisq
				copy(p, pTrial)
				copy(r, rTrial)
				chisq = trialChisq
				lambda = math.Max(lambda/3, 1e-12)
				improved = true
				if improvement <= 1e-14*(1+chisq) || maxAbs(delta) <= 1e-12 {
					iters++
					goto done
				}
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
done:

	// Unscaled covariance at the solution.
	fillJacobian(fn, p, r, jac, rTrial, pTrial)
	for a := 0; a < nPar; a++ {
		for b := a; b < nPar; b++ {
			var s float64
			for i := 0; i < nRes; i++ {
				s += jac.At(i, a) * jac.At(i, b)
			}
			normal.SetSym(a, b, s)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(normal) {
		return nil, Fitf("singular normal equations: some parameters are not constrained by the data")
	}
	inv := mat.NewSymDense(nPar, nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, Fitf("cannot invert normal equations: %v", err)
	}
	covar := mat.NewDense(nPar, nPar, nil)
	covar.Copy(inv)

	return &lmResult{Params: p, ChiSq: chisq, Covar: covar, Iters: iters}, nil
}

// fillJacobian evaluates the forward-difference Jacobian of fn at p, given
// the residuals r already evaluated there. scratchR and scratchP are reused
// across calls.
func fillJacobian(fn func(p, dst []float64), p, r []float64, jac *mat.Dense, scratchR, scratchP []float64) {
	nRes, nPar := jac.Dims()
	for j := 0; j < nPar; j++ {
		h := lmFdStep * (1 + math.Abs(p[j]))
		copy(scratchP, p)
		scratchP[j] += h
		fn(scratchP, scratchR)
		for i := 0; i < nRes; i++ {
			jac.Set(i, j, (scratchR[i]-r[i])/h)
		}
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func maxAbs(v *mat.VecDense) float64 {
	var m float64
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > m {
			m = a
		}
	}
	return m
}
