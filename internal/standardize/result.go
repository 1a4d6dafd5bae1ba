package standardize

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Method selects how sessions are standardized.
type Method string

const (
	// Pooled fits all sessions and all unknown anomalies in a single
	// regression, assuming samples are homogeneous across sessions.
	Pooled Method = "pooled"
	// IndepSessions fits each session independently on its anchors only,
	// then averages per-session estimates of each unknown.
	IndepSessions Method = "indep_sessions"
)

// Result is the outcome of a standardization run. Under the pooled method
// it carries the full model parameter vector and its covariance; under
// independent sessions the parameter state lives on the sessions themselves
// and only the fit statistics are recorded here.
type Result struct {
	ID     uuid.UUID
	Method Method

	Names  []string
	Values []float64
	Covar  *mat.Dense
	index  map[string]int

	ChiSq  float64
	RedChi float64
	Nf     int
	T95    float64
}

func newResult(method Method) *Result {
	return &Result{
		ID:     uuid.New(),
		Method: method,
		T95:    math.NaN(),
	}
}

// setParams installs the parameter vector and covariance.
func (r *Result) setParams(names []string, values []float64, covar *mat.Dense) {
	r.Names = names
	r.Values = values
	r.Covar = covar
	r.index = make(map[string]int, len(names))
	for i, n := range names {
		r.index[n] = i
	}
}

// Index returns the position of the named parameter in Names.
func (r *Result) Index(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

// Has reports whether the named parameter is part of the model.
func (r *Result) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Value returns the fitted value of the named parameter.
func (r *Result) Value(name string) (float64, error) {
	i, ok := r.index[name]
	if !ok {
		return 0, fmt.Errorf("no parameter %q in standardization result", name)
	}
	return r.Values[i], nil
}

// Covariance returns the error covariance between two parameters.
func (r *Result) Covariance(a, b string) (float64, error) {
	i, ok := r.index[a]
	if !ok {
		return 0, fmt.Errorf("no parameter %q in standardization result", a)
	}
	j, ok := r.index[b]
	if !ok {
		return 0, fmt.Errorf("no parameter %q in standardization result", b)
	}
	return r.Covar.At(i, j), nil
}

// SE returns the standard error of the named parameter, or NaN when the
// parameter is not part of the model.
func (r *Result) SE(name string) float64 {
	i, ok := r.index[name]
	if !ok {
		return math.NaN()
	}
	return math.Sqrt(r.Covar.At(i, i))
}
