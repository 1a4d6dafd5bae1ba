package standardize

import (
	"strings"

	"gonum.org/v1/gonum/mat"

	"clumpcli/internal/crunch"
)

// Constraint pins a model parameter to an affine combination of free
// parameters: value = Const + sum(Terms[name] * free[name]). A constraint
// with no terms fixes the parameter to Const.
type Constraint struct {
	Const float64
	Terms map[string]float64
}

// Fixed returns a constraint pinning a parameter to a constant value.
func Fixed(v float64) Constraint { return Constraint{Const: v} }

// EqualTo returns a constraint tying a parameter to another one.
func EqualTo(name string) Constraint {
	return Constraint{Terms: map[string]float64{name: 1}}
}

// sanitizeName maps session and sample identifiers onto parameter names,
// replacing characters that would be ambiguous in reports.
func sanitizeName(s string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(s)
}

// SessionParam names an instrumental parameter of a session; kind is one of
// a, b, c, a2, b2, c2.
func SessionParam(kind, session string) string {
	return kind + "_" + sanitizeName(session)
}

// SampleParam names the anomaly parameter of an unknown sample.
func SampleParam(m crunch.Mass, sample string) string {
	return "D" + m.String() + "_" + sanitizeName(sample)
}

var sessionParamKinds = [6]string{"a", "b", "c", "a2", "b2", "c2"}

// paramSpace maps the full model parameter vector onto the free parameter
// vector actually fitted, through the affine relation full = c0 + T*free.
type paramSpace struct {
	fullNames []string
	fullIndex map[string]int
	fullInit  []float64

	freeNames []string
	freeIndex map[string]int

	cons map[string]Constraint

	c0 []float64
	t  *mat.Dense // len(fullNames) x len(freeNames)
}

// newParamSpace lays out the full parameter vector (six instrumental
// parameters per sorted session, then one anomaly per sorted unknown) and
// resolves the constraint set. Inactive drift parameters are fixed to zero;
// user constraints are applied on top and may only reference free
// parameters.
func newParamSpace(ds *crunch.Dataset, userCons map[string]Constraint) (*paramSpace, error) {
	ps := &paramSpace{
		fullIndex: map[string]int{},
		freeIndex: map[string]int{},
		cons:      map[string]Constraint{},
	}

	addFull := func(name string, init float64) {
		ps.fullIndex[name] = len(ps.fullNames)
		ps.fullNames = append(ps.fullNames, name)
		ps.fullInit = append(ps.fullInit, init)
	}

	inits := [6]float64{0.9, 0, -0.9, 0, 0, 0}
	for _, session := range ds.SessionNames() {
		s := ds.Sessions[session]
		active := s.ActiveParams()
		for i, kind := range sessionParamKinds {
			name := SessionParam(kind, session)
			addFull(name, inits[i])
			if !active[i] {
				ps.cons[name] = Fixed(0)
			}
		}
	}
	for _, sample := range ds.UnknownNames() {
		addFull(SampleParam(ds.Mass, sample), 0.5)
	}

	for name, c := range userCons {
		if _, ok := ps.fullIndex[name]; !ok {
			return nil, &ConstraintError{Name: name, Msg: "no such model parameter"}
		}
		ps.cons[name] = c
	}

	for _, name := range ps.fullNames {
		if _, constrained := ps.cons[name]; constrained {
			continue
		}
		ps.freeIndex[name] = len(ps.freeNames)
		ps.freeNames = append(ps.freeNames, name)
	}

	ps.c0 = make([]float64, len(ps.fullNames))
	ps.t = mat.NewDense(len(ps.fullNames), len(ps.freeNames), nil)
	for i, name := range ps.fullNames {
		c, constrained := ps.cons[name]
		if !constrained {
			ps.t.Set(i, ps.freeIndex[name], 1)
			continue
		}
		ps.c0[i] = c.Const
		for ref, coef := range c.Terms {
			j, ok := ps.freeIndex[ref]
			if !ok {
				return nil, &ConstraintError{Name: name, Msg: "references non-free parameter " + ref}
			}
			ps.t.Set(i, j, coef)
		}
	}
	return ps, nil
}

// initFree returns the starting values of the free parameter vector.
func (ps *paramSpace) initFree() []float64 {
	p := make([]float64, len(ps.freeNames))
	for i, name := range ps.freeNames {
		p[i] = ps.fullInit[ps.fullIndex[name]]
	}
	return p
}

// expand evaluates the full parameter vector for the given free values.
func (ps *paramSpace) expand(free, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(ps.fullNames))
	}
	for i := range ps.fullNames {
		v := ps.c0[i]
		for j := range ps.freeNames {
			if c := ps.t.At(i, j); c != 0 {
				v += c * free[j]
			}
		}
		dst[i] = v
	}
	return dst
}

// fullCovar propagates the free-parameter covariance onto the full
// parameter vector: C_full = T * C_free * T'.
func (ps *paramSpace) fullCovar(freeCovar *mat.Dense) *mat.Dense {
	n := len(ps.fullNames)
	tmp := mat.NewDense(n, len(ps.freeNames), nil)
	tmp.Mul(ps.t, freeCovar)
	out := mat.NewDense(n, n, nil)
	out.Mul(tmp, ps.t.T())
	return out
}
