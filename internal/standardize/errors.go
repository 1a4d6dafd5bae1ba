package standardize

import "fmt"

// ConstraintError reports an invalid parameter constraint: an unknown target
// parameter, or a constraint expressed in terms of parameters that are not
// free.
type ConstraintError struct {
	Name string
	Msg  string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint on %q: %s", e.Name, e.Msg)
}

// FitError reports that the regression could not be solved, typically
// because the design matrix is singular or the iteration failed to converge.
type FitError struct {
	Msg string
}

func (e *FitError) Error() string { return e.Msg }

// Fitf builds a FitError from a format string.
func Fitf(format string, args ...any) *FitError {
	return &FitError{Msg: fmt.Sprintf(format, args...)}
}
