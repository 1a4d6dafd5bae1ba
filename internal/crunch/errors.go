package crunch

import "fmt"

// ConfigError reports an invalid or incomplete configuration detected
// before any fitting takes place. It is always fatal.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientDataError reports that a session does not carry enough
// linearly independent anchor analyses to estimate its parameters. It is
// fatal for the computation that required the data, never silently
// zero-filled.
type InsufficientDataError struct {
	Session string
	Msg     string
}

func (e *InsufficientDataError) Error() string {
	if e.Session == "" {
		return e.Msg
	}
	return fmt.Sprintf("session %q: %s", e.Session, e.Msg)
}
