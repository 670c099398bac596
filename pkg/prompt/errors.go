package prompt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies template problems. Every kind is recoverable.
type ErrorKind string

const (
	MissingVariable   ErrorKind = "missing_variable"
	InvalidExpression ErrorKind = "invalid_expression"
	ImportFailed      ErrorKind = "import_failed"
	MalformedBinding  ErrorKind = "malformed_binding"
)

// Error reports a problem met while rendering. The rendered text is still
// returned alongside it.
type Error struct {
	Kind ErrorKind
	Name string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case MissingVariable:
		return fmt.Sprintf("missing variable %q", e.Name)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
		}
		return fmt.Sprintf("%s %q", e.Kind, e.Name)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Warnings flattens a Render error into its individual template errors.
func Warnings(err error) []*Error {
	if err == nil {
		return nil
	}
	var out []*Error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Warnings(e)...)
		}
		return out
	}
	var te *Error
	if errors.As(err, &te) {
		out = append(out, te)
	}
	return out
}

// IsMissingVariable reports whether err contains a MissingVariable warning.
func IsMissingVariable(err error) bool {
	for _, w := range Warnings(err) {
		if w.Kind == MissingVariable {
			return true
		}
	}
	return false
}
