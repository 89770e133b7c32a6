package config

import (
	"go.uber.org/multierr"
	"strings"
)

// FieldError describes one invalid or missing environment variable.
type FieldError struct {
	Var    string // Var is the environment variable name.
	Reason string // Reason explains what is wrong with it.
}

// Error renders "VAR reason".
func (e *FieldError) Error() string {
	return e.Var + " " + e.Reason
}

// ConfigurationError aggregates every violation found while loading.
type ConfigurationError struct {
	err error
}

// Error lists every violation on one line.
func (e *ConfigurationError) Error() string {
	msgs := make([]string, 0, len(e.Unwrap()))
	for _, err := range e.Unwrap() {
		msgs = append(msgs, err.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the individual violations to errors.Is and errors.As.
func (e *ConfigurationError) Unwrap() []error {
	return multierr.Errors(e.err)
}

// Vars lists the offending variable names in report order.
func (e *ConfigurationError) Vars() []string {
	var vars []string
	for _, err := range e.Unwrap() {
		if fe, ok := err.(*FieldError); ok {
			vars = append(vars, fe.Var)
		}
	}
	return vars
}
