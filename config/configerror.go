package config

import (
	"errors"
	"fmt"
	"log/slog"

	slogkit "github.com/italypaleale/serialqueue/slog"
)

// ConfigError is returned when the configuration can't be loaded or is not valid.
type ConfigError struct {
	// Key of the invalid field, in dot notation; empty if the error isn't about a single field
	Field string

	err error
	msg string
}

// NewConfigError returns a new ConfigError.
// The err argument can be a string or an error.
func NewConfigError(err any, msg string) *ConfigError {
	e := &ConfigError{msg: msg}
	switch x := err.(type) {
	case error:
		e.err = x
	case string:
		e.err = errors.New(x)
	case nil:
		e.err = errors.New("unknown error")
	default:
		// Indicates a development-time error
		panic("Invalid type for parameter 'err'")
	}
	return e
}

// NewFieldError returns a ConfigError for a field with an invalid value.
func NewFieldError(field string, format string, args ...any) *ConfigError {
	return &ConfigError{
		Field: field,
		err:   fmt.Errorf("invalid value for '%s': "+format, append([]any{field}, args...)...),
		msg:   "Invalid configuration",
	}
}

// Error implements the error interface
func (e ConfigError) Error() string {
	return e.msg + ": " + e.err.Error()
}

// Unwrap returns the cause
func (e ConfigError) Unwrap() error {
	return e.err
}

// LogFatal logs the error and terminates the process
func (e ConfigError) LogFatal(log *slog.Logger) {
	if e.Field != "" {
		log = log.With(slog.String("field", e.Field))
	}
	slogkit.FatalError(log, e.msg, e.err)
}
