// Package logging provides the component-tagged logger used throughout
// the task engine, HTTP surface, and background workers. It is a thin,
// nil-safe wrapper over observability.Logger so call sites never need to
// guard against a nil logger before calling a method on it.
package logging

import (
	"reflect"

	"github.com/taskcast/taskcast/internal/observability"
)

// Logger is the formatted, leveled logging contract used across the module.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// NewComponentLogger builds a logger tagged with component, logging at
// info level in text format to stderr. Binaries that need a different
// sink should build an *observability.Logger themselves and call
// FromObservabilityWithComponent.
func NewComponentLogger(component string) Logger {
	base := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	return base.WithComponent(component)
}

// NewLatencyLogger builds a component logger dedicated to latency/timing
// lines, kept as a distinct constructor so call sites read clearly even
// though it shares the component logger's implementation.
func NewLatencyLogger(component string) Logger {
	return NewComponentLogger(component)
}

// FromObservabilityWithComponent tags an existing base logger (as loaded
// from service configuration) with a component name.
func FromObservabilityWithComponent(base *observability.Logger, component string) Logger {
	return base.WithComponent(component)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// IsNil reports whether l is either the nil interface or a non-nil
// interface wrapping a nil pointer — the usual way a caller accidentally
// ends up holding an unusable logger.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// OrNop returns l if it is usable, otherwise a logger whose methods are
// safe no-ops.
func OrNop(l Logger) Logger {
	if IsNil(l) {
		return nopLogger{}
	}
	return l
}
