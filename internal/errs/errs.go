// Package errs provides the error taxonomy shared by the storage layers.
package errs

import (
	"errors"
	"strings"
)

// Kind identifies the stage an error belongs to.
type Kind string

const (
	// KindConfiguration indicates a missing or invalid storage location.
	KindConfiguration Kind = "configuration"
	// KindSchema indicates unreachable storage or a schema conflict during initialization.
	KindSchema Kind = "schema"
	// KindConnection indicates pool exhaustion or an engine failure while acquiring a session.
	KindConnection Kind = "connection"
)

// Sentinels for errors.Is matching on Kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrSchema        = errors.New("schema error")
	ErrConnection    = errors.New("connection error")
)

// E captures a categorized storage error.
type E struct {
	Kind    Kind
	Op      string
	Message string

	cause error
}

// Configuration constructs a configuration error.
func Configuration(op, message string, cause error) *E {
	return newE(KindConfiguration, op, message, cause)
}

// Schema constructs a schema error.
func Schema(op, message string, cause error) *E {
	return newE(KindSchema, op, message, cause)
}

// Connection constructs a connection error.
func Connection(op, message string, cause error) *E {
	return newE(KindConnection, op, message, cause)
}

func newE(kind Kind, op, message string, cause error) *E {
	return &E{
		Kind:    kind,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		cause:   cause,
	}
}

// Error implements the error interface.
func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause.
func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches the Kind sentinels.
func (e *E) Is(target error) bool {
	if e == nil {
		return false
	}
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindSchema:
		return ErrSchema
	case KindConnection:
		return ErrConnection
	default:
		return nil
	}
}

// KindOf returns the Kind of the outermost *E in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
