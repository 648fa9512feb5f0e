// Package ferr attaches a stable category code to an error for metrics
// labeling, per spec.md §7's error taxonomy (Framing, Table, Sequence,
// Transport, Fatal). Flow control stays plain Go error return values;
// Wrap is reached for only where a caller needs to report which
// category an error belongs to, not to change how it's handled.
//
// Grounded on nabbar/golib/errors, which attaches a CodeError and a
// registered message to every sentinel, cut
// down to the one piece this module's error handling design actually
// needs: a code plus optional structured fields, no message registry.
package ferr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable error category for metrics labeling (spec.md §7).
type Kind string

const (
	Framing   Kind = "framing"
	Table     Kind = "table"
	Sequence  Kind = "sequence"
	Transport Kind = "transport"
	Fatal     Kind = "fatal"
)

// Field is one piece of structured context attached to a wrapped error.
type Field struct {
	Key   string
	Value any
}

// F builds a Field, for call sites that want `ferr.Wrap(k, err, ferr.F("symbol", sym))`.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Error is a plain error decorated with a Kind and optional fields. It
// unwraps to the original error so errors.Is/errors.As keep working
// against whatever sentinel the caller wrapped.
type Error struct {
	Kind   Kind
	Err    error
	Fields []Field
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	for _, f := range e.Fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap attaches kind and fields to err. Wrap(kind, nil) returns nil, so
// callers can write `return ferr.Wrap(ferr.Table, lookupErr)` without a
// separate nil check.
func Wrap(kind Kind, err error, fields ...Field) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err, Fields: fields}
}

// KindOf reports the Kind attached to err, if any, by walking its
// Unwrap chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}
