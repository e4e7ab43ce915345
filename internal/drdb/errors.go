package drdb

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownVersion is returned when a version has no backing snapshot.
	ErrUnknownVersion = errors.New("unknown database version")

	// ErrDataIntegrity matches every malformed-record failure.
	ErrDataIntegrity = errors.New("data integrity error")
)

// DataIntegrityError reports a record with a missing or malformed field.
type DataIntegrityError struct {
	Table  string
	Record string
	Field  string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	msg := fmt.Sprintf("%s: record %q: field %s", e.Table, e.Record, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

func (e *DataIntegrityError) Is(target error) bool { return target == ErrDataIntegrity }

// UnknownReferenceError reports a record naming an entity absent from the
// loaded snapshot.
type UnknownReferenceError struct {
	Kind   string // article, isolate, variant or antibody
	Name   string
	Record string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("record %q references unknown %s %q", e.Record, e.Kind, e.Name)
}

func (e *UnknownReferenceError) Is(target error) bool { return target == ErrDataIntegrity }
