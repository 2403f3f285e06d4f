package appointment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrSlotConflict      = errors.New("slot conflict")
	ErrSlotAlreadyBooked = fmt.Errorf("%w: slot is already booked for this doctor", ErrSlotConflict)
	ErrSlotBeingBooked   = fmt.Errorf("%w: slot is currently being booked, please retry", ErrSlotConflict)

	ErrInvalidStatus           = errors.New("invalid status")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidQuery            = errors.New("invalid availability query")
)

// Returned by repositories when an insert hits a unique index.
var (
	ErrActiveSlotExists = errors.New("active appointment already exists for slot")
	ErrReferenceExists  = errors.New("reference id already exists")
)

// ValidationError carries one message per offending request field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PersistenceError wraps a storage failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
