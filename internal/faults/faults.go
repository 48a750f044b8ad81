package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a validation failure so transport layers can map it to a
// status code without parsing messages.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindInvalidInput         Kind = "invalid_input"
	KindDepthExceeded        Kind = "depth_exceeded"
	KindStructureViolation   Kind = "structure_violation"
	KindCycleDetected        Kind = "cycle_detected"
	KindCrossCourseViolation Kind = "cross_course_violation"
	KindInternal             Kind = "internal"
)

// Fault is a typed failure with a dotted operation code and a taxonomy kind.
// Validation faults are never persisted side effects; internal faults wrap
// unexpected persistence errors.
type Fault struct {
	kind Kind
	code string
	err  error
}

func (f *Fault) Error() string {
	if f.err == nil {
		return f.code
	}
	return fmt.Sprintf("%s: %v", f.code, f.err)
}

func (f *Fault) Unwrap() error {
	return f.err
}

// Kind returns the taxonomy classification.
func (f *Fault) Kind() Kind {
	return f.kind
}

// Code returns the dotted operation code, e.g. "sections.move.cycle_detected".
func (f *Fault) Code() string {
	return f.code
}

// New builds a Fault for the given operation and reason.
func New(kind Kind, operation, reason string, cause error) error {
	return &Fault{kind: kind, code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Internal wraps an unexpected persistence-layer failure. Callers must not
// expose the cause to clients.
func Internal(operation, reason string, cause error) error {
	return New(KindInternal, operation, reason, cause)
}

// KindOf extracts the taxonomy kind from err, or KindInternal when err is not
// a Fault.
func KindOf(err error) Kind {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Kind()
	}
	return KindInternal
}

// CodeOf extracts the dotted code from err, or an empty string.
func CodeOf(err error) string {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Code()
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
