package publish

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation rejects a malformed request before any job exists.
	ErrValidation = errors.New("validation failed")
	// ErrConflict rejects a request that would start a second in-flight job
	// for the same submission and platform.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState rejects an operation the job's status does not allow.
	ErrInvalidState = errors.New("invalid job state")
	ErrNotFound     = errors.New("job not found")
	// ErrForbidden rejects acting on another client's behalf.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError lists the offending fields of a request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// validation collects field errors while a request is checked.
type validation map[string]string

func (v validation) add(field, msg string) {
	if _, ok := v[field]; !ok {
		v[field] = msg
	}
}

func (v validation) err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}
