// Package platform holds what every platform integration shares: the error
// vocabulary adapters report in, optional capabilities, and the registry the
// orchestrator dispatches through.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/publishq/pkg/models"
)

// ErrNotImplemented is returned by adapters for platforms not yet supported.
var ErrNotImplemented = errors.New("platform adapter not implemented")

// ErrUnknownPlatform is returned by the registry for a platform with no adapter.
var ErrUnknownPlatform = errors.New("no adapter registered for platform")

// Error is a platform failure already classified for the orchestrator.
type Error struct {
	Code   models.ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient marks a failure that may succeed if retried unchanged.
func Transient(reason string, err error) *Error {
	return &Error{Code: models.ErrorCodeTransient, Reason: reason, Err: err}
}

// Permanent marks a failure that needs a configuration or content change.
func Permanent(reason string, err error) *Error {
	return &Error{Code: models.ErrorCodePermanent, Reason: reason, Err: err}
}

// Classify maps any adapter error onto an error code. Unclassified errors
// are permanent, except transport failures and timeouts.
func Classify(err error) models.ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorCodeTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.ErrorCodeTransient
	}
	return models.ErrorCodePermanent
}

// Aborter is implemented by adapters that can stop a platform-side upload.
type Aborter interface {
	Abort(ctx context.Context, jobID uuid.UUID) error
}

// Registry maps platforms to their adapters. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	adapters map[models.Platform]models.PlatformAdapter
}

// NewRegistry registers adapters by their Platform(). A later adapter for the
// same platform replaces an earlier one.
func NewRegistry(adapters ...models.PlatformAdapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]models.PlatformAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p models.Platform) (models.PlatformAdapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, p)
	}
	return a, nil
}

// Adapters returns every registered adapter in models.Platforms order.
func (r *Registry) Adapters() []models.PlatformAdapter {
	out := make([]models.PlatformAdapter, 0, len(r.adapters))
	for _, p := range models.Platforms {
		if a, ok := r.adapters[p]; ok {
			out = append(out, a)
		}
	}
	return out
}
