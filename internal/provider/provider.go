// Package provider implements the C6 Provider port: a uniform interface for
// non-streaming completion, streaming line sequences, and cancellation, with
// one adapter per backend vendor.
package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/Davincible/claude-gateway-go/internal/model"
	"github.com/Davincible/claude-gateway-go/internal/translate"
)

// ErrorKind is the provider-level error taxonomy (spec §7).
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindBadRequest     ErrorKind = "bad_request"
	KindAPIError       ErrorKind = "api_error"
	KindCancelled      ErrorKind = "cancelled"
	KindUnexpected     ErrorKind = "unexpected"
)

// Error is the typed error every Provider method returns on failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Provider is the uniform capability set exposed to the orchestrator (C7),
// grounded on the original Rust `core::provider::Provider` trait (spec §4.5).
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *model.BackendRequest, requestID string) (*model.BackendResponse, error)
	Stream(ctx context.Context, req *model.BackendRequest, requestID string) (<-chan translate.Line, error)
	Cancel(requestID string) bool
}

// registry is the process-local request_id → cancellation-handle map every
// provider owns (spec §4.5/§9). All mutation happens inside the lock; I/O
// happens outside it.
type registry struct {
	mu      sync.Mutex
	handles map[string]context.CancelFunc
}

func newRegistry() *registry {
	return &registry{handles: make(map[string]context.CancelFunc)}
}

func (r *registry) register(requestID string, cancel context.CancelFunc) {
	if requestID == "" {
		return
	}

	r.mu.Lock()
	r.handles[requestID] = cancel
	r.mu.Unlock()
}

func (r *registry) unregister(requestID string) {
	if requestID == "" {
		return
	}

	r.mu.Lock()
	delete(r.handles, requestID)
	r.mu.Unlock()
}

// cancel notifies the handle for requestID, if any is in flight.
func (r *registry) cancel(requestID string) bool {
	r.mu.Lock()
	cancel, ok := r.handles[requestID]
	r.mu.Unlock()

	if !ok {
		return false
	}

	cancel()

	return true
}
