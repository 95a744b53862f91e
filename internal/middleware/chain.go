package middleware

import (
	"log/slog"
	"net/http"
)

// Middleware represents a middleware function.
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain.
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains the middleware wired into this gateway.
//
// The teacher's set also carried StatsigBlocker/MetricsBlocker (stripping
// outbound telemetry headers from a forward proxy) and a separate Auth
// layer. Neither applies here: this gateway is a terminal endpoint with no
// upstream telemetry to intercept, and client-key authentication already
// happens once, in gateway.Gateway.authorize, following the Rust
// api/endpoints.rs idiom of authenticating inside the handler rather than
// in a separate middleware layer. A second independent auth layer here
// would only duplicate that check.
type MiddlewareSet struct {
	Logging Middleware
}

// NewMiddlewareSet builds the middleware wired into every route.
func NewMiddlewareSet(logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{Logging: NewLoggingMiddleware(logger)}
}

// DefaultChain is the standard chain: logging only, auth is handled by the
// gateway handler itself.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(ms.Logging)
}
