package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Davincible/plexus/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Logging Middleware
	Auth    Middleware
}

// NewMiddlewareSet creates a complete set of middleware with proper dependencies
func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Logging: NewLoggingMiddleware(logger),
		Auth:    NewAuthMiddleware(config, logger),
	}
}

// DefaultChain returns the standard middleware chain for client-facing
// inference endpoints: logged, then authenticated.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(ms.Logging, ms.Auth)
}

// HealthChain returns the middleware chain for the health endpoint (no auth).
func (ms MiddlewareSet) HealthChain() Chain {
	return New(ms.Logging)
}

// AdminChain returns the middleware chain for the admin surface
// (/config, /state, /logs): logged and authenticated the same as inference
// traffic, since both are gated by the same proxy API key.
func (ms MiddlewareSet) AdminChain() Chain {
	return New(ms.Logging, ms.Auth)
}
