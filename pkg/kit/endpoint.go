// CLAUDE:SUMMARY Transport-agnostic Endpoint type, middleware chaining and the request logging middleware.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic action function.
// Each action (find city, departements, vintage) is an Endpoint.
// HTTP handlers and MCP tools both dispatch to the same Endpoints.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Middleware wraps an Endpoint with cross-cutting concerns (logging, metrics).
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first is outermost.
// Chain(a, b, c)(endpoint) == a(b(c(endpoint)))
func Chain(outer Middleware, others ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(others) - 1; i >= 0; i-- {
			next = others[i](next)
		}
		return outer(next)
	}
}

// Logging logs one line per call of the named endpoint, with the transport
// and request ID found in the context.
func Logging(logger *slog.Logger, name string) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, request)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("endpoint done", attrs...)
			}
			return resp, err
		}
	}
}
