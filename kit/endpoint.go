// Package kit holds the transport-neutral plumbing shared by the CLI, the
// HTTP API and the MCP tools: endpoints, middleware, context values and
// strict decoding of kind-tagged specs.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// WithLogging logs the duration and outcome of each call under name.
func WithLogging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			l := Logger(ctx, logger)
			if err != nil {
				l.WarnContext(ctx, "endpoint failed", "endpoint", name, "duration", time.Since(start), "error", err)
			} else {
				l.DebugContext(ctx, "endpoint done", "endpoint", name, "duration", time.Since(start))
			}
			return resp, err
		}
	}
}
