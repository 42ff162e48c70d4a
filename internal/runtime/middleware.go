package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

// Middleware enforces runtime limits for MCP tool calls and HTTP requests.
// It bounds global concurrency and applies an operation timeout to each call.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to the provided Controller.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// acquire reserves a request slot with a bounded wait.
func (m *Middleware) acquire(ctx context.Context) error {
	if m.ctrl.limits.AcquireRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
		defer cancel()
	}
	return m.ctrl.AcquireRequest(ctx)
}

func (m *Middleware) busyMessage() string {
	return fmt.Sprintf("límite de solicitudes concurrentes alcanzado (max=%d)", m.ctrl.limits.MaxConcurrentRequests)
}

// ToolMiddleware implements mcp-go's tool handler middleware interface.
// It acquires a request slot, applies a timeout, and guarantees release.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := m.acquire(ctx); err != nil {
			// Tool-level error so the client can retry.
			return apperr.Tool(apperr.BusyResource, m.busyMessage()), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx := ctx
		cancel := func() {}
		if m.ctrl.limits.OperationTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, m.ctrl.limits.OperationTimeout)
		}
		defer cancel()

		res, err := next(callCtx, req)

		if errors.Is(err, context.DeadlineExceeded) || (callCtx.Err() == context.DeadlineExceeded && err == nil && res == nil) {
			return apperr.Tool(apperr.Timeout, ""), nil
		}
		return res, err
	}
}

// HTTPMiddleware applies the same guardrails to HTTP handlers. Saturation
// answers 503 with a JSON error body.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.acquire(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":    false,
				"code":  apperr.BusyResource,
				"error": m.busyMessage(),
			})
			return
		}
		defer m.ctrl.ReleaseRequest()

		ctx := r.Context()
		if m.ctrl.limits.OperationTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.ctrl.limits.OperationTimeout)
			defer cancel()
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
