package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vinodismyname/xlsxctx/pkg/mcperr"
)

// Middleware gates tool calls on the Controller's request semaphore and bounds
// each call by Limits.OperationTimeout.
type Middleware struct {
	ctrl *Controller
}

// NewMiddleware constructs a Middleware bound to ctrl.
func NewMiddleware(ctrl *Controller) *Middleware {
	return &Middleware{ctrl: ctrl}
}

// ToolMiddleware implements server.ToolHandlerMiddleware. Saturation maps to
// BUSY_RESOURCE and an expired call deadline to TIMEOUT; both are tool-level
// results, not protocol errors.
func (m *Middleware) ToolMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := m.acquire(ctx); err != nil {
			return mcperr.Wrapf(mcperr.BusyResource, "concurrent request limit reached (max=%d)", m.ctrl.limits.MaxConcurrentRequests), nil
		}
		defer m.ctrl.ReleaseRequest()

		callCtx, cancel := withOptionalTimeout(ctx, m.ctrl.limits.OperationTimeout)
		defer cancel()

		res, err := next(callCtx, req)
		if timedOut(callCtx, res, err) {
			return mcperr.New(mcperr.Timeout, ""), nil
		}
		return res, err
	}
}

func (m *Middleware) acquire(ctx context.Context) error {
	waitCtx, cancel := withOptionalTimeout(ctx, m.ctrl.limits.AcquireRequestTimeout)
	defer cancel()
	return m.ctrl.AcquireRequest(waitCtx)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// timedOut reports a deadline either surfaced by the handler or left behind
// with no result.
func timedOut(callCtx context.Context, res *mcp.CallToolResult, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return err == nil && res == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
}
