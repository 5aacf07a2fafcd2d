package runtime

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vinodismyname/xlsxctx/config"
)

// Limits are the guardrails shared by the MCP surface and the ingester.
type Limits struct {
	MaxConcurrentRequests int
	MaxOpenWorkbooks      int
	// MaxParallelSheets bounds per-workbook sheet layout fan-out.
	MaxParallelSheets int

	// MaxPayloadBytes caps text returned by a single tool call.
	MaxPayloadBytes int
	ChunkPageSize   int

	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
}

// NewLimits returns Limits with package defaults filling unset caps.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	return Limits{
		MaxConcurrentRequests: positiveOr(maxConcurrentRequests, config.DefaultMaxConcurrentRequests),
		MaxOpenWorkbooks:      positiveOr(maxOpenWorkbooks, config.DefaultMaxOpenWorkbooks),
		MaxParallelSheets:     config.DefaultMaxParallelSheets,
		MaxPayloadBytes:       config.DefaultMaxPayloadBytes,
		ChunkPageSize:         config.DefaultChunkPageSize,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
	}
}

// LimitsFromConfig builds Limits from process configuration.
func LimitsFromConfig(cfg config.Config) Limits {
	l := NewLimits(cfg.MaxConcurrentRequests, cfg.MaxOpenWorkbooks)
	l.MaxParallelSheets = positiveOr(cfg.MaxParallelSheets, l.MaxParallelSheets)
	return l
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Controller owns the request and open-workbook semaphores.
type Controller struct {
	limits    Limits
	requests  *semaphore.Weighted
	workbooks *semaphore.Weighted
}

// NewController constructs a Controller sized by limits.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:    limits,
		requests:  semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbooks: semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
	}
}

// AcquireRequest blocks until a tool call slot frees or ctx ends.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requests.Acquire(ctx, 1)
}

// ReleaseRequest returns a tool call slot.
func (c *Controller) ReleaseRequest() {
	c.requests.Release(1)
}

// AcquireWorkbook reserves an open workbook slot. The workbook manager holds
// the slot for as long as a handle stays cached.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbooks.Acquire(ctx, 1)
}

// ReleaseWorkbook frees an open workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbooks.Release(1)
}

// LimitsSnapshot returns the configured guardrails.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
