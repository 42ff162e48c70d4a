package runtime

import (
	"context"
	"time"

	"github.com/vinodismyname/funnelsnap/config"
	"golang.org/x/sync/semaphore"
)

// Limits captures the concurrency, payload and timeout guardrails configured for the server.
type Limits struct {
	// Concurrency caps
	MaxConcurrentRequests int
	MaxOpenWorkbooks      int

	// Payload and row bounds
	MaxUploadBytes  int64
	MaxSheetRows    int
	PreviewRowLimit int
	MaxPageSize     int

	// Timeouts
	OperationTimeout      time.Duration
	AcquireRequestTimeout time.Duration
	MergeAcquireTimeout   time.Duration
}

// NewLimits initializes Limits with sensible fallbacks when values are unset.
func NewLimits(maxConcurrentRequests, maxOpenWorkbooks int) Limits {
	if maxConcurrentRequests <= 0 {
		maxConcurrentRequests = config.DefaultMaxConcurrentRequests
	}
	if maxOpenWorkbooks <= 0 {
		maxOpenWorkbooks = config.DefaultMaxOpenWorkbooks
	}

	return Limits{
		MaxConcurrentRequests: maxConcurrentRequests,
		MaxOpenWorkbooks:      maxOpenWorkbooks,
		MaxUploadBytes:        config.DefaultMaxUploadBytes,
		MaxSheetRows:          config.DefaultMaxSheetRows,
		PreviewRowLimit:       config.DefaultPreviewRowLimit,
		MaxPageSize:           config.DefaultMaxPageSize,
		OperationTimeout:      config.DefaultOperationTimeout,
		AcquireRequestTimeout: config.DefaultAcquireRequestTimeout,
		MergeAcquireTimeout:   config.DefaultMergeAcquireTimeout,
	}
}

// LimitsFromConfig maps the configured limits, keeping fallbacks for unset values.
func LimitsFromConfig(c config.LimitsConfig) Limits {
	l := NewLimits(c.MaxConcurrentRequests, c.MaxOpenWorkbooks)
	if c.MaxUploadBytes > 0 {
		l.MaxUploadBytes = c.MaxUploadBytes
	}
	if c.MaxSheetRows > 0 {
		l.MaxSheetRows = c.MaxSheetRows
	}
	if c.PreviewRowLimit > 0 {
		l.PreviewRowLimit = c.PreviewRowLimit
	}
	if c.MaxPageSize > 0 {
		l.MaxPageSize = c.MaxPageSize
	}
	if c.OperationTimeout > 0 {
		l.OperationTimeout = c.OperationTimeout
	}
	if c.AcquireRequestTimeout > 0 {
		l.AcquireRequestTimeout = c.AcquireRequestTimeout
	}
	if c.MergeAcquireTimeout > 0 {
		l.MergeAcquireTimeout = c.MergeAcquireTimeout
	}
	return l
}

// Controller coordinates runtime semaphores for requests, open workbooks and merges.
type Controller struct {
	limits            Limits
	requestSemaphore  *semaphore.Weighted
	workbookSemaphore *semaphore.Weighted
	mergeSemaphore    *semaphore.Weighted
}

// NewController constructs a Controller backed by weighted semaphores. Merges
// are serialized within the process.
func NewController(limits Limits) *Controller {
	return &Controller{
		limits:            limits,
		requestSemaphore:  semaphore.NewWeighted(int64(limits.MaxConcurrentRequests)),
		workbookSemaphore: semaphore.NewWeighted(int64(limits.MaxOpenWorkbooks)),
		mergeSemaphore:    semaphore.NewWeighted(1),
	}
}

// AcquireRequest reserves capacity for an incoming request.
func (c *Controller) AcquireRequest(ctx context.Context) error {
	return c.requestSemaphore.Acquire(ctx, 1)
}

// ReleaseRequest frees previously-acquired request capacity.
func (c *Controller) ReleaseRequest() {
	c.requestSemaphore.Release(1)
}

// AcquireWorkbook reserves an open workbook slot.
func (c *Controller) AcquireWorkbook(ctx context.Context) error {
	return c.workbookSemaphore.Acquire(ctx, 1)
}

// ReleaseWorkbook frees an open workbook slot.
func (c *Controller) ReleaseWorkbook() {
	c.workbookSemaphore.Release(1)
}

// AcquireMerge waits for the merge slot, bounded by MergeAcquireTimeout.
func (c *Controller) AcquireMerge(ctx context.Context) error {
	if c.limits.MergeAcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.limits.MergeAcquireTimeout)
		defer cancel()
	}
	return c.mergeSemaphore.Acquire(ctx, 1)
}

// ReleaseMerge frees the merge slot.
func (c *Controller) ReleaseMerge() {
	c.mergeSemaphore.Release(1)
}

// LimitsSnapshot exposes the configured guardrails for telemetry and discovery.
func (c *Controller) LimitsSnapshot() Limits {
	return c.limits
}
