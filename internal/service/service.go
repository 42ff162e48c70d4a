// Package service coordinates parsing, merging and the read-side queries
// shared by the HTTP API and the MCP tools.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vinodismyname/funnelsnap/config"
	"github.com/vinodismyname/funnelsnap/internal/filter"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/metrics"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/internal/telemetry"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
	"github.com/vinodismyname/funnelsnap/pkg/pagination"
)

// File is one uploaded workbook.
type File struct {
	Name string
	Data []byte
}

// IngestRequest carries the files of one upload and the raw mode headers.
// Paths name allow-listed local workbooks and are parsed after Files.
type IngestRequest struct {
	Files        []File
	Paths        []string
	Mode         string
	ReplaceBases []string
}

// RejectedError is returned by Ingest when a file fails to parse. Result
// holds the issues and preview of the first rejected file.
type RejectedError struct {
	Result ingest.ParseResult
}

func (e *RejectedError) Error() string { return e.Result.Err().Error() }

// Unwrap exposes the coded error so apperr.CodeOf works on it.
func (e *RejectedError) Unwrap() error { return e.Result.Err() }

// Service is safe for concurrent use.
type Service struct {
	store  *snapshot.Store
	parser *ingest.Parser
	engine *filter.Engine
	hooks  *telemetry.Hooks

	pageSize    int
	maxPageSize int

	mu   sync.Mutex
	view *view
}

// view caches the category index of one snapshot version.
type view struct {
	version string
	ds      *funnel.Dataset
	idx     *filter.Index
}

// Options tunes a Service. Zero values fall back to config defaults.
type Options struct {
	PageSize    int
	MaxPageSize int
}

// New constructs a Service.
func New(store *snapshot.Store, parser *ingest.Parser, hooks *telemetry.Hooks, opts Options) *Service {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = config.DefaultMaxPageSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = config.DefaultPageSize
	}
	if opts.PageSize > opts.MaxPageSize {
		opts.PageSize = opts.MaxPageSize
	}
	if hooks == nil {
		hooks = telemetry.NewHooks(zerolog.Nop())
	}
	return &Service{
		store:       store,
		parser:      parser,
		engine:      filter.NewEngine(store.Calendar()),
		hooks:       hooks,
		pageSize:    opts.PageSize,
		maxPageSize: opts.MaxPageSize,
	}
}

// Snapshot returns the active dataset, or nil when none exists.
func (s *Service) Snapshot(ctx context.Context) (*funnel.Dataset, error) {
	v, err := s.current(ctx)
	if err != nil || v == nil {
		return nil, err
	}
	return v.ds, nil
}

// Logs returns the upload log.
func (s *Service) Logs(ctx context.Context) ([]funnel.UploadLogEntry, error) {
	return s.store.Logs(ctx)
}

// Parse parses one workbook without merging it.
func (s *Service) Parse(ctx context.Context, f File) (ingest.ParseResult, error) {
	start := time.Now()
	res, err := s.parser.ParseWorkbook(ctx, f.Data, f.Name)
	s.hooks.OnParse(res, time.Since(start), err)
	return res, err
}

// ParsePath parses an allow-listed local workbook without merging it.
func (s *Service) ParsePath(ctx context.Context, path string) (ingest.ParseResult, error) {
	start := time.Now()
	res, err := s.parser.ParseFile(ctx, path)
	s.hooks.OnParse(res, time.Since(start), err)
	return res, err
}

// Ingest parses every file in order and merges them when all are valid.
// The first rejected file stops the upload with a *RejectedError.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (snapshot.MergeResult, error) {
	if len(req.Files)+len(req.Paths) == 0 {
		return snapshot.MergeResult{}, apperr.New(apperr.Validation, "Falta el campo file.")
	}
	uploads := make([]snapshot.Upload, 0, len(req.Files)+len(req.Paths))
	accept := func(res ingest.ParseResult, err error) error {
		if err != nil {
			return err
		}
		if !res.OK {
			return &RejectedError{Result: res}
		}
		uploads = append(uploads, snapshot.Upload{FileName: res.FileName, Dataset: res.Dataset})
		return nil
	}
	for _, f := range req.Files {
		if err := accept(s.Parse(ctx, f)); err != nil {
			return snapshot.MergeResult{}, err
		}
	}
	for _, p := range req.Paths {
		if err := accept(s.ParsePath(ctx, p)); err != nil {
			return snapshot.MergeResult{}, err
		}
	}
	return s.Merge(ctx, snapshot.MergeRequest{
		Mode:         snapshot.ResolveMode(req.Mode, req.ReplaceBases),
		Uploads:      uploads,
		ReplaceBases: req.ReplaceBases,
	})
}

// Merge applies already parsed uploads.
func (s *Service) Merge(ctx context.Context, req snapshot.MergeRequest) (snapshot.MergeResult, error) {
	start := time.Now()
	res, err := s.store.Merge(ctx, req)
	s.hooks.OnMerge(res, time.Since(start), err)
	if err == nil {
		s.mu.Lock()
		s.view = nil
		s.mu.Unlock()
	}
	return res, err
}

// current loads the active snapshot and reuses the cached index when the
// version is unchanged.
func (s *Service) current(ctx context.Context) (*view, error) {
	ds, err := s.store.Load(ctx)
	if err != nil || ds == nil {
		return nil, err
	}
	version := VersionOf(ds.Meta)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.view != nil && s.view.version == version {
		return s.view, nil
	}
	s.view = &view{version: version, ds: ds, idx: filter.NewIndex(ds.Rows)}
	return s.view, nil
}

// VersionOf identifies a snapshot. Snapshots written without a version fall
// back to a digest of their metadata.
func VersionOf(m funnel.Meta) string {
	if m.Version != "" {
		return m.Version
	}
	return pagination.Hash(m.ImportedAtISO + "|" + m.SourceFileName + "|" + m.SheetName)
}

// rows validates f and returns the matching rows of the active snapshot.
func (s *Service) rows(ctx context.Context, f filter.Filters) (*view, []funnel.DataRow, error) {
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	v, err := s.current(ctx)
	if err != nil || v == nil {
		return nil, nil, err
	}
	return v, s.engine.ApplyIndexed(v.idx, f), nil
}

// Totals computes stage counts and rates over the filtered rows.
func (s *Service) Totals(ctx context.Context, f filter.Filters) (metrics.Totals, error) {
	_, rows, err := s.rows(ctx, f)
	if err != nil {
		return metrics.Totals{}, err
	}
	return metrics.ComputeTotals(rows), nil
}

// Trend computes the month by category table for stage.
func (s *Service) Trend(ctx context.Context, f filter.Filters, stage funnel.Stage) (metrics.Trend, error) {
	_, rows, err := s.rows(ctx, f)
	if err != nil {
		return metrics.Trend{}, err
	}
	return metrics.ComputeTrend(rows, s.store.Calendar(), stage), nil
}

// Weekly computes the weekly summary.
func (s *Service) Weekly(ctx context.Context, f filter.Filters, unique bool) (metrics.WeeklySummary, error) {
	_, rows, err := s.rows(ctx, f)
	if err != nil {
		return metrics.WeeklySummary{}, err
	}
	return metrics.ComputeWeeklySummary(rows, metrics.WeeklyOptions{Calendar: s.store.Calendar(), Unique: unique}), nil
}

// Breakdown groups the filtered rows by dim.
func (s *Service) Breakdown(ctx context.Context, f filter.Filters, dim metrics.Dimension) (metrics.Breakdown, error) {
	_, rows, err := s.rows(ctx, f)
	if err != nil {
		return metrics.Breakdown{}, err
	}
	return metrics.ComputeBreakdown(rows, s.store.Calendar(), dim), nil
}

// Daily computes the day-of-month series.
func (s *Service) Daily(ctx context.Context, f filter.Filters) ([]metrics.DayPoint, error) {
	_, rows, err := s.rows(ctx, f)
	if err != nil {
		return nil, err
	}
	return metrics.ComputeDaily(rows, s.store.Calendar()), nil
}

// Options lists the filter values present in the active snapshot.
func (s *Service) Options(ctx context.Context) (filter.Choices, error) {
	v, err := s.current(ctx)
	if err != nil {
		return filter.Choices{}, err
	}
	if v == nil {
		return s.engine.Options(nil), nil
	}
	return s.engine.Options(v.ds.Rows), nil
}

// RowsPage is one page of filtered rows.
type RowsPage struct {
	SnapshotVersion string           `json:"snapshotVersion,omitempty"`
	Total           int              `json:"total"`
	Returned        int              `json:"returned"`
	Truncated       bool             `json:"truncated"`
	NextCursor      string           `json:"nextCursor,omitempty"`
	Rows            []funnel.DataRow `json:"rows"`
}

// ListRows pages through the filtered rows. A cursor is bound to the snapshot
// version and filters it was issued for; pageSize is ignored when a cursor is
// given.
func (s *Service) ListRows(ctx context.Context, f filter.Filters, cursor string, pageSize int) (RowsPage, error) {
	v, rows, err := s.rows(ctx, f)
	if err != nil {
		return RowsPage{}, err
	}
	if v == nil {
		if cursor != "" {
			return RowsPage{}, apperr.Wrap(apperr.CursorInvalid, pagination.ErrStale, "")
		}
		return RowsPage{Rows: []funnel.DataRow{}}, nil
	}

	fh := f.Hash()
	off, ps := 0, s.clampPageSize(pageSize)
	if cursor != "" {
		c, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return RowsPage{}, apperr.Wrap(apperr.CursorInvalid, err, "")
		}
		if err := c.Bind(v.version, fh); err != nil {
			return RowsPage{}, apperr.Wrap(apperr.CursorInvalid, err, "")
		}
		off, ps = c.Off, s.clampPageSize(c.Ps)
	}

	start, end, more := pagination.Window(len(rows), off, ps)
	page := RowsPage{
		SnapshotVersion: v.version,
		Total:           len(rows),
		Returned:        end - start,
		Truncated:       more,
		Rows:            rows[start:end],
	}
	if more {
		next, err := pagination.EncodeCursor(pagination.Cursor{Sv: v.version, Fh: fh, Off: pagination.NextOffset(start, page.Returned), Ps: ps})
		if err != nil {
			return RowsPage{}, apperr.Wrap(apperr.Internal, err, "")
		}
		page.NextCursor = next
	}
	return page, nil
}

func (s *Service) clampPageSize(n int) int {
	switch {
	case n <= 0:
		return s.pageSize
	case n > s.maxPageSize:
		return s.maxPageSize
	}
	return n
}

// AsRejected reports whether err carries a rejected ParseResult.
func AsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	ok := errors.As(err, &rej)
	return rej, ok
}
