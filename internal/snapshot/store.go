// Package snapshot owns the single active dataset and its upload log. It
// applies the merge policies, deduplicates, and persists both documents
// through a blobstore.Store.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/vinodismyname/funnelsnap/config"
	"github.com/vinodismyname/funnelsnap/internal/blobstore"
	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

// Blob keys relative to Options.Prefix.
const (
	SnapshotKey  = "snapshot.json"
	UploadLogKey = "upload-log.json"
)

// Guard serializes merges. runtime.Controller implements it.
type Guard interface {
	AcquireMerge(ctx context.Context) error
	ReleaseMerge()
}

// Options tunes a Store. MaxRetries bounds snapshot read retries during a
// merge and zero disables them; other zero values fall back to config defaults.
type Options struct {
	Prefix     string
	MaxRetries uint64
	BaseDelay  time.Duration
	Guard      Guard
	Now        func() time.Time
}

// MergeResult reports the outcome of a successful merge.
type MergeResult struct {
	Mode      funnel.Mode             `json:"mode"`
	Meta      funnel.Meta             `json:"meta"`
	TotalRows int                     `json:"totalRows"`
	Entries   []funnel.UploadLogEntry `json:"entries"`
}

// Store is the snapshot service. It is safe for concurrent use; merges are
// serialized only when a Guard is configured.
type Store struct {
	blobs blobstore.Store
	cal   dates.Calendar
	opts  Options

	// wrote is set once this process has persisted a snapshot, after which a
	// not-found read is treated as eventual consistency.
	wrote atomic.Bool
}

// New constructs a Store over blobs. Rows are re-derived against cal on load.
func New(blobs blobstore.Store, cal dates.Calendar, opts Options) *Store {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = config.DefaultRetryBaseDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{blobs: blobs, cal: cal, opts: opts}
}

// Calendar returns the calendar rows are derived with.
func (s *Store) Calendar() dates.Calendar { return s.cal }

func (s *Store) key(name string) string {
	if s.opts.Prefix == "" {
		return name
	}
	return path.Join(s.opts.Prefix, name)
}

// Load returns the active dataset, or nil when none exists.
func (s *Store) Load(ctx context.Context) (*funnel.Dataset, error) {
	body, err := s.blobs.Get(ctx, s.key(SnapshotKey))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, err, "")
	}
	return s.decode(body)
}

// Logs returns the upload log, oldest first. A missing log is empty.
func (s *Store) Logs(ctx context.Context) ([]funnel.UploadLogEntry, error) {
	body, err := s.blobs.Get(ctx, s.key(UploadLogKey))
	if errors.Is(err, blobstore.ErrNotFound) {
		return []funnel.UploadLogEntry{}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, err, "")
	}
	var entries []funnel.UploadLogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("snapshot: decode upload log: %w", err)
	}
	if entries == nil {
		entries = []funnel.UploadLogEntry{}
	}
	return entries, nil
}

// Merge applies req to the active dataset and persists the result. The
// request is validated before anything is read or written, and the merge runs
// to completion once started even if ctx is cancelled.
func (s *Store) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	if err := req.Validate(); err != nil {
		return MergeResult{}, err
	}

	if s.opts.Guard != nil {
		if err := s.opts.Guard.AcquireMerge(ctx); err != nil {
			return MergeResult{}, apperr.Wrap(apperr.BusyResource, err, "hay otra carga en curso")
		}
		defer s.opts.Guard.ReleaseMerge()
	}
	ctx = context.WithoutCancel(ctx)
	logger := zerolog.Ctx(ctx)

	var existing []funnel.DataRow
	if req.Mode != funnel.ModeReplace {
		ds, err := s.loadForMerge(ctx)
		if err != nil {
			return MergeResult{}, err
		}
		if ds != nil {
			existing = ds.Rows
		}
	}

	rows := combine(req, existing)
	for i := range rows {
		rows[i].Derive(s.cal)
	}

	now := s.opts.Now()
	files, sheets := describe(req.Uploads)
	ds := funnel.Dataset{
		Meta: funnel.Meta{
			ImportedAtISO:  funnel.ISOTime(now),
			SourceFileName: files,
			SheetName:      sheets,
			RowCount:       len(rows),
			Version:        uuid.NewString(),
		},
		Rows: rows,
	}
	body, err := json.Marshal(ds)
	if err != nil {
		return MergeResult{}, fmt.Errorf("snapshot: encode dataset: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key(SnapshotKey), body); err != nil {
		return MergeResult{}, apperr.Wrap(apperr.StorageUnavailable, err, "no se pudo guardar el snapshot")
	}
	s.wrote.Store(true)

	entries := make([]funnel.UploadLogEntry, 0, len(req.Uploads))
	for _, u := range req.Uploads {
		e := funnel.UploadLogEntry{
			ID:        uuid.NewString(),
			Timestamp: funnel.ISOTime(now),
			FileName:  u.FileName,
			SheetName: u.Dataset.Meta.SheetName,
			Rows:      len(u.Dataset.Rows),
			Mode:      req.Mode,
			TotalRows: len(rows),
		}
		if req.Mode == funnel.ModeReplaceBases {
			e.Bases = datasetBases(u.Dataset)
		}
		entries = append(entries, e)
	}
	if err := s.appendLog(ctx, entries); err != nil {
		logger.Warn().Err(err).Str("version", ds.Meta.Version).Msg("snapshot saved but upload log write failed")
	}

	logger.Info().
		Str("mode", string(req.Mode)).
		Int("files", len(req.Uploads)).
		Int("existing", len(existing)).
		Int("total", len(rows)).
		Str("version", ds.Meta.Version).
		Msg("snapshot merged")

	return MergeResult{Mode: req.Mode, Meta: ds.Meta, TotalRows: len(rows), Entries: entries}, nil
}

// loadForMerge reads the dataset an additive merge builds on. A not-found
// answer is retried with backoff when a snapshot is expected to exist.
func (s *Store) loadForMerge(ctx context.Context) (*funnel.Dataset, error) {
	key := s.key(SnapshotKey)
	body, err := s.blobs.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		if !s.expectSnapshot(ctx) {
			return nil, nil
		}
		body, err = s.getWithRetry(ctx, key)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, err, "el snapshot actual no está disponible; reintenta la carga")
	}
	return s.decode(body)
}

// expectSnapshot reports whether a missing snapshot is likely transient.
func (s *Store) expectSnapshot(ctx context.Context) bool {
	if s.wrote.Load() {
		return true
	}
	entries, err := s.Logs(ctx)
	if err != nil {
		// Unknown log state counts as expected.
		return true
	}
	return len(entries) > 0 && entries[len(entries)-1].TotalRows > 0
}

func (s *Store) getWithRetry(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	attempt := 0
	backoff := retry.WithMaxRetries(s.opts.MaxRetries, retry.NewExponential(s.opts.BaseDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := s.blobs.Get(ctx, key)
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Str("key", key).Msg("snapshot read retry")
			return retry.RetryableError(err)
		}
		body = b
		return nil
	})
	return body, err
}

func (s *Store) appendLog(ctx context.Context, entries []funnel.UploadLogEntry) error {
	existing, err := s.Logs(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(append(existing, entries...))
	if err != nil {
		return fmt.Errorf("snapshot: encode upload log: %w", err)
	}
	return s.blobs.Put(ctx, s.key(UploadLogKey), body)
}

func (s *Store) decode(body []byte) (*funnel.Dataset, error) {
	var ds funnel.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		return nil, apperr.Wrap(apperr.StorageUnavailable, err, "el snapshot guardado está corrupto")
	}
	for i := range ds.Rows {
		ds.Rows[i].Derive(s.cal)
	}
	return &ds, nil
}
