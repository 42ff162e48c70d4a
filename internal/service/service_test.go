package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/funnelsnap/internal/blobstore"
	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/filter"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/metrics"
	"github.com/vinodismyname/funnelsnap/internal/normalize"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/internal/workbooks"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

var headers = []any{"Tipo Llamada", "Fecha Carga", "Rut Base", "Tipo Base", "Fecha Gestion", "Conecta",
	"Interesa", "Regimen", "Sede Interes", "Semana", "AF", "Fecha af", "MC", "Fecha MC"}

func newTestService(t *testing.T) *Service {
	t.Helper()
	now := func() time.Time { return time.Date(2025, time.October, 2, 9, 0, 0, 0, time.UTC) }
	dp := dates.NewParser(dates.DayFirst)
	dp.Now = now
	cal := dates.Calendar{
		Start:      time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC),
		WeekAnchor: time.Date(2025, time.August, 11, 0, 0, 0, 0, time.UTC),
		Now:        now,
	}
	parser := ingest.NewParser(workbooks.NewReader(nil, nil, 0), normalize.New(dp, cal), 5).WithClock(now)
	blobs, err := blobstore.NewDirStore(t.TempDir())
	require.NoError(t, err)
	store := snapshot.New(blobs, cal, snapshot.Options{MaxRetries: 2, BaseDelay: time.Millisecond, Now: now})
	return New(store, parser, nil, Options{PageSize: 2, MaxPageSize: 10})
}

func workbook(t *testing.T, rows ...[]any) File {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range append([][]any{headers}, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		vals := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &vals))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return File{Name: "carga.xlsx", Data: buf.Bytes()}
}

func dataRow(rut, base, conecta string) []any {
	return []any{"Saliente", 45870, rut, base, "14/08/2025", conecta, "Viene", "Diurno", "LF", "", "A", "", "", ""}
}

func TestIngestAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	ds, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, ds)

	res, err := s.Ingest(ctx, IngestRequest{Files: []File{workbook(t,
		dataRow("1", "Web", "Conecta"),
		dataRow("2", "Web", "No Conecta"),
		dataRow("3", "Stock", "Conecta"),
	)}})
	require.NoError(t, err)
	require.Equal(t, funnel.ModeReplace, res.Mode)
	require.Equal(t, 3, res.TotalRows)

	tot, err := s.Totals(ctx, filter.Filters{})
	require.NoError(t, err)
	require.Equal(t, 3, tot.Rows.Loaded)
	require.Equal(t, 3, tot.Rows.Progressed)
	require.Equal(t, 2, tot.Rows.Contacted)

	tot, err = s.Totals(ctx, filter.Filters{Categories: []string{"web"}})
	require.NoError(t, err)
	require.Equal(t, 2, tot.Unique.Loaded)

	opts, err := s.Options(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Stock", "Web"}, opts.Categories)
	require.Equal(t, []string{"Semana 1"}, opts.Weeks)

	weekly, err := s.Weekly(ctx, filter.Filters{}, false)
	require.NoError(t, err)
	require.NoError(t, weekly.Check())
	require.Len(t, weekly.Rows, 1)

	b, err := s.Breakdown(ctx, filter.Filters{}, metrics.DimCampus)
	require.NoError(t, err)
	require.Len(t, b.Groups, 1)
	require.Equal(t, "La Florida", b.Groups[0].Key)

	logs, err := s.Logs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestIngestRejectsInvalidFile(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	bad := workbook(t, []any{"Saliente", 45870, "", "Web", "14/08/2025", "Conecta"})
	_, err := s.Ingest(ctx, IngestRequest{Files: []File{workbook(t, dataRow("1", "Web", "Conecta")), bad}})
	require.Error(t, err)
	rej, ok := AsRejected(err)
	require.True(t, ok)
	require.False(t, rej.Result.OK)
	require.NotEmpty(t, rej.Result.Issues)
	require.Equal(t, apperr.RowValidation, apperr.CodeOf(err))

	ds, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Nil(t, ds, "nothing is merged when any file is rejected")

	_, err = s.Ingest(ctx, IngestRequest{})
	require.Equal(t, apperr.Validation, apperr.CodeOf(err))
}

func TestIngestReplaceBasesHeaders(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Ingest(ctx, IngestRequest{Files: []File{workbook(t, dataRow("1", "Web", "Conecta"), dataRow("2", "Stock", "Conecta"))}})
	require.NoError(t, err)

	res, err := s.Ingest(ctx, IngestRequest{
		Files:        []File{workbook(t, dataRow("9", "Web", "No Conecta"))},
		ReplaceBases: []string{"Web"},
	})
	require.NoError(t, err)
	require.Equal(t, funnel.ModeReplaceBases, res.Mode)
	require.Equal(t, 2, res.TotalRows)

	_, err = s.Ingest(ctx, IngestRequest{
		Files:        []File{workbook(t, dataRow("9", "Web", "No Conecta"))},
		ReplaceBases: []string{"Stock"},
	})
	require.Equal(t, apperr.MergePolicy, apperr.CodeOf(err))
}

func TestListRowsPaging(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	page, err := s.ListRows(ctx, filter.Filters{}, "", 0)
	require.NoError(t, err)
	require.Empty(t, page.Rows)
	require.Empty(t, page.NextCursor)

	_, err = s.Ingest(ctx, IngestRequest{Files: []File{workbook(t,
		dataRow("1", "Web", "Conecta"),
		dataRow("2", "Web", "Conecta"),
		dataRow("3", "Web", "Conecta"),
	)}})
	require.NoError(t, err)

	f := filter.Filters{Categories: []string{"Web"}}
	page, err = s.ListRows(ctx, f, "", 0)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.Returned)
	require.True(t, page.Truncated)
	require.NotEmpty(t, page.NextCursor)
	require.Equal(t, "1", page.Rows[0].RutBase)

	next, err := s.ListRows(ctx, f, page.NextCursor, 0)
	require.NoError(t, err)
	require.Equal(t, 1, next.Returned)
	require.False(t, next.Truncated)
	require.Empty(t, next.NextCursor)
	require.Equal(t, "3", next.Rows[0].RutBase)

	_, err = s.ListRows(ctx, filter.Filters{}, page.NextCursor, 0)
	require.Equal(t, apperr.CursorInvalid, apperr.CodeOf(err), "cursor is bound to the filters")

	_, err = s.ListRows(ctx, f, "not-a-cursor", 0)
	require.Equal(t, apperr.CursorInvalid, apperr.CodeOf(err))

	_, err = s.Ingest(ctx, IngestRequest{Mode: "append", Files: []File{workbook(t, dataRow("4", "Web", "Conecta"))}})
	require.NoError(t, err)
	_, err = s.ListRows(ctx, f, page.NextCursor, 0)
	require.Equal(t, apperr.CursorInvalid, apperr.CodeOf(err), "cursor is bound to the snapshot version")

	big, err := s.ListRows(ctx, f, "", 500)
	require.NoError(t, err)
	require.Equal(t, 4, big.Returned)
}

func TestQueriesRejectInvalidFilters(t *testing.T) {
	s := newTestService(t)
	_, err := s.Totals(context.Background(), filter.Filters{Months: []int{13}})
	require.Equal(t, apperr.Validation, apperr.CodeOf(err))
}

func TestVersionOf(t *testing.T) {
	require.Equal(t, "v1", VersionOf(funnel.Meta{Version: "v1"}))
	a := VersionOf(funnel.Meta{ImportedAtISO: "2025-10-02T09:00:00.000Z"})
	require.NotEmpty(t, a)
	require.NotEqual(t, a, VersionOf(funnel.Meta{ImportedAtISO: "2025-10-03T09:00:00.000Z"}))
}
