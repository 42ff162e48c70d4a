package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		out = append(out, m)
	}
	return out
}

func TestHooksParse(t *testing.T) {
	var buf bytes.Buffer
	h := NewHooks(zerolog.New(&buf))

	h.OnParse(ingest.ParseResult{OK: true, FileName: "a.xlsx", SheetName: "Hoja1", Dataset: &funnel.Dataset{Rows: make([]funnel.DataRow, 3)}}, time.Millisecond, nil)
	h.OnParse(ingest.ParseResult{FileName: "b.xlsx", Issues: []funnel.ParseIssue{{Message: "x"}}}, time.Millisecond, nil)
	h.OnParse(ingest.ParseResult{FileName: "c.xlsx"}, time.Millisecond, apperr.New(apperr.InvalidWorkbook, "roto"))

	got := lines(t, &buf)
	require.Len(t, got, 3)
	require.Equal(t, "info", got[0]["level"])
	require.EqualValues(t, 3, got[0]["rows"])
	require.Equal(t, "warn", got[1]["level"])
	require.EqualValues(t, 1, got[1]["issues"])
	require.Equal(t, "INVALID_WORKBOOK", got[2]["code"])
}

func TestHooksMergeAndLifecycle(t *testing.T) {
	var buf bytes.Buffer
	h := NewHooks(zerolog.New(&buf))

	h.OnServerStart("http", ":8080")
	h.OnMerge(snapshot.MergeResult{Mode: funnel.ModeAppend, TotalRows: 7, Meta: funnel.Meta{Version: "v1"}}, time.Second, nil)
	h.OnMerge(snapshot.MergeResult{}, time.Second, apperr.New(apperr.StorageUnavailable, ""))
	h.OnToolCall("s1", "get_funnel_totals", time.Millisecond, errors.New("boom"))
	h.OnServerStop("http", nil)

	got := lines(t, &buf)
	require.Len(t, got, 5)
	require.Equal(t, "http", got[0]["transport"])
	require.Equal(t, "append", got[1]["mode"])
	require.EqualValues(t, 7, got[1]["total_rows"])
	require.Equal(t, "error", got[2]["level"])
	require.Equal(t, "STORAGE_UNAVAILABLE", got[2]["code"])
	require.Equal(t, "get_funnel_totals", got[3]["tool"])
	require.Equal(t, "server stopped", got[4]["message"])

	require.NotNil(t, h.MCPHooks())
}
