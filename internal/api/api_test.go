package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/vinodismyname/funnelsnap/internal/blobstore"
	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/normalize"
	"github.com/vinodismyname/funnelsnap/internal/runtime"
	"github.com/vinodismyname/funnelsnap/internal/security"
	"github.com/vinodismyname/funnelsnap/internal/service"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/internal/workbooks"
)

const adminKey = "clave"

var headers = []any{"Tipo Llamada", "Fecha Carga", "Rut Base", "Tipo Base", "Fecha Gestion", "Conecta",
	"Interesa", "Regimen", "Sede Interes", "Semana", "AF", "Fecha af", "MC", "Fecha MC"}

func newTestServer(t *testing.T, maxUpload int64, key string) *httptest.Server {
	t.Helper()
	now := func() time.Time { return time.Date(2025, time.October, 2, 9, 0, 0, 0, time.UTC) }
	dp := dates.NewParser(dates.DayFirst)
	dp.Now = now
	cal := dates.Calendar{
		Start:      time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC),
		WeekAnchor: time.Date(2025, time.August, 11, 0, 0, 0, 0, time.UTC),
		Now:        now,
	}
	limits := runtime.NewLimits(4, 2)
	if maxUpload > 0 {
		limits.MaxUploadBytes = maxUpload
	}
	ctrl := runtime.NewController(limits)

	blobs, err := blobstore.NewDirStore(t.TempDir())
	require.NoError(t, err)
	store := snapshot.New(blobs, cal, snapshot.Options{Guard: ctrl, MaxRetries: 2, BaseDelay: time.Millisecond, Now: now})
	parser := ingest.NewParser(workbooks.NewReader(ctrl, nil, limits.MaxSheetRows), normalize.New(dp, cal), 5).WithClock(now)
	svc := service.New(store, parser, nil, service.Options{PageSize: 2})

	srv := httptest.NewServer(NewRouter(Config{
		Service: svc,
		Admin:   security.NewAdminKey(key),
		Runtime: ctrl,
		Logger:  zerolog.Nop(),
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dataRow(rut, base, conecta string) []any {
	return []any{"Saliente", 45870, rut, base, "14/08/2025", conecta, "Viene", "Diurno", "LF", "", "A", "", "", ""}
}

func workbook(t *testing.T, rows ...[]any) []byte {
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
	return buf.Bytes()
}

type part struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := mw.CreateFormFile("file", p.name)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, srv *httptest.Server, key string, hdr map[string]string, parts ...part) (*http.Response, map[string]any) {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/snapshot", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ct)
	if key != "" {
		req.Header.Set(security.AdminKeyHeader, key)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	resp, body := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestSnapshotEmpty(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	resp, err := http.Get(srv.URL + "/api/snapshot")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	raw, _ := io.ReadAll(resp.Body)
	require.JSONEq(t, `[]`, string(raw))
}

func TestUploadRequiresAdminKey(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	file := part{"carga.xlsx", workbook(t, dataRow("1", "Web", "Conecta"))}

	resp, body := upload(t, srv, "", nil, file)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, false, body["ok"])
	require.Equal(t, "Unauthorized.", body["error"])

	resp, _ = upload(t, srv, "otra", nil, file)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	misconfigured := newTestServer(t, 0, "")
	resp, body = upload(t, misconfigured, adminKey, nil, file)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "Server misconfigured.", body["error"])
}

func TestUploadAndRead(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)

	resp, body := upload(t, srv, adminKey, nil,
		part{"a.xlsx", workbook(t, dataRow("1", "Web", "Conecta"), dataRow("2", "Stock", "No Conecta"))},
		part{"b.xlsx", workbook(t, dataRow("3", "Web", "Conecta"))},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "replace", body["mode"])
	require.EqualValues(t, 3, body["totalRows"])

	resp, body = get(t, srv, "/api/snapshot")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Len(t, body["rows"], 3)

	resp, body = upload(t, srv, adminKey, map[string]string{HeaderUploadMode: "append"},
		part{"c.xlsx", workbook(t, dataRow("1", "Web", "Conecta"), dataRow("4", "Web", "Conecta"))},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "append", body["mode"])
	require.EqualValues(t, 4, body["totalRows"], "duplicate row is dropped")

	_, body = get(t, srv, "/api/metrics/totals?tipoBase=web")
	rows := body["rows"].(map[string]any)
	require.EqualValues(t, 3, rows["loaded"])

	_, body = get(t, srv, "/api/metrics/breakdown?dim=regimen")
	require.Equal(t, "regimen", body["dimension"])

	_, body = get(t, srv, "/api/metrics/trend?stage=contacted")
	require.Equal(t, []any{"Mes 8"}, body["labels"])

	_, body = get(t, srv, "/api/metrics/weekly?unique=true")
	require.Len(t, body["rows"], 1)

	_, body = get(t, srv, "/api/filters")
	require.Equal(t, []any{"Stock", "Web"}, body["tipos"])

	_, body = get(t, srv, "/api/rows?tipoBase=Web")
	require.EqualValues(t, 3, body["total"])
	require.EqualValues(t, 2, body["returned"])
	next := body["nextCursor"].(string)
	require.NotEmpty(t, next)

	_, body = get(t, srv, "/api/rows?tipoBase=Web&cursor="+next)
	require.EqualValues(t, 1, body["returned"])

	resp, body = get(t, srv, "/api/rows?cursor="+next)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "CURSOR_INVALID", body["code"])

	resp, err := http.Get(srv.URL + "/api/metrics/daily")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/logs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var logs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&logs))
	require.Len(t, logs, 3)
	require.Equal(t, "c.xlsx", logs[2]["fileName"])
	require.EqualValues(t, 4, logs[2]["totalRows"])
}

func TestUploadRejectedFile(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)

	resp, body := upload(t, srv, adminKey, nil, part{"mala.xlsx", workbook(t, []any{"Saliente", 45870, ""})})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, false, body["ok"])
	require.NotEmpty(t, body["issues"])
	require.Equal(t, "ROW_VALIDATION", body["code"])
	require.Contains(t, body["error"], "mala.xlsx")

	resp, _ = get(t, srv, "/api/snapshot")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestUploadReplaceBasesPolicy(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	resp, _ := upload(t, srv, adminKey, nil, part{"a.xlsx", workbook(t, dataRow("1", "Web", "Conecta"), dataRow("2", "Stock", "Conecta"))})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := upload(t, srv, adminKey, map[string]string{HeaderReplaceBases: "Stock"}, part{"b.xlsx", workbook(t, dataRow("5", "Web", "Conecta"))})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "MERGE_POLICY", body["code"])
	require.True(t, strings.HasPrefix(body["error"].(string), "Reemplazo inválido"), body["error"])

	resp, body = upload(t, srv, adminKey, map[string]string{HeaderReplaceBases: "Web"}, part{"b.xlsx", workbook(t, dataRow("5", "Web", "Conecta"))})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "replace_bases", body["mode"])
	require.EqualValues(t, 2, body["totalRows"])
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/snapshot", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.AdminKeyHeader, adminKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := decode(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Expected multipart/form-data with a file field.", body["error"])

	resp, body = upload(t, srv, adminKey, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Missing file field(s).", body["error"])
}

func TestUploadTooLarge(t *testing.T) {
	srv := newTestServer(t, 1024, adminKey)
	resp, body := upload(t, srv, adminKey, nil, part{"big.xlsx", bytes.Repeat([]byte("x"), 4096)})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, "PAYLOAD_TOO_LARGE", body["code"])
}

func TestPreviewDoesNotMerge(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	body, ct := multipartBody(t, part{"a.xlsx", workbook(t, dataRow("1", "Web", "Conecta"))})
	resp, err := http.Post(srv.URL+"/api/preview", ct, body)
	require.NoError(t, err)
	out := decode(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, out["ok"])
	require.Len(t, out["results"], 1)

	resp, _ = get(t, srv, "/api/snapshot")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestQueryValidation(t *testing.T) {
	srv := newTestServer(t, 0, adminKey)
	for _, path := range []string{
		"/api/metrics/totals?mes=13",
		"/api/metrics/trend?stage=nope",
		"/api/metrics/breakdown?dim=planet",
		"/api/metrics/weekly?unique=maybe",
		"/api/rows?pageSize=-1",
	} {
		resp, body := get(t, srv, path)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		require.Equal(t, "VALIDATION", body["code"], path)
	}
}
