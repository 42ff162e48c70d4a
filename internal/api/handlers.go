package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/vinodismyname/funnelsnap/internal/filter"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/ingest"
	"github.com/vinodismyname/funnelsnap/internal/metrics"
	"github.com/vinodismyname/funnelsnap/internal/security"
	"github.com/vinodismyname/funnelsnap/internal/service"
	"github.com/vinodismyname/funnelsnap/internal/snapshot"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
	"github.com/vinodismyname/funnelsnap/pkg/version"
)

const (
	msgUnauthorized  = "Unauthorized."
	msgMisconfigured = "Server misconfigured."
	msgNotMultipart  = "Expected multipart/form-data with a file field."
	msgMissingFile   = "Missing file field(s)."
)

// multipartMemory is the in-memory part of a parsed form; the rest spills to
// temporary files.
const multipartMemory = 8 << 20

type errorBody struct {
	OK    bool        `json:"ok"`
	Code  apperr.Code `json:"code,omitempty"`
	Error string      `json:"error"`
}

// rejectedBody is the first rejected file with the error that stopped the upload.
type rejectedBody struct {
	ingest.ParseResult
	Code  apperr.Code `json:"code"`
	Error string      `json:"error"`
}

type mergeBody struct {
	OK        bool        `json:"ok"`
	Mode      funnel.Mode `json:"mode"`
	Meta      funnel.Meta `json:"meta"`
	TotalRows int         `json:"totalRows"`
}

type previewBody struct {
	OK      bool                 `json:"ok"`
	Results []ingest.ParseResult `json:"results"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondNoStore(w http.ResponseWriter, data any) {
	w.Header().Set("Cache-Control", "no-store")
	respondJSON(w, http.StatusOK, data)
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := service.AsRejected(err); ok {
		respondJSON(w, http.StatusBadRequest, rejectedBody{
			ParseResult: rej.Result,
			Code:        apperr.CodeOf(err),
			Error:       apperr.Message(err),
		})
		return
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("code", string(apperr.CodeOf(err))).Msg("request failed")
	}
	respondJSON(w, status, errorBody{Code: apperr.CodeOf(err), Error: apperr.Message(err)})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.String()})
}

// GetSnapshot returns the active dataset or 204 when none exists.
func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ds, err := h.svc.Snapshot(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if ds == nil {
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondNoStore(w, ds)
}

// GetLogs returns the upload log, oldest first.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.svc.Logs(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondNoStore(w, logs)
}

// PostSnapshot parses the uploaded files and merges them. The admin key is
// checked before the body is read.
func (h *Handlers) PostSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Check(r.Header.Get(security.AdminKeyHeader)); err != nil {
		if errors.Is(err, security.ErrMisconfigured) {
			hlog.FromRequest(r).Error().Err(err).Msg("upload refused")
			respondJSON(w, http.StatusInternalServerError, errorBody{Code: apperr.Internal, Error: msgMisconfigured})
			return
		}
		respondJSON(w, http.StatusUnauthorized, errorBody{Code: apperr.Unauthorized, Error: msgUnauthorized})
		return
	}

	files, err := h.readFiles(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	res, err := h.svc.Ingest(r.Context(), service.IngestRequest{
		Files:        files,
		Mode:         r.Header.Get(HeaderUploadMode),
		ReplaceBases: snapshot.SplitBases(r.Header.Get(HeaderReplaceBases)),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, mergeBody{OK: true, Mode: res.Mode, Meta: res.Meta, TotalRows: res.TotalRows})
}

// PostPreview parses the uploaded files without merging.
func (h *Handlers) PostPreview(w http.ResponseWriter, r *http.Request) {
	files, err := h.readFiles(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	body := previewBody{OK: true, Results: make([]ingest.ParseResult, 0, len(files))}
	for _, f := range files {
		res, err := h.svc.Parse(r.Context(), f)
		if err != nil {
			respondError(w, r, err)
			return
		}
		body.OK = body.OK && res.OK
		body.Results = append(body.Results, res)
	}
	respondJSON(w, http.StatusOK, body)
}

// readFiles reads every "file" part of a multipart body bounded by the
// upload limit.
func (h *Handlers) readFiles(w http.ResponseWriter, r *http.Request) ([]service.File, error) {
	if !strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data") {
		return nil, apperr.New(apperr.Validation, msgNotMultipart)
	}
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, apperr.Wrap(apperr.PayloadTooLarge, err, "")
		}
		return nil, apperr.Wrap(apperr.Validation, err, msgNotMultipart)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		return nil, apperr.New(apperr.Validation, msgMissingFile)
	}
	files := make([]service.File, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "no se pudo leer "+fh.Filename)
		}
		files = append(files, service.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// GetFilters lists the filter options of the active snapshot.
func (h *Handlers) GetFilters(w http.ResponseWriter, r *http.Request) {
	ch, err := h.svc.Options(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ch)
}

// GetTotals returns stage counts and rates.
func (h *Handlers) GetTotals(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Totals(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetTrend returns the month by category table for ?stage=.
func (h *Handlers) GetTrend(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	stage, err := funnel.ParseStage(r.URL.Query().Get("stage"))
	if err != nil {
		respondError(w, r, apperr.Wrap(apperr.Validation, err, "stage inválido"))
		return
	}
	out, err := h.svc.Trend(r.Context(), f, stage)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetWeekly returns the weekly summary; ?unique=true counts identifiers.
func (h *Handlers) GetWeekly(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	unique := false
	if v := r.URL.Query().Get("unique"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, r, apperr.Wrap(apperr.Validation, err, "unique debe ser true o false"))
			return
		}
		unique = b
	}
	out, err := h.svc.Weekly(r.Context(), f, unique)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetBreakdown groups rows by ?dim=.
func (h *Handlers) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	dim, err := metrics.ParseDimension(r.URL.Query().Get("dim"))
	if err != nil {
		respondError(w, r, apperr.Wrap(apperr.Validation, err, "dim debe ser campus, regimen, weekday o week"))
		return
	}
	out, err := h.svc.Breakdown(r.Context(), f, dim)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetDaily returns the day-of-month series.
func (h *Handlers) GetDaily(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Daily(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetRows pages filtered rows with ?cursor= and ?pageSize=.
func (h *Handlers) GetRows(w http.ResponseWriter, r *http.Request) {
	f, ok := filters(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	size := 0
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, r, apperr.New(apperr.Validation, "pageSize debe ser un entero positivo"))
			return
		}
		size = n
	}
	page, err := h.svc.ListRows(r.Context(), f, q.Get("cursor"), size)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

func filters(w http.ResponseWriter, r *http.Request) (filter.Filters, bool) {
	f, err := filter.FromQuery(r.URL.Query())
	if err != nil {
		respondError(w, r, err)
		return filter.Filters{}, false
	}
	return f, true
}
