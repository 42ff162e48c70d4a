package workbooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet is one worksheet materialized as a header row plus data rows. Data
// rows are padded to the header width; fully blank rows are dropped.
type Sheet struct {
	Name    string
	Headers []string
	Rows    [][]string
	// Lines holds the 1-based worksheet row number of each entry in Rows.
	Lines []int
	// Date1904 reports that the workbook counts date serials from 1904.
	Date1904 bool
}

// Line returns the worksheet row number of data row i.
func (s Sheet) Line(i int) int {
	if i >= 0 && i < len(s.Lines) {
		return s.Lines[i]
	}
	return i + 2
}

// Preview returns up to n raw data rows as read from the file.
func (s Sheet) Preview(n int) [][]string {
	if n <= 0 || n > len(s.Rows) {
		n = len(s.Rows)
	}
	out := make([][]string, n)
	copy(out, s.Rows[:n])
	return out
}

// WorkbookGate coordinates capacity for concurrently open workbooks (backed by runtime.Controller).
type WorkbookGate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// PathValidator abstracts filesystem path validation (backed by security.PathGuard).
type PathValidator interface {
	ValidateOpenPath(path string) (string, error)
}

var (
	// ErrUnsupportedFormat indicates a file extension excelize cannot read.
	ErrUnsupportedFormat = errors.New("workbooks: unsupported format")
	// ErrTooManyRows indicates a sheet exceeded the configured row cap.
	ErrTooManyRows = errors.New("workbooks: sheet exceeds row limit")
)

// Reader opens workbooks and materializes their sheets. Cell values are read
// raw so date cells arrive as spreadsheet serial numbers. Numeric cells holding
// a whole number written in float form ("12345678.0", "1.2345678E7") are
// rewritten as the integer text; text cells are kept exactly as stored.
type Reader struct {
	gate      WorkbookGate
	validator PathValidator
	maxRows   int
}

// NewReader constructs a Reader. gate and validator may be nil; maxRows <= 0
// disables the row cap.
func NewReader(gate WorkbookGate, validator PathValidator, maxRows int) *Reader {
	return &Reader{gate: gate, validator: validator, maxRows: maxRows}
}

// ReadBytes reads every sheet of an in-memory workbook.
func (r *Reader) ReadBytes(ctx context.Context, data []byte) ([]Sheet, error) {
	return r.read(ctx, bytes.NewReader(data))
}

// ReadFile validates the path when a validator is configured and reads the workbook.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if r.validator != nil {
		canonical, err := r.validator.ValidateOpenPath(path)
		if err != nil {
			return nil, err
		}
		path = canonical
	}

	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("workbooks: open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return r.sheets(ctx, f)
}

func (r *Reader) read(ctx context.Context, src io.Reader) ([]Sheet, error) {
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.release()

	f, err := excelize.OpenReader(src, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("workbooks: open: %w", err)
	}
	defer f.Close()
	return r.sheets(ctx, f)
}

func (r *Reader) sheets(ctx context.Context, f *excelize.File) ([]Sheet, error) {
	props, err := f.GetWorkbookProps()
	if err != nil {
		return nil, fmt.Errorf("workbooks: workbook properties: %w", err)
	}
	date1904 := props.Date1904 != nil && *props.Date1904

	names := f.GetSheetList()
	out := make([]Sheet, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := r.sheet(f, name)
		if err != nil {
			return nil, err
		}
		s.Date1904 = date1904
		out = append(out, s)
	}
	return out, nil
}

// sheet streams one worksheet with excelize's row iterator.
func (r *Reader) sheet(f *excelize.File, name string) (Sheet, error) {
	s := Sheet{Name: name}
	rows, err := f.Rows(name)
	if err != nil {
		return s, fmt.Errorf("workbooks: rows %q: %w", name, err)
	}
	defer rows.Close()

	headerSeen := false
	line := 0
	for rows.Next() {
		line++
		cols, err := rows.Columns()
		if err != nil {
			return s, fmt.Errorf("workbooks: read %q: %w", name, err)
		}
		if isBlank(cols) {
			continue
		}
		if !headerSeen {
			s.Headers = trimAll(cols)
			headerSeen = true
			continue
		}
		if r.maxRows > 0 && len(s.Rows) >= r.maxRows {
			return s, fmt.Errorf("%w: %q has more than %d rows", ErrTooManyRows, name, r.maxRows)
		}
		if err := wholeNumbers(f, name, line, cols); err != nil {
			return s, err
		}
		s.Rows = append(s.Rows, pad(cols, len(s.Headers)))
		s.Lines = append(s.Lines, line)
	}
	return s, rows.Error()
}

// wholeNumbers rewrites integral float renderings of numeric cells in place.
func wholeNumbers(f *excelize.File, sheet string, line int, cols []string) error {
	for i, v := range cols {
		n, ok := integralFloat(v)
		if !ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(i+1, line)
		if err != nil {
			return fmt.Errorf("workbooks: cell name: %w", err)
		}
		typ, err := f.GetCellType(sheet, cell)
		if err != nil {
			return fmt.Errorf("workbooks: cell type %s!%s: %w", sheet, cell, err)
		}
		if typ == excelize.CellTypeNumber || typ == excelize.CellTypeUnset {
			cols[i] = n
		}
	}
	return nil
}

// integralFloat reports whether v is a whole number written with a decimal
// point or exponent, returning its integer text.
func integralFloat(v string) (string, bool) {
	s := strings.TrimSpace(v)
	if s == "" || !strings.ContainsAny(s, ".eE") {
		return "", false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || math.Abs(f) >= 1e15 {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', 0, 64), true
}

func (r *Reader) acquire(ctx context.Context) error {
	if r.gate == nil {
		return nil
	}
	return r.gate.AcquireWorkbook(ctx)
}

func (r *Reader) release() {
	if r.gate == nil {
		return
	}
	r.gate.ReleaseWorkbook()
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func trimAll(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

func pad(cols []string, width int) []string {
	if len(cols) >= width {
		return cols
	}
	out := make([]string, width)
	copy(out, cols)
	return out
}
