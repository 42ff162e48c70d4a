// Package ingest selects the data sheet of an uploaded workbook and turns it
// into a validated funnel.Dataset.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vinodismyname/funnelsnap/config"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/internal/normalize"
	"github.com/vinodismyname/funnelsnap/internal/security"
	"github.com/vinodismyname/funnelsnap/internal/workbooks"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

// requiredBonus outweighs any realistic row count so a sheet with every
// required column always beats one without.
const requiredBonus = 1_000_000

const (
	msgNoSheets      = "No se encontró ninguna hoja en el Excel."
	msgEmptySheet    = "El archivo no contiene filas de datos."
	msgMissingColumn = "Falta la columna requerida: %s"
)

// SheetScore records how a sheet ranked during selection.
type SheetScore struct {
	Name           string   `json:"name"`
	Score          int      `json:"score"`
	Rows           int      `json:"rows"`
	MissingColumns []string `json:"missingColumns,omitempty"`
}

// Preview is the raw head of the selected sheet.
type Preview struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// ParseResult is either an accepted dataset or the issues that rejected the file.
// Preview is populated in both cases.
type ParseResult struct {
	OK        bool                `json:"ok"`
	FileName  string              `json:"fileName"`
	SheetName string              `json:"sheetName,omitempty"`
	Dataset   *funnel.Dataset     `json:"dataset,omitempty"`
	Issues    []funnel.ParseIssue `json:"issues,omitempty"`
	Preview   Preview             `json:"preview"`
	Scores    []SheetScore        `json:"scores,omitempty"`
}

// Parser reads workbooks and normalizes the best sheet.
type Parser struct {
	reader      *workbooks.Reader
	normalizer  *normalize.Normalizer
	previewRows int
	now         func() time.Time
}

// NewParser constructs a Parser. previewRows <= 0 uses the default preview size.
func NewParser(reader *workbooks.Reader, n *normalize.Normalizer, previewRows int) *Parser {
	if previewRows <= 0 {
		previewRows = config.DefaultPreviewRowLimit
	}
	return &Parser{reader: reader, normalizer: n, previewRows: previewRows, now: time.Now}
}

// WithClock overrides the clock used for import timestamps.
func (p *Parser) WithClock(now func() time.Time) *Parser {
	p.now = now
	return p
}

// ParseWorkbook parses an in-memory workbook. The error is non-nil only when
// the bytes are not a readable workbook or capacity could not be acquired;
// content problems are reported through ParseResult.Issues.
func (p *Parser) ParseWorkbook(ctx context.Context, data []byte, fileName string) (ParseResult, error) {
	sheets, err := p.reader.ReadBytes(ctx, data)
	if err != nil {
		return ParseResult{FileName: fileName}, classifyReadError(err)
	}
	return p.ParseSheets(sheets, fileName), nil
}

// ParseFile parses a workbook from the local filesystem.
func (p *Parser) ParseFile(ctx context.Context, path string) (ParseResult, error) {
	sheets, err := p.reader.ReadFile(ctx, path)
	if err != nil {
		return ParseResult{FileName: path}, classifyReadError(err)
	}
	return p.ParseSheets(sheets, path), nil
}

// ParseSheets selects a sheet and normalizes its rows.
func (p *Parser) ParseSheets(sheets []workbooks.Sheet, fileName string) ParseResult {
	res := ParseResult{FileName: fileName}
	if len(sheets) == 0 {
		res.Issues = []funnel.ParseIssue{{Message: msgNoSheets}}
		return res
	}

	best, scores := SelectSheet(sheets)
	sheet := sheets[best]
	res.Scores = scores
	res.SheetName = sheet.Name
	res.Preview = Preview{Headers: sheet.Headers, Rows: sheet.Preview(p.previewRows)}

	if len(sheet.Rows) == 0 {
		res.Issues = []funnel.ParseIssue{{Message: msgEmptySheet}}
		return res
	}
	if missing := scores[best].MissingColumns; len(missing) > 0 {
		for _, col := range missing {
			res.Issues = append(res.Issues, funnel.ParseIssue{Column: col, Message: fmt.Sprintf(msgMissingColumn, col)})
		}
		return res
	}

	n := p.normalizer.WithDate1904(sheet.Date1904)
	rows := make([]funnel.DataRow, 0, len(sheet.Rows))
	for i, cells := range sheet.Rows {
		rec := normalize.NewRawRow(sheet.Headers, cells)
		if normalize.IsBlank(rec) {
			continue
		}
		row, issues := n.Normalize(rec, sheet.Line(i)-1)
		res.Issues = append(res.Issues, issues...)
		if row != nil {
			rows = append(rows, *row)
		}
	}
	if len(res.Issues) > 0 {
		return res
	}

	res.OK = true
	res.Dataset = &funnel.Dataset{
		Meta: funnel.Meta{
			ImportedAtISO:  funnel.ISOTime(p.now()),
			SourceFileName: fileName,
			SheetName:      sheet.Name,
			RowCount:       len(rows),
		},
		Rows: rows,
	}
	return res
}

// SelectSheet scores every sheet and returns the index of the best one. The
// score is the required-column bonus plus the data row count; ties keep the
// earlier sheet.
func SelectSheet(sheets []workbooks.Sheet) (int, []SheetScore) {
	scores := make([]SheetScore, len(sheets))
	best := 0
	for i, s := range sheets {
		missing := normalize.MissingColumns(s.Headers)
		score := len(s.Rows)
		if len(missing) == 0 {
			score += requiredBonus
		}
		scores[i] = SheetScore{Name: s.Name, Score: score, Rows: len(s.Rows), MissingColumns: missing}
		if score > scores[best].Score {
			best = i
		}
	}
	return best, scores
}

// Err converts a rejected result into an apperr for transports.
func (r ParseResult) Err() error {
	if r.OK {
		return nil
	}
	msg := fmt.Sprintf("El archivo %s no es válido.", r.FileName)
	if len(r.Issues) > 0 {
		msg = fmt.Sprintf("El archivo %s no es válido: %s", r.FileName, r.Issues[0].Message)
	}
	code := apperr.InvalidWorkbook
	for _, is := range r.Issues {
		if is.RowIndex != nil {
			code = apperr.RowValidation
			break
		}
	}
	return apperr.New(code, msg)
}

func classifyReadError(err error) error {
	switch {
	case apperr.CodeOf(err) != apperr.Internal:
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.BusyResource, err, "no hay capacidad para abrir el archivo")
	case errors.Is(err, security.ErrNotAllowed), errors.Is(err, security.ErrUnsupportedExtension):
		return apperr.Wrap(apperr.PermissionDenied, err, "ruta fuera de los directorios permitidos")
	case errors.Is(err, security.ErrNotFound):
		return apperr.Wrap(apperr.Validation, err, "archivo no encontrado")
	case errors.Is(err, workbooks.ErrUnsupportedFormat):
		return apperr.Wrap(apperr.UnsupportedFormat, err, "formato no soportado; usa .xlsx")
	case errors.Is(err, workbooks.ErrTooManyRows):
		return apperr.Wrap(apperr.LimitExceeded, err, "la hoja supera el máximo de filas permitido")
	default:
		return apperr.Wrap(apperr.InvalidWorkbook, err, "no se pudo leer el archivo Excel")
	}
}
