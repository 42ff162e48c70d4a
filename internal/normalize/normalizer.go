// Package normalize maps raw spreadsheet rows onto the canonical funnel.DataRow.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// Normalizer converts header-keyed raw rows into DataRows.
type Normalizer struct {
	dates    *dates.Parser
	calendar dates.Calendar
}

// New returns a Normalizer using the given date parser and calendar.
func New(parser *dates.Parser, cal dates.Calendar) *Normalizer {
	if parser == nil {
		parser = dates.NewParser(dates.DayFirst)
	}
	return &Normalizer{dates: parser, calendar: cal}
}

// WithDate1904 returns a Normalizer reading date serials in the given workbook
// date system.
func (n *Normalizer) WithDate1904(date1904 bool) *Normalizer {
	return &Normalizer{dates: n.dates.WithDate1904(date1904), calendar: n.calendar}
}

// Calendar returns the calendar used to derive fields.
func (n *Normalizer) Calendar() dates.Calendar { return n.calendar }

// Normalize maps raw (header → cell text) into a DataRow. rowIndex is the
// zero-based worksheet row, so messages name spreadsheet row rowIndex+1. The
// row is nil only when the identifier is missing; that case is also reported
// as an issue.
func (n *Normalizer) Normalize(raw RawRow, rowIndex int) (*funnel.DataRow, []funnel.ParseIssue) {
	idx := newIndex(raw)

	rut := codeString(idx.lookup(FieldRutBase))
	if rut == "" {
		return nil, []funnel.ParseIssue{
			funnel.RowIssue(rowIndex, "Rut Base", fmt.Sprintf("Fila %d: falta Rut Base", rowIndex+1)),
		}
	}

	row := &funnel.DataRow{
		RutBase:      rut,
		TipoLlamada:  idx.lookup(FieldTipoLlamada),
		FechaCarga:   n.date(idx.lookup(FieldFechaCarga)),
		TipoBase:     idx.lookup(FieldTipoBase),
		FechaGestion: n.date(idx.lookup(FieldFechaGestion)),
		Conecta:      idx.lookup(FieldConecta),
		Interesa:     idx.lookup(FieldInteresa),
		Regimen:      idx.lookup(FieldRegimen),
		SedeInteres:  CampusName(codeString(idx.lookup(FieldSedeInteres))),
		AfCampus:     CampusName(codeString(idx.lookup(FieldAfCampus))),
		McCampus:     CampusName(codeString(idx.lookup(FieldMcCampus))),
		SemanaOrigen: codeString(idx.lookup(FieldSemana)),
		Af:           strings.ToUpper(codeString(idx.lookup(FieldAf))),
		FechaAf:      n.date(idx.lookup(FieldFechaAf)),
		Mc:           strings.ToUpper(codeString(idx.lookup(FieldMc))),
		FechaMc:      n.date(idx.lookup(FieldFechaMc)),
	}
	row.Derive(n.calendar)
	return row, nil
}

func (n *Normalizer) date(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, ok := n.dates.Parse(v)
	if !ok {
		return nil
	}
	return &t
}

// codeString keeps code-like cells in their textual form. Numeric cells
// already arrive as integer text from the workbook reader, so text such as
// "12.000" is kept as written.
func codeString(v string) string {
	return strings.TrimSpace(v)
}

// IsBlank reports whether every cell of a raw row is empty.
func IsBlank(raw RawRow) bool {
	for _, v := range raw {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
