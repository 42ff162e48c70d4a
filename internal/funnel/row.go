// Package funnel defines the canonical lead record, the snapshot dataset, and
// the stage predicates shared by filtering and metrics.
package funnel

import (
	"time"

	"github.com/vinodismyname/funnelsnap/internal/dates"
)

// DataRow is one funnel interaction record. Empty strings stand for null.
type DataRow struct {
	RutBase      string     `json:"rutBase"`
	TipoLlamada  string     `json:"tipoLlamada,omitempty"`
	FechaCarga   *time.Time `json:"fechaCarga"`
	TipoBase     string     `json:"tipoBase,omitempty"`
	FechaGestion *time.Time `json:"fechaGestion"`
	Conecta      string     `json:"conecta,omitempty"`
	Interesa     string     `json:"interesa,omitempty"`
	Regimen      string     `json:"regimen,omitempty"`
	SedeInteres  string     `json:"sedeInteres,omitempty"`
	AfCampus     string     `json:"afCampus,omitempty"`
	McCampus     string     `json:"mcCampus,omitempty"`
	// SemanaOrigen is the week label as supplied by the source file.
	SemanaOrigen string     `json:"semanaOrigen,omitempty"`
	Af           string     `json:"af,omitempty"`
	FechaAf      *time.Time `json:"fechaAf"`
	Mc           string     `json:"mc,omitempty"`
	FechaMc      *time.Time `json:"fechaMc"`

	// Derived on load from FechaGestion; never read back as source of truth.
	Semana    string `json:"semana,omitempty"`
	Mes       int    `json:"mes,omitempty"`
	DiaNumero int    `json:"diaNumero,omitempty"`
	DiaSemana string `json:"diaSemana,omitempty"`
}

// Derive recomputes every derived field against the calendar and enforces the
// attendance and enrollment date rules.
func (r *DataRow) Derive(cal dates.Calendar) {
	if r.Af == "" {
		r.FechaAf = nil
	}
	if r.Mc == "" {
		r.FechaMc = nil
	}

	r.Mes, r.DiaNumero, r.DiaSemana = 0, 0, ""
	r.Semana = r.ResolvedWeek(cal)

	t, ok := cal.Effective(r.FechaGestion)
	if !ok {
		return
	}
	r.Mes = int(t.Month())
	r.DiaNumero = t.Day()
	r.DiaSemana = cal.Weekday(t)
}

// ResolvedWeek prefers the correlative label of an in-window management date
// and falls back to the supplied week label. A management date outside the
// window yields no week, so such rows drop out of every date grouping.
func (r *DataRow) ResolvedWeek(cal dates.Calendar) string {
	if r.FechaGestion == nil || r.FechaGestion.IsZero() {
		return r.SemanaOrigen
	}
	t, ok := cal.Effective(r.FechaGestion)
	if !ok {
		return ""
	}
	if label, ok := cal.WeekLabel(t); ok {
		return label
	}
	return r.SemanaOrigen
}

// Meta describes the active snapshot.
type Meta struct {
	ImportedAtISO  string `json:"importedAtISO"`
	SourceFileName string `json:"sourceFileName"`
	SheetName      string `json:"sheetName"`
	RowCount       int    `json:"rowCount"`
	// Version changes on every merge.
	Version string `json:"version,omitempty"`
}

// Dataset is the single canonical row collection.
type Dataset struct {
	Meta Meta      `json:"meta"`
	Rows []DataRow `json:"rows"`
}

// ParseIssue reports a structural or row-level problem found while parsing.
type ParseIssue struct {
	RowIndex *int   `json:"rowIndex,omitempty"`
	Column   string `json:"column,omitempty"`
	Message  string `json:"message"`
}

// RowIssue builds a ParseIssue bound to a data row.
func RowIssue(rowIndex int, column, message string) ParseIssue {
	idx := rowIndex
	return ParseIssue{RowIndex: &idx, Column: column, Message: message}
}

// Mode selects the merge policy applied to an upload.
type Mode string

const (
	ModeReplace      Mode = "replace"
	ModeAppend       Mode = "append"
	ModeReplaceBases Mode = "replace_bases"
)

// UploadLogEntry is one immutable audit record of a merged file.
type UploadLogEntry struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	FileName  string   `json:"fileName"`
	SheetName string   `json:"sheetName"`
	Rows      int      `json:"rows"`
	Mode      Mode     `json:"mode"`
	TotalRows int      `json:"totalRows"`
	Bases     []string `json:"bases,omitempty"`
}

// ISOTime formats t the way snapshot metadata stores timestamps.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
