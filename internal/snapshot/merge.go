package snapshot

import (
	"sort"
	"strings"
	"time"

	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

// keySep cannot appear in trimmed spreadsheet text.
const keySep = "\x1f"

// Upload is one parsed file offered for merging.
type Upload struct {
	FileName string
	Dataset  *funnel.Dataset
}

// MergeRequest selects the policy and the uploads to apply.
type MergeRequest struct {
	Mode         funnel.Mode
	Uploads      []Upload
	ReplaceBases []string
}

// ResolveMode maps the upload-mode header and the replace-bases list to a
// merge mode. Anything other than "append" is a replace; a replace with bases
// is scoped to those bases.
func ResolveMode(header string, bases []string) funnel.Mode {
	switch {
	case strings.EqualFold(strings.TrimSpace(header), string(funnel.ModeAppend)):
		return funnel.ModeAppend
	case strings.EqualFold(strings.TrimSpace(header), string(funnel.ModeReplaceBases)),
		len(bases) > 0:
		return funnel.ModeReplaceBases
	default:
		return funnel.ModeReplace
	}
}

// SplitBases parses a comma-separated base list, dropping blanks.
func SplitBases(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects requests that cannot be applied as a whole. Nothing is
// written when Validate fails.
func (req MergeRequest) Validate() error {
	switch req.Mode {
	case funnel.ModeReplace, funnel.ModeAppend, funnel.ModeReplaceBases:
	default:
		return apperr.Newf(apperr.Validation, "modo de carga inválido: %q", req.Mode)
	}
	if len(req.Uploads) == 0 {
		return apperr.New(apperr.Validation, "Falta el campo file.")
	}
	for _, u := range req.Uploads {
		if u.Dataset == nil {
			return apperr.Newf(apperr.Validation, "el archivo %s no fue procesado", u.FileName)
		}
	}
	if req.Mode == funnel.ModeReplaceBases {
		return validateBases(req.Uploads, req.ReplaceBases)
	}
	return nil
}

// validateBases enforces the replace-by-category rules: one base per file,
// every file base selected, every selected base present.
func validateBases(uploads []Upload, selected []string) error {
	if len(selected) == 0 {
		return apperr.New(apperr.MergePolicy, "Reemplazo inválido: no seleccionaste ninguna base.")
	}
	want := make(map[string]struct{}, len(selected))
	for _, b := range selected {
		want[strings.ToLower(b)] = struct{}{}
	}

	found := map[string]struct{}{}
	for _, u := range uploads {
		bases := datasetBases(u.Dataset)
		switch len(bases) {
		case 0:
			return apperr.Newf(apperr.MergePolicy,
				"Reemplazo inválido: el archivo %s no trae Tipo Base.", u.FileName)
		case 1:
			found[bases[0]] = struct{}{}
		default:
			return apperr.Newf(apperr.MergePolicy,
				"Reemplazo inválido: el archivo %s mezcla varias bases (%s). Sube un archivo por base.",
				u.FileName, strings.Join(bases, ", "))
		}
	}

	var extra []string
	for b := range found {
		if _, ok := want[b]; !ok {
			extra = append(extra, b)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return apperr.Newf(apperr.MergePolicy,
			"Reemplazo inválido: el/los archivo(s) contienen Tipo Base adicional (%s). Selecciona esas bases también o usa Agregar.",
			strings.Join(extra, ", "))
	}

	var missing []string
	for _, b := range selected {
		if _, ok := found[strings.ToLower(b)]; !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return apperr.Newf(apperr.MergePolicy,
			"Reemplazo inválido: seleccionaste %s pero el/los archivo(s) no traen filas para %s.",
			strings.Join(selected, ", "), strings.Join(missing, ", "))
	}
	return nil
}

// datasetBases lists the distinct lowercased categories of a dataset, sorted.
func datasetBases(ds *funnel.Dataset) []string {
	seen := map[string]struct{}{}
	for i := range ds.Rows {
		if b := strings.ToLower(strings.TrimSpace(ds.Rows[i].TipoBase)); b != "" {
			seen[b] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// combine applies the merge policy to the existing rows. existing may be nil.
func combine(req MergeRequest, existing []funnel.DataRow) []funnel.DataRow {
	var incoming int
	for _, u := range req.Uploads {
		incoming += len(u.Dataset.Rows)
	}

	var out []funnel.DataRow
	switch req.Mode {
	case funnel.ModeAppend:
		out = make([]funnel.DataRow, 0, len(existing)+incoming)
		out = append(out, existing...)
	case funnel.ModeReplaceBases:
		drop := make(map[string]struct{}, len(req.ReplaceBases))
		for _, b := range req.ReplaceBases {
			drop[strings.ToLower(b)] = struct{}{}
		}
		out = make([]funnel.DataRow, 0, len(existing)+incoming)
		for _, r := range existing {
			if _, ok := drop[strings.ToLower(strings.TrimSpace(r.TipoBase))]; !ok {
				out = append(out, r)
			}
		}
	default:
		out = make([]funnel.DataRow, 0, incoming)
	}
	for _, u := range req.Uploads {
		out = append(out, u.Dataset.Rows...)
	}
	return Dedup(out)
}

// Dedup collapses rows with identical keys, keeping the first occurrence.
func Dedup(rows []funnel.DataRow) []funnel.DataRow {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := Key(&r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Key is the content identity of a row. Derived fields are excluded; the
// source week label is used instead of the resolved one.
func Key(r *funnel.DataRow) string {
	parts := [...]string{
		r.RutBase,
		r.TipoBase,
		r.TipoLlamada,
		stamp(r.FechaCarga),
		stamp(r.FechaGestion),
		r.Conecta,
		r.Interesa,
		r.Regimen,
		r.SedeInteres,
		r.AfCampus,
		r.McCampus,
		r.SemanaOrigen,
		r.Af,
		stamp(r.FechaAf),
		r.Mc,
		stamp(r.FechaMc),
	}
	return strings.Join(parts[:], keySep)
}

func stamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// describe summarizes the uploads for snapshot metadata.
func describe(uploads []Upload) (files, sheets string) {
	var names, sheetNames []string
	seenSheet := map[string]struct{}{}
	for _, u := range uploads {
		names = append(names, u.FileName)
		s := u.Dataset.Meta.SheetName
		if _, ok := seenSheet[s]; !ok && s != "" {
			seenSheet[s] = struct{}{}
			sheetNames = append(sheetNames, s)
		}
	}
	return strings.Join(names, ", "), strings.Join(sheetNames, ", ")
}
