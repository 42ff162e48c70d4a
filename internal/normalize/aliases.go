package normalize

import (
	"sort"
	"strings"

	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// Field is a logical column of the canonical schema.
type Field string

const (
	FieldTipoLlamada  Field = "tipoLlamada"
	FieldFechaCarga   Field = "fechaCarga"
	FieldRutBase      Field = "rutBase"
	FieldTipoBase     Field = "tipoBase"
	FieldFechaGestion Field = "fechaGestion"
	FieldConecta      Field = "conecta"
	FieldInteresa     Field = "interesa"
	FieldRegimen      Field = "regimen"
	FieldSedeInteres  Field = "sedeInteres"
	FieldAfCampus     Field = "afCampus"
	FieldMcCampus     Field = "mcCampus"
	FieldSemana       Field = "semana"
	FieldAf           Field = "af"
	FieldFechaAf      Field = "fechaAf"
	FieldMc           Field = "mc"
	FieldFechaMc      Field = "fechaMc"
)

// Alias lists the header spellings accepted for a field in priority order.
// Label is the name used in messages.
type Alias struct {
	Field    Field
	Label    string
	Headers  []string
	Required bool
}

// Aliases is the header table. A new historical header variant is one more
// entry in Headers.
var Aliases = []Alias{
	{Field: FieldTipoLlamada, Label: "Tipo Llamada", Headers: []string{"Tipo Llamada"}, Required: true},
	{Field: FieldFechaCarga, Label: "Fecha Carga", Headers: []string{"Fecha Carga"}, Required: true},
	{Field: FieldRutBase, Label: "Rut Base", Headers: []string{"Rut Base", "Rut"}, Required: true},
	{Field: FieldTipoBase, Label: "Tipo Base", Headers: []string{"Tipo Base"}, Required: true},
	{Field: FieldFechaGestion, Label: "Fecha Gestion", Headers: []string{"Fecha Gestion"}, Required: true},
	{Field: FieldConecta, Label: "Conecta", Headers: []string{"Conecta"}, Required: true},
	{Field: FieldInteresa, Label: "Interesa", Headers: []string{"Citas", "Cita", "Citas Presente", "Interesa"}, Required: true},
	{Field: FieldRegimen, Label: "Regimen", Headers: []string{"Regimen"}, Required: true},
	{Field: FieldSedeInteres, Label: "Sede Interes", Headers: []string{"Sede Interes"}, Required: true},
	{Field: FieldSemana, Label: "Semana", Headers: []string{"Semana"}, Required: true},
	{Field: FieldAf, Label: "AF", Headers: []string{"AF"}, Required: true},
	{Field: FieldFechaAf, Label: "Fecha af", Headers: []string{"Fecha af"}, Required: true},
	{Field: FieldMc, Label: "MC", Headers: []string{"MC"}, Required: true},
	{Field: FieldFechaMc, Label: "Fecha MC", Headers: []string{"Fecha MC"}, Required: true},
	{Field: FieldAfCampus, Label: "AF Campus", Headers: []string{"AF Campus", "Campus AF", "Sede AF"}},
	{Field: FieldMcCampus, Label: "MC Campus", Headers: []string{"MC Campus", "Campus MC", "Sede MC"}},
}

var aliasByField = func() map[Field]Alias {
	m := make(map[Field]Alias, len(Aliases))
	for _, a := range Aliases {
		m[a.Field] = a
	}
	return m
}()

// HeaderKey folds a header for matching: case, accents and repeated
// whitespace are ignored.
func HeaderKey(h string) string {
	return funnel.FoldText(strings.ReplaceAll(h, "_", " "))
}

// MissingColumns returns the labels of required fields with no matching header.
func MissingColumns(headers []string) []string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[HeaderKey(h)] = struct{}{}
	}
	var missing []string
	for _, a := range Aliases {
		if !a.Required {
			continue
		}
		found := false
		for _, h := range a.Headers {
			if _, ok := present[HeaderKey(h)]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, a.Label)
		}
	}
	return missing
}

// RawRow is one data row keyed by header.
type RawRow = map[string]string

// NewRawRow keys cells by header in column order. Headers that fold to the same
// key keep the leftmost column; a later column only fills a blank one. Blank
// headers are skipped.
func NewRawRow(headers, cells []string) RawRow {
	row := make(RawRow, len(headers))
	owner := make(map[string]string, len(headers))
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		key := HeaderKey(h)
		if first, dup := owner[key]; dup {
			if strings.TrimSpace(row[first]) == "" && strings.TrimSpace(v) != "" {
				row[first] = v
			}
			continue
		}
		owner[key] = h
		row[h] = v
	}
	return row
}

// index maps folded header keys to cell values for one raw row.
type index map[string]string

// newIndex folds the headers of raw. When several headers fold to the same
// key, the first non-blank value in header order wins.
func newIndex(raw RawRow) index {
	headers := make([]string, 0, len(raw))
	for h := range raw {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	idx := make(index, len(raw))
	for _, h := range headers {
		key := HeaderKey(h)
		v := raw[h]
		if prev, dup := idx[key]; dup && (strings.TrimSpace(prev) != "" || strings.TrimSpace(v) == "") {
			continue
		}
		idx[key] = v
	}
	return idx
}

// lookup returns the first non-empty value among the field's headers.
func (idx index) lookup(f Field) string {
	a, ok := aliasByField[f]
	if !ok {
		return ""
	}
	for _, h := range a.Headers {
		if v := strings.TrimSpace(idx[HeaderKey(h)]); v != "" {
			return v
		}
	}
	return ""
}
