// Package filter narrows the canonical rows by category, month, day, week,
// campus and regimen. Empty selections do not restrict.
package filter

import (
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
	"github.com/vinodismyname/funnelsnap/pkg/pagination"
	"github.com/vinodismyname/funnelsnap/pkg/validation"
)

// Query parameter names.
const (
	ParamCategory = "tipoBase"
	ParamMonth    = "mes"
	ParamDay      = "dia"
	ParamWeek     = "semana"
	ParamCampus   = "campus"
	ParamRegimen  = "regimen"
)

// Filters are AND-combined; each slice is an OR over its values.
type Filters struct {
	Categories []string `json:"tipoBase,omitempty" jsonschema_description:"Tipo Base values (case-insensitive)"`
	Months     []int    `json:"mes,omitempty" validate:"dive,min=1,max=12" jsonschema_description:"Months 1-12 of the management date"`
	Days       []int    `json:"dia,omitempty" validate:"dive,min=1,max=31" jsonschema_description:"Days of month 1-31 of the management date"`
	Weeks      []string `json:"semana,omitempty" jsonschema_description:"Week labels such as 'Semana 3'"`
	Campuses   []string `json:"campus,omitempty" jsonschema_description:"Campus of interest (full name)"`
	Regimens   []string `json:"regimen,omitempty" jsonschema_description:"Program type"`
}

// FromQuery reads filters from repeated or comma-separated query parameters.
func FromQuery(q url.Values) (Filters, error) {
	f := Filters{
		Categories: list(q[ParamCategory]),
		Weeks:      list(q[ParamWeek]),
		Campuses:   list(q[ParamCampus]),
		Regimens:   list(q[ParamRegimen]),
	}
	var err error
	if f.Months, err = ints(ParamMonth, q[ParamMonth]); err != nil {
		return Filters{}, err
	}
	if f.Days, err = ints(ParamDay, q[ParamDay]); err != nil {
		return Filters{}, err
	}
	if err := f.Validate(); err != nil {
		return Filters{}, err
	}
	return f, nil
}

// Validate checks month and day ranges.
func (f Filters) Validate() error {
	return validation.Check(f)
}

func list(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func ints(name string, values []string) ([]int, error) {
	var out []int
	for _, s := range list(values) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, apperr.Newf(apperr.Validation, "%s debe ser numérico: %q", name, s)
		}
		out = append(out, n)
	}
	return out, nil
}

// IsZero reports whether no filter is active.
func (f Filters) IsZero() bool {
	return len(f.Categories) == 0 && f.onlyCategory()
}

func (f Filters) onlyCategory() bool {
	return len(f.Months) == 0 && len(f.Days) == 0 && len(f.Weeks) == 0 &&
		len(f.Campuses) == 0 && len(f.Regimens) == 0
}

// Hash is a stable digest of the active filters, independent of value order
// and case.
func (f Filters) Hash() string {
	var parts []string
	add := func(name string, vals []string) {
		if len(vals) == 0 {
			return
		}
		norm := make([]string, len(vals))
		for i, v := range vals {
			norm[i] = strings.ToLower(v)
		}
		sort.Strings(norm)
		parts = append(parts, name+"="+strings.Join(norm, ","))
	}
	add(ParamCategory, f.Categories)
	add(ParamMonth, itoa(f.Months))
	add(ParamDay, itoa(f.Days))
	add(ParamWeek, f.Weeks)
	add(ParamCampus, f.Campuses)
	add(ParamRegimen, f.Regimens)
	return pagination.Hash(strings.Join(parts, "&"))
}

func itoa(ns []int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = strconv.Itoa(n)
	}
	return out
}

// Engine applies filters using the calendar for date-derived comparisons.
type Engine struct {
	cal dates.Calendar
}

// NewEngine constructs an Engine.
func NewEngine(cal dates.Calendar) *Engine {
	return &Engine{cal: cal}
}

// compiled is Filters in lookup form.
type compiled struct {
	categories, weeks, campuses, regimens map[string]struct{}
	months, days                          map[int]struct{}
}

func compile(f Filters) compiled {
	return compiled{
		categories: lowerSet(f.Categories),
		weeks:      lowerSet(f.Weeks),
		campuses:   lowerSet(f.Campuses),
		regimens:   lowerSet(f.Regimens),
		months:     intSet(f.Months),
		days:       intSet(f.Days),
	}
}

func lowerSet(vals []string) map[string]struct{} {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return m
}

func intSet(vals []int) map[int]struct{} {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[int]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func has[K comparable](set map[K]struct{}, k K) bool {
	if set == nil {
		return true
	}
	_, ok := set[k]
	return ok
}

func (e *Engine) match(c compiled, r *funnel.DataRow) bool {
	if !has(c.categories, categoryKey(r.TipoBase)) ||
		!has(c.campuses, strings.ToLower(r.SedeInteres)) ||
		!has(c.regimens, strings.ToLower(r.Regimen)) {
		return false
	}
	if c.weeks != nil && !has(c.weeks, strings.ToLower(r.ResolvedWeek(e.cal))) {
		return false
	}
	if c.months != nil || c.days != nil {
		t, ok := e.cal.Effective(r.FechaGestion)
		if !ok {
			return false
		}
		if !has(c.months, int(t.Month())) || !has(c.days, t.Day()) {
			return false
		}
	}
	return true
}

func categoryKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Apply returns the rows matching every active filter, in input order.
func (e *Engine) Apply(rows []funnel.DataRow, f Filters) []funnel.DataRow {
	if f.IsZero() {
		return rows
	}
	c := compile(f)
	out := make([]funnel.DataRow, 0, len(rows)/2)
	for i := range rows {
		if e.match(c, &rows[i]) {
			out = append(out, rows[i])
		}
	}
	return out
}

// Index groups row positions by lowercased category.
type Index struct {
	rows       []funnel.DataRow
	byCategory map[string][]int
}

// NewIndex builds the category index over rows. rows must not be modified
// while the index is in use.
func NewIndex(rows []funnel.DataRow) *Index {
	idx := &Index{rows: rows, byCategory: map[string][]int{}}
	for i := range rows {
		k := categoryKey(rows[i].TipoBase)
		idx.byCategory[k] = append(idx.byCategory[k], i)
	}
	return idx
}

// Rows returns the indexed rows.
func (idx *Index) Rows() []funnel.DataRow { return idx.rows }

// ApplyIndexed returns the same rows as Apply over idx.Rows(). When category
// is the only active filter it reads the index instead of scanning.
func (e *Engine) ApplyIndexed(idx *Index, f Filters) []funnel.DataRow {
	if len(f.Categories) == 0 || !f.onlyCategory() {
		return e.Apply(idx.rows, f)
	}
	var positions []int
	seen := map[string]struct{}{}
	for _, c := range f.Categories {
		k := categoryKey(c)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		positions = append(positions, idx.byCategory[k]...)
	}
	slices.Sort(positions)
	out := make([]funnel.DataRow, len(positions))
	for i, p := range positions {
		out[i] = idx.rows[p]
	}
	return out
}

// Choices are the distinct values offered by filter dropdowns.
type Choices struct {
	Months     []int    `json:"meses"`
	Days       []int    `json:"dias"`
	Categories []string `json:"tipos"`
	Weeks      []string `json:"semanas"`
	Campuses   []string `json:"campus"`
	Regimens   []string `json:"regimen"`
}

// Options lists the distinct filter values present in rows.
func (e *Engine) Options(rows []funnel.DataRow) Choices {
	months, days := map[int]struct{}{}, map[int]struct{}{}
	cats, weeks, campuses, regimens := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for i := range rows {
		r := &rows[i]
		if t, ok := e.cal.Effective(r.FechaGestion); ok {
			months[int(t.Month())] = struct{}{}
			days[t.Day()] = struct{}{}
		}
		addNonEmpty(cats, r.TipoBase)
		addNonEmpty(weeks, r.ResolvedWeek(e.cal))
		addNonEmpty(campuses, r.SedeInteres)
		addNonEmpty(regimens, r.Regimen)
	}
	ch := Choices{
		Months:     sortedInts(months),
		Days:       sortedInts(days),
		Categories: sortedStrings(cats),
		Weeks:      sortedStrings(weeks),
		Campuses:   sortedStrings(campuses),
		Regimens:   sortedStrings(regimens),
	}
	sort.SliceStable(ch.Weeks, func(i, j int) bool { return dates.CompareWeekLabels(ch.Weeks[i], ch.Weeks[j]) < 0 })
	return ch
}

func addNonEmpty(m map[string]struct{}, v string) {
	if v = strings.TrimSpace(v); v != "" {
		m[v] = struct{}{}
	}
}

func sortedInts(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func sortedStrings(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
