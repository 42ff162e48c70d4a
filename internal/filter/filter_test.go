package filter

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
	"github.com/vinodismyname/funnelsnap/pkg/apperr"
)

func testCalendar() dates.Calendar {
	return dates.Calendar{
		Start:      time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC),
		WeekAnchor: time.Date(2025, time.August, 11, 0, 0, 0, 0, time.UTC),
	}
}

func at(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func sampleRows() []funnel.DataRow {
	return []funnel.DataRow{
		{RutBase: "1", TipoBase: "Stock", FechaGestion: at(2025, 8, 14), SedeInteres: "Santiago", Regimen: "Diurno"},
		{RutBase: "2", TipoBase: "Web", FechaGestion: at(2025, 9, 2), SedeInteres: "Concepción", Regimen: "Vespertino"},
		{RutBase: "3", TipoBase: "stock", FechaGestion: at(2025, 9, 14), SedeInteres: "Santiago", Regimen: "Vespertino"},
		{RutBase: "4", TipoBase: "Referidos", SemanaOrigen: "Semana 0"},
		// Out of window: no month, day or week.
		{RutBase: "5", TipoBase: "Web", FechaGestion: at(2024, 9, 2), SemanaOrigen: "Semana 2"},
		{RutBase: "6", TipoBase: "Web", SemanaOrigen: "Semana 2"},
	}
}

func ruts(rows []funnel.DataRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.RutBase)
	}
	return out
}

func TestApply(t *testing.T) {
	e := NewEngine(testCalendar())
	rows := sampleRows()

	cases := []struct {
		name string
		f    Filters
		want []string
	}{
		{"no filters keeps all", Filters{}, []string{"1", "2", "3", "4", "5", "6"}},
		{"category is case-insensitive", Filters{Categories: []string{"STOCK"}}, []string{"1", "3"}},
		{"category or", Filters{Categories: []string{"stock", "web"}}, []string{"1", "2", "3", "5", "6"}},
		{"month from management date", Filters{Months: []int{9}}, []string{"2", "3"}},
		{"day", Filters{Days: []int{14}}, []string{"1", "3"}},
		{"month and day", Filters{Months: []int{9}, Days: []int{14}}, []string{"3"}},
		{"out of window never matches month", Filters{Months: []int{9}, Categories: []string{"Web"}}, []string{"2"}},
		{"week resolved from date", Filters{Weeks: []string{"semana 1"}}, []string{"1"}},
		{"week falls back to source label", Filters{Weeks: []string{"Semana 2", "Semana 0"}}, []string{"4", "6"}},
		{"campus", Filters{Campuses: []string{"santiago"}}, []string{"1", "3"}},
		{"regimen and category", Filters{Regimens: []string{"Vespertino"}, Categories: []string{"Stock"}}, []string{"3"}},
		{"no match", Filters{Categories: []string{"Otro"}}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ruts(e.Apply(rows, tc.f)))
		})
	}
}

func TestApplyIndexedMatchesApply(t *testing.T) {
	e := NewEngine(testCalendar())
	rows := sampleRows()
	idx := NewIndex(rows)

	for _, f := range []Filters{
		{},
		{Categories: []string{"Stock"}},
		{Categories: []string{"web", "STOCK", "Web"}},
		{Categories: []string{"Otro"}},
		{Categories: []string{"Stock"}, Months: []int{9}},
	} {
		require.Equal(t, ruts(e.Apply(rows, f)), ruts(e.ApplyIndexed(idx, f)), "filters %+v", f)
	}
}

func TestFromQuery(t *testing.T) {
	q := url.Values{
		"tipoBase": {"Stock,Web", "Referidos"},
		"mes":      {"8", "9"},
		"dia":      {" 14 "},
		"semana":   {"Semana 1"},
	}
	f, err := FromQuery(q)
	require.NoError(t, err)
	require.Equal(t, []string{"Stock", "Web", "Referidos"}, f.Categories)
	require.Equal(t, []int{8, 9}, f.Months)
	require.Equal(t, []int{14}, f.Days)
	require.Equal(t, []string{"Semana 1"}, f.Weeks)

	_, err = FromQuery(url.Values{"mes": {"13"}})
	require.Equal(t, apperr.Validation, apperr.CodeOf(err))

	_, err = FromQuery(url.Values{"dia": {"x"}})
	require.Equal(t, apperr.Validation, apperr.CodeOf(err))

	f, err = FromQuery(url.Values{})
	require.NoError(t, err)
	require.True(t, f.IsZero())
}

func TestHashIsOrderAndCaseInsensitive(t *testing.T) {
	a := Filters{Categories: []string{"Stock", "Web"}, Months: []int{9, 8}}
	b := Filters{Categories: []string{"web", "STOCK"}, Months: []int{8, 9}}
	require.Equal(t, a.Hash(), b.Hash())
	require.NotEqual(t, a.Hash(), Filters{}.Hash())
	require.NotEqual(t, Filters{Months: []int{1}}.Hash(), Filters{Days: []int{1}}.Hash())
}

func TestOptions(t *testing.T) {
	e := NewEngine(testCalendar())
	ch := e.Options(sampleRows())
	require.Equal(t, []int{8, 9}, ch.Months)
	require.Equal(t, []int{2, 14}, ch.Days)
	require.Equal(t, []string{"Referidos", "Stock", "Web", "stock"}, ch.Categories)
	require.Equal(t, []string{"Semana 0", "Semana 1", "Semana 2", "Semana 4", "Semana 5"}, ch.Weeks)
	require.Equal(t, []string{"Concepción", "Santiago"}, ch.Campuses)
	require.Equal(t, []string{"Diurno", "Vespertino"}, ch.Regimens)
}
