package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// NoCategory labels rows without a Tipo Base.
const NoCategory = "Sin Tipo"

// Series is one category line of a trend chart.
type Series struct {
	Label string `json:"label"`
	Data  []int  `json:"data"`
}

// Trend is a month by category table.
type Trend struct {
	Stage    funnel.Stage `json:"stage"`
	Labels   []string     `json:"labels"`
	Datasets []Series     `json:"datasets"`
}

// ComputeTrend counts rows reaching stage per (month, category). Months come
// from in-window management dates; categories are discovered from the rows.
func ComputeTrend(rows []funnel.DataRow, cal dates.Calendar, stage funnel.Stage) Trend {
	if stage == "" {
		stage = funnel.StageLoaded
	}
	counts := map[int]map[string]int{}
	categories := map[string]struct{}{}
	for i := range rows {
		r := &rows[i]
		t, ok := cal.Effective(r.FechaGestion)
		if !ok {
			continue
		}
		cat := strings.TrimSpace(r.TipoBase)
		if cat == "" {
			cat = NoCategory
		}
		categories[cat] = struct{}{}
		m := int(t.Month())
		if counts[m] == nil {
			counts[m] = map[string]int{}
		}
		if stage.Match(r) {
			counts[m][cat]++
		}
	}

	months := make([]int, 0, len(counts))
	for m := range counts {
		months = append(months, m)
	}
	sort.Ints(months)
	cats := make([]string, 0, len(categories))
	for c := range categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	tr := Trend{Stage: stage, Labels: make([]string, len(months)), Datasets: make([]Series, len(cats))}
	for i, m := range months {
		tr.Labels[i] = fmt.Sprintf("Mes %d", m)
	}
	for j, c := range cats {
		data := make([]int, len(months))
		for i, m := range months {
			data[i] = counts[m][c]
		}
		tr.Datasets[j] = Series{Label: c, Data: data}
	}
	return tr
}
