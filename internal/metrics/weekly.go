package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// TotalsLabel names the totals row of the weekly summary.
const TotalsLabel = "TOTALES"

// WeeklyOptions tunes ComputeWeeklySummary.
type WeeklyOptions struct {
	Calendar dates.Calendar
	// Unique counts distinct identifiers per week instead of rows.
	Unique bool
}

// WeekRow is one line of the weekly summary.
type WeekRow struct {
	Week   string      `json:"semana"`
	Counts StageCounts `json:"counts"`
	Rates  Rates       `json:"rates"`
}

// Exclusions counts rows left out of the weekly summary, by reason. A row is
// counted under the first reason that applies.
type Exclusions struct {
	InvalidIdentifier int `json:"invalidIdentifier"`
	InvalidLoadDate   int `json:"invalidLoadDate"`
	MissingWeek       int `json:"missingWeek"`
}

// WeeklySummary groups rows by week label.
type WeeklySummary struct {
	Rows     []WeekRow  `json:"rows"`
	Totals   WeekRow    `json:"totals"`
	Excluded Exclusions `json:"excluded"`
}

// ComputeWeeklySummary groups rows by resolved week label. Rows without an
// identifier, a load date, or a week are excluded and counted. Totals counts
// are the sum of the per-week counts.
func ComputeWeeklySummary(rows []funnel.DataRow, opts WeeklyOptions) WeeklySummary {
	var out WeeklySummary
	weeks := map[string]*tally{}
	all := newTally()

	for i := range rows {
		r := &rows[i]
		switch {
		case funnel.NormalizeRut(r.RutBase) == "":
			out.Excluded.InvalidIdentifier++
			continue
		case r.FechaCarga == nil || r.FechaCarga.IsZero():
			out.Excluded.InvalidLoadDate++
			continue
		}
		week := strings.TrimSpace(r.ResolvedWeek(opts.Calendar))
		if week == "" {
			out.Excluded.MissingWeek++
			continue
		}
		t := weeks[week]
		if t == nil {
			t = newTally()
			weeks[week] = t
		}
		t.add(r)
		all.add(r)
	}

	labels := make([]string, 0, len(weeks))
	for w := range weeks {
		labels = append(labels, w)
	}
	sort.SliceStable(labels, func(i, j int) bool { return dates.CompareWeekLabels(labels[i], labels[j]) < 0 })

	out.Rows = make([]WeekRow, 0, len(labels))
	out.Totals = WeekRow{Week: TotalsLabel, Rates: all.rates()}
	for _, w := range labels {
		t := weeks[w]
		counts := t.rows
		if opts.Unique {
			counts = t.unique()
		}
		out.Rows = append(out.Rows, WeekRow{Week: w, Counts: counts, Rates: t.rates()})
		out.Totals.Counts.Add(counts)
	}
	return out
}

// Check verifies that the totals row equals the sum of the week rows.
func (s WeeklySummary) Check() error {
	var sum StageCounts
	for _, r := range s.Rows {
		sum.Add(r.Counts)
	}
	if sum != s.Totals.Counts {
		return fmt.Errorf("metrics: weekly totals mismatch: sum=%+v totals=%+v", sum, s.Totals.Counts)
	}
	return nil
}
