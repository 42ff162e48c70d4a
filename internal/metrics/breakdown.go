package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// Dimension selects the grouping of a breakdown.
type Dimension string

const (
	DimCampus  Dimension = "campus"
	DimRegimen Dimension = "regimen"
	DimWeekday Dimension = "weekday"
	DimWeek    Dimension = "week"
)

// Placeholder group names.
const (
	NoCampus  = "Sin Campus"
	NoRegimen = "Sin Régimen"
)

// ParseDimension resolves a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case DimCampus, DimRegimen, DimWeekday, DimWeek:
		return d, nil
	}
	return "", fmt.Errorf("metrics: unknown dimension %q", s)
}

// Group is one bucket of a breakdown.
type Group struct {
	Key    string      `json:"key"`
	Rows   StageCounts `json:"rows"`
	Unique StageCounts `json:"unique"`
	Rates  Rates       `json:"rates"`
}

// Breakdown lists groups in display order.
type Breakdown struct {
	Dimension Dimension `json:"dimension"`
	Groups    []Group   `json:"groups"`
}

// ComputeBreakdown groups rows by dim. Campus groups merge case and accent
// variants and are labeled with the first spelling seen; regimen keys are
// upper-cased. Both sort by key. Weekdays follow Monday-first order; weeks
// follow label order. Rows without a weekday or week are skipped for those
// dimensions.
func ComputeBreakdown(rows []funnel.DataRow, cal dates.Calendar, dim Dimension) Breakdown {
	groups := map[string]*tally{}
	labels := map[string]string{}
	for i := range rows {
		r := &rows[i]
		key, label, ok := groupKey(r, cal, dim)
		if !ok {
			continue
		}
		t := groups[key]
		if t == nil {
			t = newTally()
			groups[key] = t
			labels[key] = label
		}
		t.add(r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	switch dim {
	case DimWeekday:
		keys = keys[:0]
		for _, d := range dates.WeekdayOrder {
			if _, ok := groups[d]; ok {
				keys = append(keys, d)
			}
		}
	case DimWeek:
		sort.SliceStable(keys, func(i, j int) bool { return dates.CompareWeekLabels(keys[i], keys[j]) < 0 })
	default:
		sort.Strings(keys)
	}

	b := Breakdown{Dimension: dim, Groups: make([]Group, 0, len(keys))}
	for _, k := range keys {
		tot := groups[k].totals()
		b.Groups = append(b.Groups, Group{Key: labels[k], Rows: tot.Rows, Unique: tot.Unique, Rates: tot.Rates})
	}
	return b
}

// groupKey returns the grouping key of r and the label shown for a new group.
func groupKey(r *funnel.DataRow, cal dates.Calendar, dim Dimension) (string, string, bool) {
	switch dim {
	case DimCampus:
		label := strings.TrimSpace(r.SedeInteres)
		if label == "" {
			label = NoCampus
		}
		return funnel.FoldText(label), label, true
	case DimRegimen:
		key := upperOr(r.Regimen, NoRegimen)
		return key, key, true
	case DimWeekday:
		t, ok := cal.Effective(r.FechaGestion)
		if !ok {
			return "", "", false
		}
		wd := cal.Weekday(t)
		return wd, wd, true
	case DimWeek:
		w := strings.TrimSpace(r.ResolvedWeek(cal))
		return w, w, w != ""
	}
	return "", "", false
}

// DayPoint is the activity of one day of the month.
type DayPoint struct {
	Day    int         `json:"dia"`
	Counts StageCounts `json:"counts"`
}

// ComputeDaily counts rows per day of month of the in-window management date,
// ascending by day.
func ComputeDaily(rows []funnel.DataRow, cal dates.Calendar) []DayPoint {
	byDay := map[int]*StageCounts{}
	for i := range rows {
		r := &rows[i]
		t, ok := cal.Effective(r.FechaGestion)
		if !ok {
			continue
		}
		c := byDay[t.Day()]
		if c == nil {
			c = &StageCounts{}
			byDay[t.Day()] = c
		}
		c.Add(rowMask(r).counts())
	}
	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)
	out := make([]DayPoint, len(days))
	for i, d := range days {
		out[i] = DayPoint{Day: d, Counts: *byDay[d]}
	}
	return out
}

// upperOr returns s trimmed and upper-cased, or def upper-cased when s is blank.
func upperOr(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		s = def
	}
	return strings.ToUpper(s)
}
