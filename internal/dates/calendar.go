package dates

import (
	"fmt"
	"time"
)

var weekdayAbbrev = [...]string{
	time.Sunday:    "Dom",
	time.Monday:    "Lun",
	time.Tuesday:   "Mar",
	time.Wednesday: "Mié",
	time.Thursday:  "Jue",
	time.Friday:    "Vie",
	time.Saturday:  "Sáb",
}

// WeekdayOrder lists weekday abbreviations starting on Monday.
var WeekdayOrder = []string{"Lun", "Mar", "Mié", "Jue", "Vie", "Sáb", "Dom"}

// Calendar holds the operational window and the correlative week anchor used to
// derive month, day, weekday and week labels from a management date.
type Calendar struct {
	// Start is the first day of the campaign.
	Start time.Time
	// End closes the window. When zero the window runs to the end of the
	// current month as reported by Now.
	End time.Time
	// WeekAnchor is the date of "Semana 1". Weeks start on Monday.
	WeekAnchor time.Time
	Now        func() time.Time
}

// Window returns the effective operational window.
func (c Calendar) Window() Window {
	end := c.End
	if end.IsZero() {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		end = EndOfMonth(now())
	}
	return Window{Min: DateOnly(c.Start), Max: end}
}

// Effective returns the management date when it is set and inside the window.
func (c Calendar) Effective(t *time.Time) (time.Time, bool) {
	if t == nil || t.IsZero() {
		return time.Time{}, false
	}
	if !c.Window().Contains(*t) {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// Weekday returns the Spanish three-letter weekday abbreviation.
func (c Calendar) Weekday(t time.Time) string {
	return weekdayAbbrev[t.UTC().Weekday()]
}

// WeekNumber returns the correlative week number of t, starting at 1 for the
// week containing the anchor. Dates before that week have no number.
func (c Calendar) WeekNumber(t time.Time) (int, bool) {
	if c.WeekAnchor.IsZero() {
		return 0, false
	}
	base := MondayOf(c.WeekAnchor)
	days := int(MondayOf(t).Sub(base).Hours() / 24)
	if days < 0 {
		return 0, false
	}
	return days/7 + 1, true
}

// WeekLabel formats the correlative week of t as "Semana N".
func (c Calendar) WeekLabel(t time.Time) (string, bool) {
	n, ok := c.WeekNumber(t)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("Semana %d", n), true
}

// DateOnly truncates t to UTC midnight.
func DateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MondayOf returns the UTC midnight of the Monday starting t's week.
func MondayOf(t time.Time) time.Time {
	d := DateOnly(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// EndOfMonth returns the last instant of t's month in UTC.
func EndOfMonth(t time.Time) time.Time {
	u := t.UTC()
	first := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, 0).Add(-time.Millisecond)
}
