package dates

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Policy decides how an ambiguous numeric date such as 03/04/2025 is read when
// both leading groups are valid months.
type Policy string

const (
	// DayFirst reads 03/04/2025 as 3 April 2025. It is the regional default.
	DayFirst Policy = "day_first"
	// MonthFirst reads 03/04/2025 as 4 March 2025.
	MonthFirst Policy = "month_first"
)

// ParsePolicy maps a configuration string to a Policy, defaulting to DayFirst.
func ParsePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(MonthFirst), "mdy", "month-first":
		return MonthFirst
	default:
		return DayFirst
	}
}

const (
	// Numeric strings in this range are read as serials.
	minSerial = 10000
	maxSerial = 100000

	// DefaultMinYear is the earliest year accepted by the sanity check.
	DefaultMinYear = 2018
)

var (
	isoRe     = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:[T ].*)?$`)
	numericRe = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})(?:[ T].*)?$`)

	explicitLayouts = []string{
		"02-01-2006",
		"02/01/2006",
		"2/1/2006",
		"2006-01-02",
		"02-01-06",
		"02/01/06",
		"2/1/06",
	}

	fallbackLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		time.RFC1123,
		time.RFC1123Z,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"2 Jan 2006",
		"Jan 2, 2006",
	}
)

// Window bounds accepted dates. A zero bound is open.
type Window struct {
	Min time.Time
	Max time.Time
}

// Contains reports whether t lies inside the window, inclusive on both ends.
func (w Window) Contains(t time.Time) bool {
	if !w.Min.IsZero() && t.Before(w.Min) {
		return false
	}
	if !w.Max.IsZero() && t.After(w.Max) {
		return false
	}
	return true
}

// Parser turns loosely formatted spreadsheet cells into dates. Values that
// cannot be read, or that fall outside the sanity range, are rejected
// silently: Parse reports false instead of returning an error.
type Parser struct {
	Policy  Policy
	MinYear int
	Window  Window
	Now     func() time.Time

	// Date1904 reads serials in the 1904 date system of the source workbook.
	Date1904 bool
}

// NewParser returns a Parser with the default sanity range.
func NewParser(policy Policy) *Parser {
	return &Parser{Policy: policy, MinYear: DefaultMinYear, Now: time.Now}
}

// WithDate1904 returns a copy of p reading serials in the given date system.
func (p *Parser) WithDate1904(date1904 bool) *Parser {
	c := *p
	c.Date1904 = date1904
	return &c
}

// Parse accepts a string, a numeric serial, or a time.Time.
func (p *Parser) Parse(v any) (time.Time, bool) {
	return p.ParseWithin(v, p.Window)
}

// ParseWithin is Parse with an explicit window instead of the parser default.
func (p *Parser) ParseWithin(v any, w Window) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		t, ok = val.UTC(), !val.IsZero()
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		t, ok = val.UTC(), !val.IsZero()
	case float64:
		t, ok = FromSerial(val, p.Date1904)
	case float32:
		t, ok = FromSerial(float64(val), p.Date1904)
	case int:
		t, ok = FromSerial(float64(val), p.Date1904)
	case int64:
		t, ok = FromSerial(float64(val), p.Date1904)
	case string:
		t, ok = p.parseString(val)
	default:
		return time.Time{}, false
	}
	if !ok || !p.sane(t, w) {
		return time.Time{}, false
	}
	return t, true
}

// FromSerial converts a spreadsheet serial day number to a UTC instant in
// the 1900 or 1904 date system.
func FromSerial(v float64, date1904 bool) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(v, date1904)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func (p *Parser) parseString(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	if m := isoRe.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	if m := numericRe.FindStringSubmatch(s); m != nil {
		a, b, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if year < 100 {
			year += 2000
		}
		day, month := a, b
		switch {
		case b > 12:
			month, day = a, b
		case a > 12:
			// day-first is the only reading
		case p.Policy == MonthFirst:
			month, day = a, b
		}
		if t, ok := civil(year, month, day); ok {
			return t, true
		}
	}

	for _, layout := range explicitLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= minSerial && f <= maxSerial {
		return FromSerial(f, p.Date1904)
	}
	return time.Time{}, false
}

func (p *Parser) sane(t time.Time, w Window) bool {
	minYear := p.MinYear
	if minYear <= 0 {
		minYear = DefaultMinYear
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	if y := t.Year(); y < minYear || y > now().Year()+1 {
		return false
	}
	return w.Contains(t)
}

// civil builds a UTC midnight date and rejects overflowing components such as 31/02.
func civil(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
