package dates

import (
	"regexp"
	"strconv"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

var (
	weekDigitsRe = regexp.MustCompile(`\d+`)

	collatorMu sync.Mutex
	collator   = collate.New(language.Spanish, collate.Loose, collate.Numeric)
)

// LabelNumber extracts the first number in a week label such as "Semana 12".
func LabelNumber(label string) (int, bool) {
	m := weekDigitsRe.FindString(label)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CompareWeekLabels orders week labels by their number. Labels without a
// number sort after numbered ones and compare with Spanish collation.
func CompareWeekLabels(a, b string) int {
	na, okA := LabelNumber(a)
	nb, okB := LabelNumber(b)
	switch {
	case okA && okB:
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	case okA:
		return -1
	case okB:
		return 1
	}

	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}
