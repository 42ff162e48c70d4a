package funnel

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Stage names a step of the funnel.
type Stage string

const (
	StageLoaded      Stage = "loaded"
	StageProgressed  Stage = "progressed"
	StageContacted   Stage = "contacted"
	StageAppointment Stage = "appointment"
	StageAttended    Stage = "attended"
	StageEnrolled    Stage = "enrolled"
)

// Stages lists every stage in funnel order.
var Stages = []Stage{StageLoaded, StageProgressed, StageContacted, StageAppointment, StageAttended, StageEnrolled}

// ParseStage resolves a stage name; empty means StageLoaded.
func ParseStage(s string) (Stage, error) {
	v := Stage(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return StageLoaded, nil
	}
	for _, st := range Stages {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("funnel: unknown stage %q", s)
}

// Match reports whether the row reached the stage.
func (s Stage) Match(r *DataRow) bool {
	switch s {
	case StageLoaded:
		return true
	case StageProgressed:
		return IsProgressed(r)
	case StageContacted:
		return IsContacted(r)
	case StageAppointment:
		return IsAppointment(r)
	case StageAttended:
		return IsAttended(r)
	case StageEnrolled:
		return IsEnrolled(r)
	}
	return false
}

var (
	noVieneRe = regexp.MustCompile(`\bno\s+viene\b`)
	vieneRe   = regexp.MustCompile(`\bviene\b`)
)

// IsProgressed: the lead was worked, whether or not it connected.
func IsProgressed(r *DataRow) bool {
	c := collapse(r.Conecta)
	return c == "conecta" || c == "no conecta"
}

// IsContacted: the lead was reached.
func IsContacted(r *DataRow) bool {
	return collapse(r.Conecta) == "conecta"
}

// IsAppointment: the appointment text says the lead is coming and does not
// say the lead is not coming.
func IsAppointment(r *DataRow) bool {
	return HasAppointmentIntent(r.Interesa)
}

// HasAppointmentIntent applies the "viene" minus "no viene" rule to free text.
func HasAppointmentIntent(text string) bool {
	t := FoldText(text)
	if t == "" {
		return false
	}
	return vieneRe.MatchString(t) && !noVieneRe.MatchString(t)
}

// IsAttended: the attendance code is A, MC or M.
func IsAttended(r *DataRow) bool {
	switch strings.ToUpper(strings.TrimSpace(r.Af)) {
	case "A", "MC", "M":
		return true
	}
	return false
}

// IsEnrolled: the enrollment code is M or MC.
func IsEnrolled(r *DataRow) bool {
	switch strings.ToUpper(strings.TrimSpace(r.Mc)) {
	case "M", "MC":
		return true
	}
	return false
}

// NormalizeRut returns the identifier used for unique counting.
func NormalizeRut(rut string) string {
	return strings.Map(func(r rune) rune {
		if r == '.' || r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, strings.TrimSpace(rut))
}

// FoldText lowercases, strips diacritics, and replaces punctuation with single spaces.
func FoldText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
