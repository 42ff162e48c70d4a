package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// SinCampus labels records with no campus.
const SinCampus = "Sin Campus"

// CampusNames maps campus codes to full names.
var CampusNames = map[string]string{
	"ME": "Melipilla",
	"LF": "La Florida",
	"OL": "Online",
	"MP": "Maipú",
	"PR": "Providencia",
	"SC": "Santiago Centro",
	"VL": "Viña del Mar",
	"CO": "Concepción",
	"CV": "Campus Virtual Nacional",
}

var codeLikeRe = regexp.MustCompile(`^[A-Z]{2,3}$`)

// CampusName resolves a campus cell. Known codes become full names, unknown
// uppercase codes become an explicit "SEDE inválida (XX)" label, and any other
// text is returned trimmed.
func CampusName(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return ""
	}
	upper := strings.ToUpper(s)
	if upper == "SIN CAMPUS" {
		return SinCampus
	}
	if name, ok := CampusNames[upper]; ok {
		return name
	}
	for _, name := range CampusNames {
		if strings.EqualFold(name, s) {
			return name
		}
	}
	if codeLikeRe.MatchString(s) {
		return InvalidCampusLabel(s)
	}
	return s
}

// InvalidCampusLabel formats the label for an unrecognized campus code.
func InvalidCampusLabel(code string) string {
	return fmt.Sprintf("SEDE inválida (%s)", code)
}

// IsInvalidCampus reports whether a resolved campus is an invalid-code label.
func IsInvalidCampus(name string) bool {
	return strings.HasPrefix(name, "SEDE inválida (")
}
