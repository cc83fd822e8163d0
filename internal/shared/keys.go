package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// FoldKey normalises free text for case-insensitive identity comparisons.
// Inner whitespace runs collapse to a single space.
func FoldKey(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return cases.Fold().String(strings.Join(fields, " "))
}
