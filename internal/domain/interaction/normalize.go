package interaction

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// combiningMarks is the Unicode "Combining Diacritical Marks" block
var combiningMarks = runes.In(&unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x0300, Hi: 0x036f, Stride: 1}},
})

// Normalize lowercases a substance name, decomposes it, strips combining
// diacritics and trims surrounding whitespace. Letters without a canonical
// decomposition (such as "ł") are kept.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(combiningMarks))
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		out = strings.ToLower(s)
	}
	return strings.TrimSpace(out)
}

// SubstancesMatch reports whether two normalized names are equal or one
// contains the other. Empty names never match anything.
func SubstancesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}
