// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package score

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// fold decomposes s, drops combining marks, and case-folds the result so
// "Müller" and "muller" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return folder.String(out)
}

// tokenSet splits folded text on anything that is not a letter or digit.
func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

var venueReplacer = strings.NewReplacer(
	"&", " and ",
	".", " ",
	",", " ",
	"-", " ",
	":", " ",
)

// normalizeVenue folds a venue name and strips abbreviation punctuation so
// "Lab Chip." and "lab chip" compare equal.
func normalizeVenue(s string) string {
	return strings.Join(strings.Fields(venueReplacer.Replace(fold(s))), " ")
}

// normalizeSurname folds an author's family name for comparison.
func normalizeSurname(s string) string {
	return strings.Join(strings.Fields(fold(s)), " ")
}

// normalizeNumber trims volume and issue labels for comparison.
func normalizeNumber(s string) string {
	return strings.TrimLeft(strings.ToLower(strings.TrimSpace(s)), "0")
}
