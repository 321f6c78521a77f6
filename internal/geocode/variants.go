package geocode

import (
	"regexp"
	"strings"
	"unicode"
)

// VariantGenerator produces the ordered address variants to try for a raw
// address, most specific first.
type VariantGenerator interface {
	Variants(rawAddress string) []string
}

// VariantFunc adapts a function to VariantGenerator.
type VariantFunc func(rawAddress string) []string

func (f VariantFunc) Variants(rawAddress string) []string { return f(rawAddress) }

// Exact tries the address as given and nothing else.
var Exact = VariantFunc(func(raw string) []string {
	if s := collapseSpaces(raw); s != "" {
		return []string{s}
	}
	return nil
})

// DefaultVariants is the address ladder used for club and meet locations:
//
//	"123 Main St., Suite 4, Knoxville, TN 37902"   as given
//	"123 Main St, Knoxville, TN 37902"              unit designators stripped
//	"Knoxville, TN 37902"                           street dropped
//	"Knoxville, TN"                                 postal code dropped
//
// Duplicates are removed, keeping the first occurrence.
var DefaultVariants = VariantFunc(addressLadder)

var (
	unitPattern   = regexp.MustCompile(`(?i)(^|[\s,])(suite|ste|unit|apt|apartment|bldg|building|floor|rm|room)\b\.?\s*#?\s*[\w-]+`)
	hashUnit      = regexp.MustCompile(`(^|[\s,])#\s*[\w-]+`)
	postalCode    = regexp.MustCompile(`\s*\b\d{5}(-\d{4})?\b`)
	repeatedComma = regexp.MustCompile(`\s*,[\s,]*`)
)

func addressLadder(raw string) []string {
	full := collapseSpaces(raw)
	if full == "" {
		return nil
	}

	var out []string
	add := func(s string) {
		s = strings.Trim(collapseSpaces(s), " ,")
		if s == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		out = append(out, s)
	}

	add(full)

	normalized := normalize(full)
	add(normalized)

	parts := splitParts(normalized)
	locality := normalized
	if len(parts) >= 3 || (len(parts) == 2 && startsWithDigit(parts[0])) {
		locality = strings.Join(parts[1:], ", ")
		add(locality)
	}

	add(postalCode.ReplaceAllString(locality, ""))

	return out
}

// normalize strips unit designators and stray punctuation.
func normalize(s string) string {
	s = unitPattern.ReplaceAllString(s, "$1")
	s = hashUnit.ReplaceAllString(s, "$1")
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ';', '"':
			return -1
		}
		return r
	}, s)
	s = repeatedComma.ReplaceAllString(s, ", ")
	return strings.Trim(collapseSpaces(s), " ,")
}

func splitParts(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func startsWithDigit(s string) bool {
	for _, r := range s {
		return unicode.IsDigit(r)
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
