package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// abbreviations expands common survey shorthand to canonical tokens.
// Keys and values are singular, lower-case tokens.
var abbreviations = map[string]string{
	"cardio":      "cardiology",
	"cardiol":     "cardiology",
	"cardiac":     "cardiology",
	"ortho":       "orthopedic",
	"orthopaedic": "orthopedic",
	"surg":        "surgery",
	"surgical":    "surgery",
	"med":         "medicine",
	"ped":         "pediatric",
	"paediatric":  "pediatric",
	"ob":          "obstetric",
	"gyn":         "gynecology",
	"obgyn":       "obstetric gynecology",
	"im":          "internal medicine",
	"fm":          "family medicine",
	"em":          "emergency medicine",
	"gi":          "gastroenterology",
	"ent":         "otolaryngology",
	"heme":        "hematology",
	"hem":         "hematology",
	"onc":         "oncology",
	"neuro":       "neurology",
	"psych":       "psychiatry",
	"derm":        "dermatology",
	"uro":         "urology",
	"rad":         "radiology",
	"anes":        "anesthesiology",
	"anesth":      "anesthesiology",
	"hosp":        "hospitalist",
	"crit":        "critical",
	"gen":         "general",
	"int":         "internal",
	"fam":         "family",
	"np":          "nurse practitioner",
	"pa":          "physician assistant",
	"app":         "advanced practice provider",
	"md":          "physician",
	"do":          "physician",
	"phys":        "physician",
	"mw":          "midwest",
	"nw":          "northwest",
	"sw":          "southwest",
	"natl":        "national",
	"dept":        "department",
	"svc":         "service",
	"comp":        "compensation",
	"wrvu":        "work rvu",
	"tcc":         "total cash compensation",
}

var stopwords = map[string]struct{}{
	"and":  {},
	"of":   {},
	"the":  {},
	"with": {},
	"w":    {},
	"for":  {},
	"in":   {},
}

// Key returns the normalized form of a label used for exact lookups:
// NFKC normalized, case folded, trimmed, with internal whitespace collapsed.
func Key(s string) string {
	s = folder.String(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits a label into canonical tokens. Punctuation separates tokens,
// plurals are singularized, and known abbreviations are expanded.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Key(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		for _, t := range canonicalize(f) {
			if _, skip := stopwords[t]; skip {
				continue
			}
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func canonicalize(token string) []string {
	if exp, ok := abbreviations[token]; ok {
		return strings.Fields(exp)
	}

	single := singular(token)
	if exp, ok := abbreviations[single]; ok {
		return strings.Fields(exp)
	}

	return []string{single}
}

func singular(t string) string {
	switch {
	case len(t) > 4 && strings.HasSuffix(t, "ies"):
		return t[:len(t)-3] + "y"
	case len(t) > 4 && strings.HasSuffix(t, "sses"):
		return t[:len(t)-2]
	case len(t) > 3 && strings.HasSuffix(t, "s") &&
		!strings.HasSuffix(t, "ss") &&
		!strings.HasSuffix(t, "us") &&
		!strings.HasSuffix(t, "is"):
		return t[:len(t)-1]
	}
	return t
}
