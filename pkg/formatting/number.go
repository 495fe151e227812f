package formatting

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberNoise = regexp.MustCompile(`[\$€£¥₹,\s]`)

var missingTokens = map[string]struct{}{
	"":                  {},
	"-":                 {},
	"--":                {},
	"*":                 {},
	"**":                {},
	"n/a":               {},
	"na":                {},
	"nr":                {},
	"null":              {},
	"none":              {},
	"insufficient data": {},
}

// ParseNumber parses a survey cell into a number. Currency symbols, thousands
// separators, whitespace and a trailing percent sign are ignored; a value in
// parentheses is negative. Empty cells and placeholders such as "N/A" or "--"
// report false, as does anything that is not a finite number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if _, missing := missingTokens[strings.ToLower(s)]; missing {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = numberNoise.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "%")
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}

	if negative {
		v = -v
	}
	return v, true
}

// ParseAny converts a decoded JSON cell into a number. Numbers pass through,
// strings go through ParseNumber, and anything else is absent.
func ParseAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return ParseAny(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		return ParseNumber(n.String())
	case string:
		return ParseNumber(n)
	}
	return 0, false
}
