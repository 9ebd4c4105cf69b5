package models

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// dmyLayouts are tried in order by ParseDMYDate.
var dmyLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/06",
	"2/1/06",
	"02-01-06",
	"02.01.06",
}

// ParseDMYDate parses a day-month-year date. ok is false when no layout matches.
func ParseDMYDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return time.Time{}, false
	}
	for _, layout := range dmyLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

// ParseHour extracts the hour from an HH:MM:SS, HH:MM or compact HHMMSS cell.
func ParseHour(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return 0, false
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour(), true
		}
	}
	if len(s) == 5 && isDigits(s) {
		// numeric HHMMSS that lost its leading zero
		s = "0" + s
	}
	if len(s) == 6 && isDigits(s) {
		if t, err := time.Parse("150405", s); err == nil {
			return t.Hour(), true
		}
	}
	return 0, false
}

// ParseRank extracts the leaf rank from a frond label such as "F17".
// Leading non-digit characters are stripped and the rest must be an integer.
// Without a numeric suffix the rank is nil, or a ParseError in strict mode.
func ParseRank(frond string, strict bool) (*int, error) {
	label := strings.TrimSpace(frond)
	suffix := strings.TrimLeftFunc(label, func(r rune) bool { return !unicode.IsDigit(r) })

	if suffix != "" && isDigits(suffix) {
		if n, err := strconv.Atoi(suffix); err == nil {
			return &n, nil
		}
	}

	if strict {
		return nil, &ParseError{
			Field:   "rank",
			Value:   frond,
			Message: "frond label has no numeric suffix",
		}
	}
	return nil, nil
}

// ParseFloat parses a numeric cell. Null tokens, malformed numbers and
// non-finite values report ok=false.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if isNullToken(s) {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isNullToken(s string) bool {
	switch strings.ToUpper(s) {
	case "", "NA", "N/A", "NAN", "NULL", "#N/A":
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
