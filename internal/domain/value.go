package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Bound tags a parsed numeric value with the comparison operator that
// accompanied it in the source document. "<5" means "below detectable
// threshold", which must survive into classification rather than being
// coerced to an exact 5.
type Bound string

const (
	BoundExact   Bound = "EXACT"
	BoundAtMost  Bound = "AT_MOST"  // "<5", "<=5", "up to 5"
	BoundAtLeast Bound = "AT_LEAST" // ">200", ">=200"
)

// IsValid validates the bound tag.
func (b Bound) IsValid() bool {
	switch b {
	case BoundExact, BoundAtMost, BoundAtLeast:
		return true
	default:
		return false
	}
}

// String returns the string representation of the bound tag.
func (b Bound) String() string {
	return string(b)
}

// BoundedValue is a numeric measurement value plus its bound tag.
type BoundedValue struct {
	Magnitude float64 `json:"magnitude"`
	Bound     Bound   `json:"bound"`
}

// Exact builds an exact BoundedValue.
func Exact(v float64) BoundedValue {
	return BoundedValue{Magnitude: v, Bound: BoundExact}
}

var (
	numberPattern       = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)?`)
	groupedPattern      = regexp.MustCompile(`[0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]+)?`)
	decimalCommaPattern = regexp.MustCompile(`^[0-9]+,[0-9]+$`)
	upToPattern         = regexp.MustCompile(`(?i)^\s*up\s*to\b`)
)

// ParseValue leniently parses a raw value string into a BoundedValue.
// Accepted forms include "5.6", "5,6" (decimal comma), "150,000"
// (thousands separator), "<5", ">= 200" and "up to 40". Returns a
// ValueParseError when the string contains no numeric content.
func ParseValue(raw string) (BoundedValue, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return BoundedValue{}, &ValueParseError{RawValue: raw}
	}

	bound := BoundExact
	switch {
	case strings.HasPrefix(s, "<="), strings.HasPrefix(s, "≤"):
		bound = BoundAtMost
	case strings.HasPrefix(s, "<"):
		bound = BoundAtMost
	case strings.HasPrefix(s, ">="), strings.HasPrefix(s, "≥"):
		bound = BoundAtLeast
	case strings.HasPrefix(s, ">"):
		bound = BoundAtLeast
	case upToPattern.MatchString(s):
		bound = BoundAtMost
	}

	token := numberPattern.FindString(s)
	if token == "" {
		return BoundedValue{}, &ValueParseError{RawValue: raw}
	}

	// A comma between digits is a decimal separator when it is the only
	// separator ("5,6"); otherwise treat commas as thousands grouping
	// ("150,000").
	if decimalCommaPattern.MatchString(token) {
		token = strings.Replace(token, ",", ".", 1)
	} else {
		token = strings.ReplaceAll(token, ",", "")
	}

	// Thousands-grouped values split by FindString at the comma; rejoin by
	// scanning the original string for the full grouped number.
	if grouped := groupedPattern.FindString(s); grouped != "" {
		token = strings.ReplaceAll(grouped, ",", "")
	}

	magnitude, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return BoundedValue{}, &ValueParseError{RawValue: raw}
	}

	return BoundedValue{Magnitude: magnitude, Bound: bound}, nil
}
