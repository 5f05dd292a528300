package registry

import (
	"strings"

	"github.com/labtrend-engine/internal/domain"
)

// ResolveUnit maps a raw unit string to the registered conversion key for a
// test. Matching is case-insensitive and whitespace-tolerant; an empty raw
// unit resolves to the canonical unit, since many reports omit the unit when
// it is the conventional one. A unit with no registered conversion returns
// an UnsupportedUnitError.
func (r *Registry) ResolveUnit(testID, rawUnit string) (string, error) {
	test, ok := r.tests[testID]
	if !ok {
		return "", &domain.UnknownTestError{RawName: testID}
	}

	trimmed := strings.TrimSpace(rawUnit)
	if trimmed == "" {
		return test.CanonicalUnit, nil
	}

	folded := foldUnit(trimmed)
	for unit := range test.UnitConversions {
		if foldUnit(unit) == folded {
			return unit, nil
		}
	}
	return "", &domain.UnsupportedUnitError{TestID: testID, RawUnit: rawUnit}
}

// Convert re-expresses a value from one registered unit of a test into
// another. Conversion always routes through the canonical unit, so any
// registered pair is convertible.
func (r *Registry) Convert(testID string, value float64, fromUnit, toUnit string) (float64, error) {
	test, ok := r.tests[testID]
	if !ok {
		return 0, &domain.UnknownTestError{RawName: testID}
	}

	from, ok := test.UnitConversions[fromUnit]
	if !ok {
		return 0, &domain.UnsupportedUnitError{TestID: testID, RawUnit: fromUnit}
	}
	to, ok := test.UnitConversions[toUnit]
	if !ok {
		return 0, &domain.UnsupportedUnitError{TestID: testID, RawUnit: toUnit}
	}
	return to.Invert(from.Apply(value)), nil
}

// Normalize resolves the raw unit and converts the value into the canonical
// unit of the test in one step.
func (r *Registry) Normalize(testID string, value float64, rawUnit string) (float64, string, error) {
	test, ok := r.tests[testID]
	if !ok {
		return 0, "", &domain.UnknownTestError{RawName: testID}
	}
	unit, err := r.ResolveUnit(testID, rawUnit)
	if err != nil {
		return 0, "", err
	}
	canonical, err := r.Convert(testID, value, unit, test.CanonicalUnit)
	if err != nil {
		return 0, "", err
	}
	return canonical, test.CanonicalUnit, nil
}

// foldUnit case-folds a unit string and strips interior whitespace and the
// micro sign variants, so "mg/dl", "MG / DL" and "mg/dL" all compare equal.
func foldUnit(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "µ", "u")
	s = strings.ReplaceAll(s, "μ", "u")
	return s
}
