package domain

import "fmt"

// RangeApplicability restricts a reference range to a patient population.
// All fields are optional; an empty applicability is the unconditional
// default for the test.
type RangeApplicability struct {
	Sex Sex `json:"sex,omitempty"`
	// AgeMin and AgeMax bound the applicable age in whole years, inclusive.
	// Zero values mean unbounded.
	AgeMin int `json:"age_min,omitempty"`
	AgeMax int `json:"age_max,omitempty"`
}

// HasSex reports whether the applicability constrains sex.
func (a RangeApplicability) HasSex() bool {
	return a.Sex != SexUnknown
}

// HasAge reports whether the applicability constrains age.
func (a RangeApplicability) HasAge() bool {
	return a.AgeMin > 0 || a.AgeMax > 0
}

// Specificity ranks an applicability for resolution: sex+age beats sex-only
// beats age-only beats the unconditional default. Higher wins.
func (a RangeApplicability) Specificity() int {
	switch {
	case a.HasSex() && a.HasAge():
		return 3
	case a.HasSex():
		return 2
	case a.HasAge():
		return 1
	default:
		return 0
	}
}

// Matches reports whether the applicability admits the given patient. A sex
// constraint requires the patient sex to be known and equal; an age
// constraint requires a known age inside the bracket.
func (a RangeApplicability) Matches(attrs PatientAttributes) bool {
	if a.HasSex() && attrs.Sex != a.Sex {
		return false
	}
	if a.HasAge() {
		if !attrs.HasAge() {
			return false
		}
		if a.AgeMin > 0 && attrs.AgeYears < a.AgeMin {
			return false
		}
		if a.AgeMax > 0 && attrs.AgeYears > a.AgeMax {
			return false
		}
	}
	return true
}

// ReferenceRange is the normal interval for a canonical test, expressed in
// the test's canonical unit. Boundaries are inclusive.
type ReferenceRange struct {
	TestID        string             `json:"test_id"`
	Applicability RangeApplicability `json:"applicability"`
	Low           float64            `json:"low"`
	High          float64            `json:"high"`
	Unit          string             `json:"unit"`
}

// Width is the span of the range. It is the basis for the borderline margin,
// the trend noise threshold and trend magnitudes.
func (r ReferenceRange) Width() float64 {
	return r.High - r.Low
}

// Center is the midpoint of the range, the healthy target for
// range-centered tests.
func (r ReferenceRange) Center() float64 {
	return (r.Low + r.High) / 2
}

// Validate enforces low <= high.
func (r ReferenceRange) Validate() error {
	if r.TestID == "" {
		return fmt.Errorf("reference range validation: %w: test_id is required", ErrInvalidReferenceData)
	}
	if r.Low > r.High {
		return fmt.Errorf("reference range for %s: %w: low=%g high=%g", r.TestID, ErrInvalidRange, r.Low, r.High)
	}
	return nil
}
