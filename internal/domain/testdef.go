package domain

import (
	"fmt"
	"math"
)

// UnitConversion converts a value from one unit into the canonical unit of a
// specific test. Conversions are per-test because the same unit pair (e.g.
// mg/dL to mmol/L) uses a different molar-mass factor per analyte.
type UnitConversion struct {
	// Factor multiplies the source value to produce the canonical value.
	Factor float64 `json:"factor"`
}

// Apply converts v into the canonical unit.
func (c UnitConversion) Apply(v float64) float64 {
	return v * c.Factor
}

// Invert converts a canonical value back into the source unit.
func (c UnitConversion) Invert(v float64) float64 {
	return v / c.Factor
}

// CanonicalTest is the registry entry for one lab test: a stable identifier,
// its canonical unit, the alias strings that resolve to it and the unit
// conversions it supports. Static reference data, read-only after load.
type CanonicalTest struct {
	TestID      string `json:"test_id"`
	DisplayName string `json:"display_name"`
	// Category groups tests for reporting (e.g. "Hematology", "Lipid Panel").
	Category      string   `json:"category,omitempty"`
	Description   string   `json:"description,omitempty"`
	CanonicalUnit string   `json:"canonical_unit"`
	Aliases       []string `json:"aliases,omitempty"`
	// UnitConversions maps a unit string to the conversion into the
	// canonical unit. The canonical unit itself is always present with
	// factor 1.
	UnitConversions map[string]UnitConversion `json:"unit_conversions"`
	Direction       HealthyDirection          `json:"direction"`
}

// Validate enforces the registry entry invariants: the canonical unit must be
// a valid conversion key (identity), every conversion factor must be a
// positive finite number, and the healthy direction must be declared.
func (t *CanonicalTest) Validate() error {
	if t.TestID == "" {
		return fmt.Errorf("canonical test validation: %w: test_id is required", ErrInvalidReferenceData)
	}
	if t.CanonicalUnit == "" {
		return fmt.Errorf("canonical test %s: %w: canonical_unit is required", t.TestID, ErrInvalidReferenceData)
	}
	conv, ok := t.UnitConversions[t.CanonicalUnit]
	if !ok {
		return fmt.Errorf("canonical test %s: %w: canonical unit %q missing from unit_conversions",
			t.TestID, ErrInvalidReferenceData, t.CanonicalUnit)
	}
	if conv.Factor != 1 {
		return fmt.Errorf("canonical test %s: %w: canonical unit %q must convert with factor 1",
			t.TestID, ErrInvalidReferenceData, t.CanonicalUnit)
	}
	for unit, c := range t.UnitConversions {
		if c.Factor <= 0 || math.IsInf(c.Factor, 0) || math.IsNaN(c.Factor) {
			return fmt.Errorf("canonical test %s: %w: conversion factor for %q must be positive and finite",
				t.TestID, ErrInvalidReferenceData, unit)
		}
	}
	if !t.Direction.IsValid() {
		return fmt.Errorf("canonical test %s: %w: invalid healthy direction %q",
			t.TestID, ErrInvalidReferenceData, t.Direction)
	}
	return nil
}
