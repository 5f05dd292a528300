package domain

import (
	"errors"
	"fmt"
	"time"
)

// RawMeasurement is one test row as extracted from an uploaded report.
// Value and unit are untrusted strings that still need parsing; the struct
// is immutable once created.
type RawMeasurement struct {
	TestName       string    `json:"test_name"`
	Value          string    `json:"value"`
	Unit           string    `json:"unit"`
	ReferenceRange string    `json:"reference_range,omitempty"`
	PatientID      string    `json:"patient_id"`
	Date           time.Time `json:"date"`
}

// Validate ensures the raw row carries the minimum needed to attempt
// normalization.
func (m *RawMeasurement) Validate() error {
	if m.TestName == "" {
		return fmt.Errorf("raw measurement validation: %w", errors.New("test name is required"))
	}
	if m.PatientID == "" {
		return fmt.Errorf("raw measurement validation: %w", errors.New("patient ID is required"))
	}
	if m.Date.IsZero() {
		return fmt.Errorf("raw measurement validation: %w", errors.New("date is required"))
	}
	return nil
}

// NormalizedMeasurement is a measurement after name resolution and unit
// conversion: the value is expressed in the test's canonical unit.
type NormalizedMeasurement struct {
	TestID    string    `json:"test_id"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Date      time.Time `json:"date"`
	PatientID string    `json:"patient_id"`
}

// TrendPoint is one historical observation inside a TrendRecord.
type TrendPoint struct {
	Date           time.Time      `json:"date"`
	Value          float64        `json:"value"`
	Classification Classification `json:"classification"`
}

// TrendRecord summarizes the direction of a patient's values for one
// canonical test. It is always rebuilt from the full ordered history; it is
// never partially mutated.
type TrendRecord struct {
	TestID    string         `json:"test_id"`
	PatientID string         `json:"patient_id"`
	Points    []TrendPoint   `json:"points"`
	Direction TrendDirection `json:"direction"`
	// Magnitude is the absolute difference between the latest and the
	// preceding value expressed as a fraction of the reference range width,
	// for cross-test comparability.
	Magnitude float64 `json:"magnitude"`
}

// ClassificationResult is the outcome of classifying one normalized value
// against its resolved range. Identical inputs always yield identical
// output.
type ClassificationResult struct {
	Label Classification `json:"label"`
	// BoundaryDistance is the absolute distance from the value to the
	// nearest range boundary, in canonical units. Downstream narrative
	// generation uses it for severity wording.
	BoundaryDistance float64 `json:"boundary_distance"`
}
