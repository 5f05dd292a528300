package domain

import (
	"errors"
	"fmt"
)

// Row-level error kinds. Each processed row reports exactly one outcome:
// a classified result or one of these, never a silent drop.
const (
	ErrKindUnknownTest        = "UNKNOWN_TEST"
	ErrKindUnsupportedUnit    = "UNSUPPORTED_UNIT"
	ErrKindValueParse         = "VALUE_PARSE"
	ErrKindNoReferenceRange   = "NO_REFERENCE_RANGE"
	ErrKindAmbiguousRange     = "AMBIGUOUS_RANGE"
	ErrKindHistoryUnavailable = "HISTORY_UNAVAILABLE"
)

// UnknownTestError reports a test name that could not be resolved against the
// canonical registry. It carries the raw string so the caller can flag the
// row for manual review instead of dropping it.
type UnknownTestError struct {
	RawName string
}

func (e *UnknownTestError) Error() string {
	return fmt.Sprintf("unknown test name %q", e.RawName)
}

// UnsupportedUnitError reports a unit with no registered conversion to the
// test's canonical unit.
type UnsupportedUnitError struct {
	TestID  string
	RawUnit string
}

func (e *UnsupportedUnitError) Error() string {
	return fmt.Sprintf("unsupported unit %q for test %s", e.RawUnit, e.TestID)
}

// ValueParseError reports a raw value string with no extractable numeric
// content.
type ValueParseError struct {
	RawValue string
}

func (e *ValueParseError) Error() string {
	return fmt.Sprintf("no numeric content in value %q", e.RawValue)
}

// NoReferenceRangeError reports a canonical test with no reference range
// entries at all.
type NoReferenceRangeError struct {
	TestID string
}

func (e *NoReferenceRangeError) Error() string {
	return fmt.Sprintf("no reference range for test %s", e.TestID)
}

// AmbiguousRangeError reports two reference range entries matching a patient
// at the same specificity level. This is a reference-data authoring bug: the
// resolver refuses to guess.
type AmbiguousRangeError struct {
	TestID      string
	Specificity string
}

func (e *AmbiguousRangeError) Error() string {
	return fmt.Sprintf("ambiguous reference ranges for test %s at specificity %s", e.TestID, e.Specificity)
}

// HistoryUnavailableError reports a history store failure. It degrades trend
// output to insufficient data but never blocks classification of the current
// report.
type HistoryUnavailableError struct {
	PatientID string
	TestID    string
	Err       error
}

func (e *HistoryUnavailableError) Error() string {
	return fmt.Sprintf("history unavailable for patient %s test %s: %v", e.PatientID, e.TestID, e.Err)
}

// Unwrap exposes the underlying store failure.
func (e *HistoryUnavailableError) Unwrap() error {
	return e.Err
}

// ErrorKind maps a row-level error to its stable kind string for output and
// logging. Unrecognized errors map to the empty string.
func ErrorKind(err error) string {
	var (
		unknownTest *UnknownTestError
		badUnit     *UnsupportedUnitError
		badValue    *ValueParseError
		noRange     *NoReferenceRangeError
		ambiguous   *AmbiguousRangeError
		noHistory   *HistoryUnavailableError
	)
	switch {
	case errors.As(err, &unknownTest):
		return ErrKindUnknownTest
	case errors.As(err, &badUnit):
		return ErrKindUnsupportedUnit
	case errors.As(err, &badValue):
		return ErrKindValueParse
	case errors.As(err, &noRange):
		return ErrKindNoReferenceRange
	case errors.As(err, &ambiguous):
		return ErrKindAmbiguousRange
	case errors.As(err, &noHistory):
		return ErrKindHistoryUnavailable
	default:
		return ""
	}
}

// Validation errors for reference data integrity.
var (
	ErrInvalidReferenceData = errors.New("invalid reference data")
	ErrInvalidRange         = errors.New("reference range low must not exceed high")
	ErrDuplicateAlias       = errors.New("alias mapped to more than one test")
)
