// Package domain contains the core business entities for lab result
// normalization, benchmark classification and trend analysis.
//
// All reference data (canonical tests, unit conversions, reference ranges)
// is loaded once at process start and treated as read-only during request
// handling. Derived entities (NormalizedMeasurement, Classification,
// TrendRecord) are owned by the pipeline run that produced them.
package domain

// Classification represents the severity label assigned to a measurement
// relative to its resolved reference range.
type Classification string

const (
	ClassificationNormal     Classification = "NORMAL"
	ClassificationBorderline Classification = "BORDERLINE"
	ClassificationHigh       Classification = "HIGH"
	ClassificationLow        Classification = "LOW"
)

// IsValid validates the classification label. Only valid labels may enter
// persisted history or downstream narrative generation.
func (c Classification) IsValid() bool {
	switch c {
	case ClassificationNormal, ClassificationBorderline, ClassificationHigh, ClassificationLow:
		return true
	default:
		return false
	}
}

// String returns the string representation of the classification.
func (c Classification) String() string {
	return string(c)
}

// IsAbnormal reports whether the label indicates a value outside the
// reference range.
func (c Classification) IsAbnormal() bool {
	return c == ClassificationHigh || c == ClassificationLow
}

// TrendDirection represents the clinical direction of a patient's values for
// one canonical test across consecutive reports.
type TrendDirection string

const (
	TrendImproving        TrendDirection = "IMPROVING"
	TrendWorsening        TrendDirection = "WORSENING"
	TrendStable           TrendDirection = "STABLE"
	TrendInsufficientData TrendDirection = "INSUFFICIENT_DATA"
)

// IsValid validates the trend direction.
func (d TrendDirection) IsValid() bool {
	switch d {
	case TrendImproving, TrendWorsening, TrendStable, TrendInsufficientData:
		return true
	default:
		return false
	}
}

// String returns the string representation of the trend direction.
func (d TrendDirection) String() string {
	return string(d)
}

// HealthyDirection declares, per canonical test, which way a value moves
// toward health. It drives the improving/worsening verdict of the trend
// analyzer.
type HealthyDirection string

const (
	// HigherIsWorse: lower values are healthier (e.g. LDL cholesterol).
	HigherIsWorse HealthyDirection = "HIGHER_IS_WORSE"
	// LowerIsWorse: higher values are healthier (e.g. HDL cholesterol).
	LowerIsWorse HealthyDirection = "LOWER_IS_WORSE"
	// RangeCentered: the midpoint of the reference range is the healthy
	// target (e.g. hemoglobin, sodium).
	RangeCentered HealthyDirection = "RANGE_CENTERED"
)

// IsValid validates the healthy direction.
func (h HealthyDirection) IsValid() bool {
	switch h {
	case HigherIsWorse, LowerIsWorse, RangeCentered:
		return true
	default:
		return false
	}
}

// String returns the string representation of the healthy direction.
func (h HealthyDirection) String() string {
	return string(h)
}

// Sex is the patient sex used for reference range applicability.
type Sex string

const (
	SexMale    Sex = "MALE"
	SexFemale  Sex = "FEMALE"
	SexUnknown Sex = ""
)

// IsValid validates the sex value. The empty value is valid and means
// "not provided".
func (s Sex) IsValid() bool {
	switch s {
	case SexMale, SexFemale, SexUnknown:
		return true
	default:
		return false
	}
}

// PatientAttributes carries the patient properties relevant to reference
// range resolution. Zero values mean "not provided".
type PatientAttributes struct {
	Sex Sex `json:"sex,omitempty"`
	// AgeYears is the patient age in whole years; 0 means not provided.
	AgeYears int `json:"age_years,omitempty"`
}

// HasAge reports whether an age was provided.
func (p PatientAttributes) HasAge() bool {
	return p.AgeYears > 0
}
