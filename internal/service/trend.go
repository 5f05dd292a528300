package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/domain"
)

// DefaultNoiseFraction is the fraction of the reference range width below
// which a change between consecutive values is treated as noise.
const DefaultNoiseFraction = 0.05

// TrendAnalyzer derives the clinical direction of a patient's values for one
// test from the ordered observation history.
type TrendAnalyzer struct {
	noiseFraction float64
	logger        *logrus.Logger
}

// NewTrendAnalyzer creates a trend analyzer. A non-positive noise fraction
// selects the default.
func NewTrendAnalyzer(noiseFraction float64, logger *logrus.Logger) *TrendAnalyzer {
	if noiseFraction <= 0 {
		noiseFraction = DefaultNoiseFraction
	}
	return &TrendAnalyzer{noiseFraction: noiseFraction, logger: logger}
}

// Analyze builds the trend record for a patient's observation history of one
// test. Points must be ordered oldest first and already expressed in the
// canonical unit. Fewer than two points yield INSUFFICIENT_DATA. The verdict
// compares the latest two points through the test's healthy direction:
// moving toward health is IMPROVING, away is WORSENING, and a change smaller
// than the noise threshold is STABLE.
func (a *TrendAnalyzer) Analyze(
	patientID string,
	test *domain.CanonicalTest,
	rr domain.ReferenceRange,
	points []domain.TrendPoint,
) domain.TrendRecord {
	record := domain.TrendRecord{
		TestID:    test.TestID,
		PatientID: patientID,
		Points:    points,
		Direction: domain.TrendInsufficientData,
	}
	if len(points) < 2 {
		return record
	}

	latest := points[len(points)-1].Value
	prev := points[len(points)-2].Value
	width := rr.Width()

	if width > 0 {
		record.Magnitude = math.Abs(latest-prev) / width
	}

	if math.Abs(latest-prev) < a.noiseFraction*width {
		record.Direction = domain.TrendStable
		return record
	}

	delta := badness(latest, test.Direction, rr) - badness(prev, test.Direction, rr)
	switch {
	case delta > 0:
		record.Direction = domain.TrendWorsening
	case delta < 0:
		record.Direction = domain.TrendImproving
	default:
		// A real change with unchanged distance to health, e.g. crossing the
		// center of a range-centered test symmetrically.
		record.Direction = domain.TrendStable
	}

	if a.logger != nil {
		a.logger.WithFields(logrus.Fields{
			"patient_id": patientID,
			"test_id":    test.TestID,
			"direction":  record.Direction,
			"magnitude":  record.Magnitude,
		}).Debug("Trend analyzed")
	}
	return record
}

// badness scores how unhealthy a value is under the test's healthy
// direction. Only differences of this score matter, never its absolute
// value.
func badness(v float64, dir domain.HealthyDirection, rr domain.ReferenceRange) float64 {
	switch dir {
	case domain.HigherIsWorse:
		return v
	case domain.LowerIsWorse:
		return -v
	default:
		return math.Abs(v - rr.Center())
	}
}
