// Package service implements the processing pipeline: classification of
// normalized values against resolved reference ranges, trend analysis over
// patient history and report orchestration.
package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/domain"
)

// DefaultBorderlineMargin is the fraction of the reference range width that
// counts as borderline next to either boundary.
const DefaultBorderlineMargin = 0.10

// Classifier assigns severity labels to normalized measurements. It is pure:
// identical inputs always produce identical output.
type Classifier struct {
	borderlineMargin float64
	logger           *logrus.Logger
}

// NewClassifier creates a classifier. A non-positive margin selects the
// default.
func NewClassifier(borderlineMargin float64, logger *logrus.Logger) *Classifier {
	if borderlineMargin <= 0 {
		borderlineMargin = DefaultBorderlineMargin
	}
	return &Classifier{borderlineMargin: borderlineMargin, logger: logger}
}

// Classify labels a bounded value against a reference range. Both range
// boundaries are inclusive: a value exactly on a boundary is NORMAL. Inside
// the range, a value within the borderline margin of either boundary is
// BORDERLINE. Bounded values ("<5", ">200") are classified by what the bound
// guarantees: an at-most value at or below the lower boundary is LOW, and an
// at-most value can never prove HIGH (symmetrically for at-least).
func (c *Classifier) Classify(v domain.BoundedValue, rr domain.ReferenceRange) domain.ClassificationResult {
	switch v.Bound {
	case domain.BoundAtMost:
		return c.classifyAtMost(v.Magnitude, rr)
	case domain.BoundAtLeast:
		return c.classifyAtLeast(v.Magnitude, rr)
	default:
		return c.classifyExact(v.Magnitude, rr)
	}
}

func (c *Classifier) classifyExact(value float64, rr domain.ReferenceRange) domain.ClassificationResult {
	distance := boundaryDistance(value, rr)

	switch {
	case value < rr.Low:
		return domain.ClassificationResult{Label: domain.ClassificationLow, BoundaryDistance: distance}
	case value > rr.High:
		return domain.ClassificationResult{Label: domain.ClassificationHigh, BoundaryDistance: distance}
	case value == rr.Low || value == rr.High:
		return domain.ClassificationResult{Label: domain.ClassificationNormal, BoundaryDistance: 0}
	}

	if distance < c.borderlineMargin*rr.Width() {
		return domain.ClassificationResult{Label: domain.ClassificationBorderline, BoundaryDistance: distance}
	}
	return domain.ClassificationResult{Label: domain.ClassificationNormal, BoundaryDistance: distance}
}

// classifyAtMost labels "the value is at most m". When m does not exceed the
// lower boundary the true value is certainly low. Otherwise the value is
// labeled as if exact, except that HIGH is unprovable and degrades to NORMAL.
func (c *Classifier) classifyAtMost(m float64, rr domain.ReferenceRange) domain.ClassificationResult {
	if m <= rr.Low {
		return domain.ClassificationResult{Label: domain.ClassificationLow, BoundaryDistance: rr.Low - m}
	}
	res := c.classifyExact(m, rr)
	if res.Label == domain.ClassificationHigh {
		res.Label = domain.ClassificationNormal
	}
	return res
}

// classifyAtLeast mirrors classifyAtMost for ">=" bounds.
func (c *Classifier) classifyAtLeast(m float64, rr domain.ReferenceRange) domain.ClassificationResult {
	if m >= rr.High {
		return domain.ClassificationResult{Label: domain.ClassificationHigh, BoundaryDistance: m - rr.High}
	}
	res := c.classifyExact(m, rr)
	if res.Label == domain.ClassificationLow {
		res.Label = domain.ClassificationNormal
	}
	return res
}

func boundaryDistance(value float64, rr domain.ReferenceRange) float64 {
	return math.Min(math.Abs(value-rr.Low), math.Abs(value-rr.High))
}
