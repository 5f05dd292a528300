// Package reference resolves the applicable reference range for a canonical
// test and a concrete patient. Resolution is deterministic: the most specific
// matching range wins, and a tie at the same specificity is refused rather
// than guessed.
package reference

import (
	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/registry"
)

// Resolver selects reference ranges from the loaded registry.
type Resolver struct {
	registry *registry.Registry
	logger   *logrus.Logger
}

// NewResolver creates a reference range resolver backed by the registry.
func NewResolver(reg *registry.Registry, logger *logrus.Logger) *Resolver {
	return &Resolver{registry: reg, logger: logger}
}

// Resolve picks the reference range for a test and patient. Ranges are
// filtered to those whose applicability admits the patient, then ranked by
// specificity: sex+age beats sex-only beats age-only beats the unconditional
// default. Two matches at the winning specificity level return an
// AmbiguousRangeError; no match at all returns a NoReferenceRangeError.
func (r *Resolver) Resolve(testID string, attrs domain.PatientAttributes) (domain.ReferenceRange, error) {
	candidates := r.registry.Ranges(testID)
	if len(candidates) == 0 {
		return domain.ReferenceRange{}, &domain.NoReferenceRangeError{TestID: testID}
	}

	var (
		best      domain.ReferenceRange
		bestSpec  = -1
		tiedAtTop bool
	)
	for _, rr := range candidates {
		if !rr.Applicability.Matches(attrs) {
			continue
		}
		spec := rr.Applicability.Specificity()
		switch {
		case spec > bestSpec:
			best, bestSpec, tiedAtTop = rr, spec, false
		case spec == bestSpec:
			tiedAtTop = true
		}
	}

	if bestSpec < 0 {
		return domain.ReferenceRange{}, &domain.NoReferenceRangeError{TestID: testID}
	}
	if tiedAtTop {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"test_id":     testID,
				"specificity": specificityName(bestSpec),
			}).Warn("Reference range resolution is ambiguous")
		}
		return domain.ReferenceRange{}, &domain.AmbiguousRangeError{
			TestID:      testID,
			Specificity: specificityName(bestSpec),
		}
	}
	return best, nil
}

func specificityName(spec int) string {
	switch spec {
	case 3:
		return "sex+age"
	case 2:
		return "sex"
	case 1:
		return "age"
	default:
		return "default"
	}
}
