// Package history persists per-patient observation series and serves them
// back in chronological order for trend analysis. Backends share one Store
// interface; the pipeline treats history as best-effort and degrades trends
// to insufficient data when a backend fails.
package history

import (
	"context"

	"github.com/labtrend-engine/internal/domain"
)

// Store is the persistence contract for patient observation history.
type Store interface {
	// Append records one classified observation. Appending a second
	// observation for the same patient, test and date replaces the first.
	Append(ctx context.Context, m domain.NormalizedMeasurement, label domain.Classification) error

	// FetchHistory returns the observations for one patient and test ordered
	// oldest first. A positive limit keeps only the most recent entries;
	// zero means no limit.
	FetchHistory(ctx context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error)

	// Close releases backend resources.
	Close() error
}

// tailLimit trims a chronologically ordered slice to its most recent n
// entries.
func tailLimit(points []domain.TrendPoint, limit int) []domain.TrendPoint {
	if limit > 0 && len(points) > limit {
		return points[len(points)-limit:]
	}
	return points
}
