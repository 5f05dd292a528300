package history

import (
	"context"
	"sort"
	"sync"

	"github.com/labtrend-engine/internal/domain"
)

// MemoryStore is an in-process history store. It backs tests and
// single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[seriesKey][]domain.TrendPoint
}

type seriesKey struct {
	patientID string
	testID    string
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[seriesKey][]domain.TrendPoint)}
}

// Append records an observation, replacing any existing one at the same
// date.
func (s *MemoryStore) Append(_ context.Context, m domain.NormalizedMeasurement, label domain.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{patientID: m.PatientID, testID: m.TestID}
	points := s.series[key]

	point := domain.TrendPoint{Date: m.Date, Value: m.Value, Classification: label}
	for i := range points {
		if points[i].Date.Equal(m.Date) {
			points[i] = point
			return nil
		}
	}

	points = append(points, point)
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	s.series[key] = points
	return nil
}

// FetchHistory returns the series for one patient and test, oldest first.
func (s *MemoryStore) FetchHistory(_ context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.series[seriesKey{patientID: patientID, testID: testID}]
	out := make([]domain.TrendPoint, len(points))
	copy(out, points)
	return tailLimit(out, limit), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
