package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/labtrend-engine/internal/domain"
)

// ResilientOptions configures the resilient history wrapper.
type ResilientOptions struct {
	// OpTimeout caps each underlying store call. Zero means 2s.
	OpTimeout time.Duration
	// Retries is the number of extra attempts after the first failure.
	// Negative means 0; the default is 2.
	Retries int
	// RetryBackoff is the initial delay between attempts; it doubles per
	// retry. Zero means 50ms.
	RetryBackoff time.Duration
}

func (o ResilientOptions) withDefaults() ResilientOptions {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 2 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 50 * time.Millisecond
	}
	return o
}

// ResilientStore wraps a history Store with per-call timeouts, bounded
// retries and a circuit breaker. Failures surface as
// HistoryUnavailableError so the pipeline can degrade trends instead of
// failing the report.
type ResilientStore struct {
	inner   Store
	opts    ResilientOptions
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientStore wraps a store with resilience.
func NewResilientStore(inner Store, opts ResilientOptions, logger *logrus.Logger) *ResilientStore {
	opts = opts.withDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("History circuit breaker state changed")
			}
		},
	})

	return &ResilientStore{inner: inner, opts: opts, breaker: breaker, logger: logger}
}

// Append records an observation through the breaker.
func (s *ResilientStore) Append(ctx context.Context, m domain.NormalizedMeasurement, label domain.Classification) error {
	err := s.execute(ctx, func(ctx context.Context) error {
		return s.inner.Append(ctx, m, label)
	})
	if err != nil {
		return &domain.HistoryUnavailableError{PatientID: m.PatientID, TestID: m.TestID, Err: err}
	}
	return nil
}

// FetchHistory reads a series through the breaker.
func (s *ResilientStore) FetchHistory(ctx context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error) {
	var points []domain.TrendPoint
	err := s.execute(ctx, func(ctx context.Context) error {
		var err error
		points, err = s.inner.FetchHistory(ctx, patientID, testID, limit)
		return err
	})
	if err != nil {
		return nil, &domain.HistoryUnavailableError{PatientID: patientID, TestID: testID, Err: err}
	}
	return points, nil
}

// execute runs one store operation under the breaker with timeout and
// retries. Retries stop as soon as the parent context is done or the
// breaker opens.
func (s *ResilientStore) execute(ctx context.Context, op func(ctx context.Context) error) error {
	backoff := s.opts.RetryBackoff

	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, err = s.breaker.Execute(func() (interface{}, error) {
			opCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
			defer cancel()
			return nil, op(opCtx)
		})
		if err == nil {
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return err
		}
		if s.logger != nil {
			s.logger.WithError(err).WithField("attempt", attempt+1).Debug("History store call failed")
		}
	}
	return err
}

// Close closes the wrapped store.
func (s *ResilientStore) Close() error {
	return s.inner.Close()
}
