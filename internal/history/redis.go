package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/labtrend-engine/internal/domain"
)

// RedisStore implements the Store interface on a Redis sorted set per
// patient/test series, scored by observation time. It suits deployments
// that already run Redis and can accept its durability settings.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisOptions configures the Redis history store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix namespaces all history keys; defaults to "labtrend:history".
	KeyPrefix string
	// TTL expires a series after inactivity. Zero keeps series forever.
	TTL time.Duration
}

// NewRedisStore creates a Redis history store and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "labtrend:history"
	}
	return &RedisStore{client: client, keyPrefix: prefix, ttl: opts.TTL}, nil
}

type redisPoint struct {
	Date           time.Time `json:"date"`
	Value          float64   `json:"value"`
	Classification string    `json:"classification"`
}

func (s *RedisStore) seriesKey(patientID, testID string) string {
	return fmt.Sprintf("%s:%s:%s", s.keyPrefix, patientID, testID)
}

// Append stores or replaces the observation for one patient, test and date.
// Replacement removes any member at the same score before adding, so one
// date holds at most one observation.
func (s *RedisStore) Append(ctx context.Context, m domain.NormalizedMeasurement, label domain.Classification) error {
	member, err := json.Marshal(redisPoint{
		Date:           m.Date.UTC(),
		Value:          m.Value,
		Classification: string(label),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal observation: %w", err)
	}

	key := s.seriesKey(m.PatientID, m.TestID)
	score := float64(m.Date.UTC().UnixMilli())
	scoreArg := fmt.Sprintf("%d", m.Date.UTC().UnixMilli())

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, scoreArg, scoreArg)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// FetchHistory returns the observations for one patient and test, oldest
// first.
func (s *RedisStore) FetchHistory(ctx context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error) {
	key := s.seriesKey(patientID, testID)
	members, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}

	points := make([]domain.TrendPoint, 0, len(members))
	for _, member := range members {
		var p redisPoint
		if err := json.Unmarshal([]byte(member), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal observation: %w", err)
		}
		points = append(points, domain.TrendPoint{
			Date:           p.Date,
			Value:          p.Value,
			Classification: domain.Classification(p.Classification),
		})
	}
	return tailLimit(points, limit), nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
