package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/labtrend-engine/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL history store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL history store from a
// connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Append stores or replaces the observation for one patient, test and date.
func (s *PostgresStore) Append(ctx context.Context, m domain.NormalizedMeasurement, label domain.Classification) error {
	query := `
		INSERT INTO observations (patient_id, test_id, observed_at, value, classification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id, test_id, observed_at) DO UPDATE SET
			value = EXCLUDED.value,
			classification = EXCLUDED.classification
	`

	_, err := s.db.ExecContext(ctx, query,
		m.PatientID,
		m.TestID,
		m.Date.UTC(),
		m.Value,
		string(label),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}
	return nil
}

// FetchHistory returns the observations for one patient and test, oldest
// first.
func (s *PostgresStore) FetchHistory(ctx context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error) {
	query := `
		SELECT observed_at, value, classification
		FROM observations
		WHERE patient_id = $1 AND test_id = $2
		ORDER BY observed_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, patientID, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var points []domain.TrendPoint
	for rows.Next() {
		point, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tailLimit(points, limit), nil
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
