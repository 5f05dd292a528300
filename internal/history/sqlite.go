package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/labtrend-engine/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite. It suits
// single-node deployments that need durable history without an external
// database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite history store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createObservationSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPoint scans a row into a TrendPoint.
func scanPoint(s scanner) (domain.TrendPoint, error) {
	var (
		point domain.TrendPoint
		label string
	)
	if err := s.Scan(&point.Date, &point.Value, &label); err != nil {
		return domain.TrendPoint{}, err
	}
	point.Classification = domain.Classification(label)
	return point, nil
}

// createObservationSchema creates the database tables and indexes.
func createObservationSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id TEXT NOT NULL,
		test_id TEXT NOT NULL,
		observed_at DATETIME NOT NULL,
		value REAL NOT NULL,
		classification TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(patient_id, test_id, observed_at)
	);

	CREATE INDEX IF NOT EXISTS idx_observations_series ON observations(patient_id, test_id, observed_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Append stores or replaces the observation for one patient, test and date.
func (s *SQLiteStore) Append(ctx context.Context, m domain.NormalizedMeasurement, label domain.Classification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (patient_id, test_id, observed_at, value, classification, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(patient_id, test_id, observed_at) DO UPDATE SET
			value = excluded.value,
			classification = excluded.classification
	`,
		m.PatientID,
		m.TestID,
		m.Date.UTC(),
		m.Value,
		string(label),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

// FetchHistory returns the observations for one patient and test, oldest
// first.
func (s *SQLiteStore) FetchHistory(ctx context.Context, patientID, testID string, limit int) ([]domain.TrendPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT observed_at, value, classification
		FROM observations
		WHERE patient_id = ? AND test_id = ?
		ORDER BY observed_at ASC
	`, patientID, testID)
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
