// Package repository archives processed reports in PostgreSQL. The archive
// is an audit trail: it records what the engine decided for every row,
// including failed ones.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/database"
	"github.com/labtrend-engine/internal/service"
)

// ErrReportNotFound is returned when a report ID has no archived entry.
var ErrReportNotFound = errors.New("report not found")

// ReportArchive persists processed reports.
type ReportArchive struct {
	db  *database.DB
	log *logrus.Logger
}

// NewReportArchive creates a report archive backed by the connection pool.
func NewReportArchive(db *database.DB, logger *logrus.Logger) *ReportArchive {
	return &ReportArchive{db: db, log: logger}
}

// ArchivedReport is the stored summary of one processed report.
type ArchivedReport struct {
	ReportID    string    `json:"report_id"`
	PatientID   string    `json:"patient_id"`
	ProcessedAt time.Time `json:"processed_at"`
	Total       int       `json:"total"`
	Classified  int       `json:"classified"`
	Abnormal    int       `json:"abnormal"`
	Errors      int       `json:"errors"`
}

// Save archives a processed report and all of its rows in one transaction.
func (a *ReportArchive) Save(ctx context.Context, patientID string, result *service.ReportResult) error {
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reports (report_id, patient_id, processed_at, total_rows, classified_rows, abnormal_rows, error_rows)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, result.ReportID, patientID, result.ProcessedAt,
		result.Summary.Total, result.Summary.Classified, result.Summary.Abnormal, result.Summary.Errors)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}

	for _, row := range result.Rows {
		if err := a.insertRow(ctx, tx, result.ReportID, row); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing archive transaction: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"report_id":  result.ReportID,
		"patient_id": patientID,
		"rows":       len(result.Rows),
	}).Info("Report archived")
	return nil
}

func (a *ReportArchive) insertRow(ctx context.Context, tx pgx.Tx, reportID string, row service.RowResult) error {
	var (
		testID, canonicalUnit, classification, trendDirection *string
		normalizedValue, boundaryDistance, trendMagnitude     *float64
	)
	if row.TestID != "" {
		testID = &row.TestID
	}
	if row.Normalized != nil {
		normalizedValue = &row.Normalized.Value
		canonicalUnit = &row.Normalized.Unit
	}
	if row.Classification != nil {
		label := string(row.Classification.Label)
		classification = &label
		boundaryDistance = &row.Classification.BoundaryDistance
	}
	if row.Trend != nil {
		direction := string(row.Trend.Direction)
		trendDirection = &direction
		trendMagnitude = &row.Trend.Magnitude
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO report_rows (
			report_id, row_index, raw_test_name, raw_value, raw_unit,
			test_id, normalized_value, canonical_unit,
			classification, boundary_distance, trend_direction, trend_magnitude,
			error_kind, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, reportID, row.Index, row.Input.TestName, row.Input.Value, row.Input.Unit,
		testID, normalizedValue, canonicalUnit,
		classification, boundaryDistance, trendDirection, trendMagnitude,
		row.ErrorKind, row.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting report row %d: %w", row.Index, err)
	}
	return nil
}

// Get returns the archived summary for one report.
func (a *ReportArchive) Get(ctx context.Context, reportID string) (*ArchivedReport, error) {
	var r ArchivedReport
	err := a.db.Pool.QueryRow(ctx, `
		SELECT report_id, patient_id, processed_at, total_rows, classified_rows, abnormal_rows, error_rows
		FROM reports
		WHERE report_id = $1
	`, reportID).Scan(&r.ReportID, &r.PatientID, &r.ProcessedAt,
		&r.Total, &r.Classified, &r.Abnormal, &r.Errors)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}
	return &r, nil
}

// ListByPatient returns the most recent archived reports for one patient.
func (a *ReportArchive) ListByPatient(ctx context.Context, patientID string, limit int) ([]ArchivedReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Pool.Query(ctx, `
		SELECT report_id, patient_id, processed_at, total_rows, classified_rows, abnormal_rows, error_rows
		FROM reports
		WHERE patient_id = $1
		ORDER BY processed_at DESC
		LIMIT $2
	`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	var out []ArchivedReport
	for rows.Next() {
		var r ArchivedReport
		if err := rows.Scan(&r.ReportID, &r.PatientID, &r.ProcessedAt,
			&r.Total, &r.Classified, &r.Abnormal, &r.Errors); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
