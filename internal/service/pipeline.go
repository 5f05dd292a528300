package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/history"
	"github.com/labtrend-engine/internal/reference"
	"github.com/labtrend-engine/internal/registry"
)

// DefaultConcurrency bounds the number of report rows processed in parallel.
const DefaultConcurrency = 4

// RowResult is the outcome of one report row. A row either classifies
// (Classification set) or fails with a kind from the row error taxonomy;
// it is never dropped. History trouble degrades only the trend and is
// reported separately in HistoryError.
type RowResult struct {
	Index int                   `json:"index"`
	Input domain.RawMeasurement `json:"input"`

	TestID         string                       `json:"test_id,omitempty"`
	DisplayName    string                       `json:"display_name,omitempty"`
	Normalized     *domain.NormalizedMeasurement `json:"normalized,omitempty"`
	Value          *domain.BoundedValue         `json:"value,omitempty"`
	ReferenceRange *domain.ReferenceRange       `json:"reference_range,omitempty"`
	Classification *domain.ClassificationResult `json:"classification,omitempty"`
	Trend          *domain.TrendRecord          `json:"trend,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	HistoryError string `json:"history_error,omitempty"`
}

// Failed reports whether the row produced no classification.
func (r RowResult) Failed() bool {
	return r.ErrorKind != ""
}

// ReportSummary aggregates row outcomes for one processed report.
type ReportSummary struct {
	Total      int `json:"total"`
	Classified int `json:"classified"`
	Abnormal   int `json:"abnormal"`
	Errors     int `json:"errors"`
}

// ReportResult is the outcome of processing one uploaded report. Rows keep
// their input order regardless of processing concurrency.
type ReportResult struct {
	ReportID    string        `json:"report_id"`
	ProcessedAt time.Time     `json:"processed_at"`
	Rows        []RowResult   `json:"rows"`
	Summary     ReportSummary `json:"summary"`
}

// PipelineOptions tunes the report pipeline.
type PipelineOptions struct {
	// Concurrency bounds parallel row processing; non-positive selects the
	// default.
	Concurrency int
	// HistoryLimit caps the points fetched per series for trend analysis.
	// Zero fetches the full series.
	HistoryLimit int
}

// Pipeline runs raw report rows through name resolution, value parsing,
// unit normalization, range resolution, classification, history persistence
// and trend analysis.
type Pipeline struct {
	registry   *registry.Registry
	resolver   *reference.Resolver
	classifier *Classifier
	trends     *TrendAnalyzer
	store      history.Store

	concurrency  int
	historyLimit int
	logger       *logrus.Logger
}

// NewPipeline wires the pipeline stages together. The history store may be
// nil, in which case every trend reports insufficient data.
func NewPipeline(
	reg *registry.Registry,
	resolver *reference.Resolver,
	classifier *Classifier,
	trends *TrendAnalyzer,
	store history.Store,
	opts PipelineOptions,
	logger *logrus.Logger,
) *Pipeline {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{
		registry:     reg,
		resolver:     resolver,
		classifier:   classifier,
		trends:       trends,
		store:        store,
		concurrency:  concurrency,
		historyLimit: opts.HistoryLimit,
		logger:       logger,
	}
}

// ProcessReport processes all rows of one report. Rows are independent:
// a failing row never blocks the others, and results come back in input
// order. Classified rows are appended to history before their trend is
// derived, so the current observation is always the latest trend point.
func (p *Pipeline) ProcessReport(ctx context.Context, rows []domain.RawMeasurement, attrs domain.PatientAttributes) (*ReportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ReportResult{
		ReportID:    uuid.New().String(),
		ProcessedAt: time.Now().UTC(),
		Rows:        make([]RowResult, len(rows)),
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.concurrency)
	for i := range rows {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			result.Rows[idx] = p.processRow(ctx, idx, rows[idx], attrs, true)
		}(i)
	}
	wg.Wait()

	for _, row := range result.Rows {
		result.Summary.Total++
		switch {
		case row.Failed():
			result.Summary.Errors++
		default:
			result.Summary.Classified++
			if row.Classification.Label.IsAbnormal() {
				result.Summary.Abnormal++
			}
		}
	}

	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"report_id":  result.ReportID,
			"total":      result.Summary.Total,
			"classified": result.Summary.Classified,
			"abnormal":   result.Summary.Abnormal,
			"errors":     result.Summary.Errors,
		}).Info("Report processed")
	}
	return result, nil
}

// Classify runs a single measurement through the pipeline without touching
// history. The returned row carries no trend.
func (p *Pipeline) Classify(ctx context.Context, raw domain.RawMeasurement, attrs domain.PatientAttributes) RowResult {
	return p.processRow(ctx, 0, raw, attrs, false)
}

// AnalyzeTrend resolves a raw test name and derives the trend for one
// patient from stored history alone.
func (p *Pipeline) AnalyzeTrend(ctx context.Context, patientID, rawTestName string, attrs domain.PatientAttributes) (*domain.TrendRecord, error) {
	testID, err := p.registry.Resolve(rawTestName)
	if err != nil {
		return nil, err
	}
	test, _ := p.registry.Lookup(testID)

	rr, err := p.resolver.Resolve(testID, attrs)
	if err != nil {
		return nil, err
	}

	if p.store == nil {
		record := p.trends.Analyze(patientID, test, rr, nil)
		return &record, nil
	}
	points, err := p.store.FetchHistory(ctx, patientID, testID, p.historyLimit)
	if err != nil {
		return nil, err
	}
	record := p.trends.Analyze(patientID, test, rr, points)
	return &record, nil
}

func (p *Pipeline) processRow(ctx context.Context, idx int, raw domain.RawMeasurement, attrs domain.PatientAttributes, persist bool) RowResult {
	row := RowResult{Index: idx, Input: raw}

	fail := func(err error) RowResult {
		row.ErrorKind = domain.ErrorKind(err)
		row.ErrorMessage = err.Error()
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"row":       idx,
				"test_name": raw.TestName,
				"kind":      row.ErrorKind,
			}).Warn("Report row failed")
		}
		return row
	}

	testID, err := p.registry.Resolve(raw.TestName)
	if err != nil {
		return fail(err)
	}
	test, _ := p.registry.Lookup(testID)
	row.TestID = testID
	row.DisplayName = test.DisplayName

	value, err := domain.ParseValue(raw.Value)
	if err != nil {
		return fail(err)
	}

	canonical, unit, err := p.registry.Normalize(testID, value.Magnitude, raw.Unit)
	if err != nil {
		return fail(err)
	}
	bounded := domain.BoundedValue{Magnitude: canonical, Bound: value.Bound}
	row.Value = &bounded
	row.Normalized = &domain.NormalizedMeasurement{
		TestID:    testID,
		Value:     canonical,
		Unit:      unit,
		Date:      raw.Date,
		PatientID: raw.PatientID,
	}

	rr, err := p.resolver.Resolve(testID, attrs)
	if err != nil {
		return fail(err)
	}
	row.ReferenceRange = &rr

	classification := p.classifier.Classify(bounded, rr)
	row.Classification = &classification

	if persist {
		row.Trend = p.deriveTrend(ctx, &row, test, rr)
	}
	return row
}

// deriveTrend appends the current observation and rebuilds the trend from
// the stored series. History failures degrade to insufficient data.
func (p *Pipeline) deriveTrend(ctx context.Context, row *RowResult, test *domain.CanonicalTest, rr domain.ReferenceRange) *domain.TrendRecord {
	insufficient := func(err error) *domain.TrendRecord {
		if err != nil {
			row.HistoryError = domain.ErrorKind(err)
			if p.logger != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"patient_id": row.Input.PatientID,
					"test_id":    row.TestID,
				}).Warn("Trend degraded, history unavailable")
			}
		}
		return &domain.TrendRecord{
			TestID:    row.TestID,
			PatientID: row.Input.PatientID,
			Direction: domain.TrendInsufficientData,
		}
	}

	if p.store == nil {
		return insufficient(nil)
	}
	if err := p.store.Append(ctx, *row.Normalized, row.Classification.Label); err != nil {
		return insufficient(err)
	}
	points, err := p.store.FetchHistory(ctx, row.Input.PatientID, row.TestID, p.historyLimit)
	if err != nil {
		return insufficient(err)
	}
	record := p.trends.Analyze(row.Input.PatientID, test, rr, points)
	return &record
}
