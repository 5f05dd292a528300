package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/history"
	"github.com/labtrend-engine/internal/reference"
	"github.com/labtrend-engine/internal/registry"
)

func newPipeline(t *testing.T, store history.Store) *Pipeline {
	t.Helper()
	reg, err := registry.Load(nil)
	require.NoError(t, err)

	return NewPipeline(
		reg,
		reference.NewResolver(reg, nil),
		NewClassifier(0, nil),
		NewTrendAnalyzer(0, nil),
		store,
		PipelineOptions{},
		nil,
	)
}

func rawRow(name, value, unit, patientID, date string) domain.RawMeasurement {
	d, _ := time.Parse("2006-01-02", date)
	return domain.RawMeasurement{
		TestName:  name,
		Value:     value,
		Unit:      unit,
		PatientID: patientID,
		Date:      d,
	}
}

func TestProcessReport_SingleNormalRow(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15")},
		domain.PatientAttributes{Sex: domain.SexFemale},
	)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.NotEmpty(t, result.ReportID)

	row := result.Rows[0]
	require.False(t, row.Failed())
	assert.Equal(t, "hemoglobin", row.TestID)
	assert.Equal(t, domain.ClassificationNormal, row.Classification.Label)
	require.NotNil(t, row.Trend)
	assert.Equal(t, domain.TrendInsufficientData, row.Trend.Direction)
	assert.Equal(t, 1, result.Summary.Classified)
	assert.Equal(t, 0, result.Summary.Errors)
}

func TestProcessReport_FollowUpShowsWorsening(t *testing.T) {
	store := history.NewMemoryStore()
	p := newPipeline(t, store)
	ctx := context.Background()
	attrs := domain.PatientAttributes{Sex: domain.SexFemale}

	_, err := p.ProcessReport(ctx,
		[]domain.RawMeasurement{rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15")}, attrs)
	require.NoError(t, err)

	result, err := p.ProcessReport(ctx,
		[]domain.RawMeasurement{rawRow("HGB", "10.1", "g/dL", "p1", "2026-03-01")}, attrs)
	require.NoError(t, err)

	row := result.Rows[0]
	require.False(t, row.Failed())
	assert.Equal(t, "hemoglobin", row.TestID)
	assert.Equal(t, domain.ClassificationLow, row.Classification.Label)
	require.NotNil(t, row.Trend)
	assert.Equal(t, domain.TrendWorsening, row.Trend.Direction)
	require.Len(t, row.Trend.Points, 2)
	assert.Equal(t, 13.2, row.Trend.Points[0].Value)
	assert.Equal(t, 10.1, row.Trend.Points[1].Value)
	assert.Equal(t, 1, result.Summary.Abnormal)
}

func TestProcessReport_BoundedValueClassifiesLow(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Fasting Blood Sugar", "<40", "mg/dL", "p1", "2026-01-15")},
		domain.PatientAttributes{},
	)
	require.NoError(t, err)

	row := result.Rows[0]
	require.False(t, row.Failed())
	assert.Equal(t, domain.ClassificationLow, row.Classification.Label)
	assert.Equal(t, domain.BoundAtMost, row.Value.Bound)
}

func TestProcessReport_UnknownTestDoesNotBlockOthers(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(), []domain.RawMeasurement{
		rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15"),
		rawRow("XYZ-123", "5.0", "", "p1", "2026-01-15"),
		rawRow("TSH", "2.4", "uIU/mL", "p1", "2026-01-15"),
	}, domain.PatientAttributes{Sex: domain.SexFemale})
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)

	// Input order survives concurrent processing.
	assert.Equal(t, "hemoglobin", result.Rows[0].TestID)
	assert.Equal(t, "tsh", result.Rows[2].TestID)

	failed := result.Rows[1]
	require.True(t, failed.Failed())
	assert.Equal(t, domain.ErrKindUnknownTest, failed.ErrorKind)
	assert.Contains(t, failed.ErrorMessage, "XYZ-123")
	assert.Nil(t, failed.Classification)

	assert.Equal(t, 2, result.Summary.Classified)
	assert.Equal(t, 1, result.Summary.Errors)
}

func TestProcessReport_UnitConversion(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Hemoglobin", "102", "g/L", "p1", "2026-01-15")},
		domain.PatientAttributes{Sex: domain.SexMale},
	)
	require.NoError(t, err)

	row := result.Rows[0]
	require.False(t, row.Failed())
	assert.InDelta(t, 10.2, row.Normalized.Value, 1e-9)
	assert.Equal(t, "g/dL", row.Normalized.Unit)
	assert.Equal(t, domain.ClassificationLow, row.Classification.Label)
}

func TestProcessReport_UnsupportedUnit(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Hemoglobin", "13.2", "furlongs", "p1", "2026-01-15")},
		domain.PatientAttributes{},
	)
	require.NoError(t, err)

	row := result.Rows[0]
	require.True(t, row.Failed())
	assert.Equal(t, domain.ErrKindUnsupportedUnit, row.ErrorKind)
}

func TestProcessReport_ValueParseFailure(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Hemoglobin", "pending", "g/dL", "p1", "2026-01-15")},
		domain.PatientAttributes{},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.ErrKindValueParse, result.Rows[0].ErrorKind)
}

// failingStore refuses every operation.
type failingStore struct{}

func (failingStore) Append(context.Context, domain.NormalizedMeasurement, domain.Classification) error {
	return &domain.HistoryUnavailableError{Err: errors.New("backend down")}
}

func (failingStore) FetchHistory(context.Context, string, string, int) ([]domain.TrendPoint, error) {
	return nil, &domain.HistoryUnavailableError{Err: errors.New("backend down")}
}

func (failingStore) Close() error { return nil }

func TestProcessReport_HistoryFailureDegradesTrendOnly(t *testing.T) {
	p := newPipeline(t, failingStore{})

	result, err := p.ProcessReport(context.Background(),
		[]domain.RawMeasurement{rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15")},
		domain.PatientAttributes{Sex: domain.SexFemale},
	)
	require.NoError(t, err)

	row := result.Rows[0]
	require.False(t, row.Failed())
	assert.Equal(t, domain.ClassificationNormal, row.Classification.Label)
	require.NotNil(t, row.Trend)
	assert.Equal(t, domain.TrendInsufficientData, row.Trend.Direction)
	assert.Equal(t, domain.ErrKindHistoryUnavailable, row.HistoryError)
}

func TestClassify_NoHistoryTouched(t *testing.T) {
	store := history.NewMemoryStore()
	p := newPipeline(t, store)

	row := p.Classify(context.Background(),
		rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15"),
		domain.PatientAttributes{Sex: domain.SexFemale})
	require.False(t, row.Failed())
	assert.Equal(t, domain.ClassificationNormal, row.Classification.Label)
	assert.Nil(t, row.Trend)

	points, err := store.FetchHistory(context.Background(), "p1", "hemoglobin", 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestAnalyzeTrend_Standalone(t *testing.T) {
	store := history.NewMemoryStore()
	p := newPipeline(t, store)
	ctx := context.Background()
	attrs := domain.PatientAttributes{Sex: domain.SexFemale}

	for _, r := range []domain.RawMeasurement{
		rawRow("Hemoglobin", "13.2", "g/dL", "p1", "2026-01-15"),
		rawRow("Hemoglobin", "10.1", "g/dL", "p1", "2026-03-01"),
	} {
		_, err := p.ProcessReport(ctx, []domain.RawMeasurement{r}, attrs)
		require.NoError(t, err)
	}

	record, err := p.AnalyzeTrend(ctx, "p1", "HGB", attrs)
	require.NoError(t, err)
	assert.Equal(t, domain.TrendWorsening, record.Direction)
	assert.Len(t, record.Points, 2)

	_, err = p.AnalyzeTrend(ctx, "p1", "XYZ-123", attrs)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindUnknownTest, domain.ErrorKind(err))
}

func TestProcessReport_ManyRowsPreserveOrder(t *testing.T) {
	p := newPipeline(t, history.NewMemoryStore())

	names := []string{"Hemoglobin", "WBC", "Platelets", "TSH", "Sodium", "Potassium", "ALT", "AST"}
	rows := make([]domain.RawMeasurement, len(names))
	for i, n := range names {
		rows[i] = rawRow(n, "1", "", "p1", "2026-01-15")
	}

	result, err := p.ProcessReport(context.Background(), rows, domain.PatientAttributes{})
	require.NoError(t, err)
	require.Len(t, result.Rows, len(names))
	for i, row := range result.Rows {
		assert.Equal(t, i, row.Index)
		assert.Equal(t, names[i], row.Input.TestName)
	}
}
