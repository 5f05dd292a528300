package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend-engine/internal/domain"
)

func points(t *testing.T, values ...float64) []domain.TrendPoint {
	t.Helper()
	base, err := time.Parse("2006-01-02", "2026-01-01")
	require.NoError(t, err)

	out := make([]domain.TrendPoint, len(values))
	for i, v := range values {
		out[i] = domain.TrendPoint{Date: base.AddDate(0, i, 0), Value: v}
	}
	return out
}

func rangeCenteredTest() *domain.CanonicalTest {
	return &domain.CanonicalTest{TestID: "hemoglobin", Direction: domain.RangeCentered}
}

func higherIsWorseTest() *domain.CanonicalTest {
	return &domain.CanonicalTest{TestID: "glucose_fasting", Direction: domain.HigherIsWorse}
}

func lowerIsWorseTest() *domain.CanonicalTest {
	return &domain.CanonicalTest{TestID: "hdl", Direction: domain.LowerIsWorse}
}

func TestAnalyze_InsufficientData(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)

	record := a.Analyze("p1", rangeCenteredTest(), hemoglobinRange(), nil)
	assert.Equal(t, domain.TrendInsufficientData, record.Direction)
	assert.Zero(t, record.Magnitude)

	record = a.Analyze("p1", rangeCenteredTest(), hemoglobinRange(), points(t, 13.2))
	assert.Equal(t, domain.TrendInsufficientData, record.Direction)
}

func TestAnalyze_RangeCentered(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := hemoglobinRange() // 12.0-17.5, center 14.75

	// Moving away from the center is worsening.
	record := a.Analyze("p1", rangeCenteredTest(), rr, points(t, 13.2, 10.1))
	assert.Equal(t, domain.TrendWorsening, record.Direction)
	assert.InDelta(t, (13.2-10.1)/5.5, record.Magnitude, 1e-12)

	// Moving back toward the center is improving.
	record = a.Analyze("p1", rangeCenteredTest(), rr, points(t, 10.1, 13.2))
	assert.Equal(t, domain.TrendImproving, record.Direction)
}

func TestAnalyze_HigherIsWorse(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := glucoseRange()

	record := a.Analyze("p1", higherIsWorseTest(), rr, points(t, 95, 130))
	assert.Equal(t, domain.TrendWorsening, record.Direction)

	record = a.Analyze("p1", higherIsWorseTest(), rr, points(t, 130, 95))
	assert.Equal(t, domain.TrendImproving, record.Direction)
}

func TestAnalyze_LowerIsWorse(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := domain.ReferenceRange{TestID: "hdl", Low: 40, High: 60}

	// HDL falling is worsening even while inside the range.
	record := a.Analyze("p1", lowerIsWorseTest(), rr, points(t, 55, 45))
	assert.Equal(t, domain.TrendWorsening, record.Direction)

	record = a.Analyze("p1", lowerIsWorseTest(), rr, points(t, 45, 55))
	assert.Equal(t, domain.TrendImproving, record.Direction)
}

func TestAnalyze_NoiseIsStable(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := glucoseRange() // width 30, default noise threshold 1.5

	record := a.Analyze("p1", higherIsWorseTest(), rr, points(t, 95, 96))
	assert.Equal(t, domain.TrendStable, record.Direction)
	assert.InDelta(t, 1.0/30.0, record.Magnitude, 1e-12)
}

func TestAnalyze_OnlyLatestPairCounts(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := glucoseRange()

	// Earlier history rises, but the latest pair falls: improving.
	record := a.Analyze("p1", higherIsWorseTest(), rr, points(t, 80, 110, 130, 95))
	assert.Equal(t, domain.TrendImproving, record.Direction)
	assert.Len(t, record.Points, 4)
}

func TestAnalyze_SymmetricCenterCrossing(t *testing.T) {
	a := NewTrendAnalyzer(0, nil)
	rr := domain.ReferenceRange{TestID: "sym", Low: 0, High: 10} // center 5

	// 3 and 7 sit at the same distance from the center.
	record := a.Analyze("p1", &domain.CanonicalTest{TestID: "sym", Direction: domain.RangeCentered}, rr, points(t, 3, 7))
	assert.Equal(t, domain.TrendStable, record.Direction)
}

func TestAnalyze_CustomNoiseFraction(t *testing.T) {
	// A 20% noise fraction treats a 5-unit glucose change as noise.
	a := NewTrendAnalyzer(0.20, nil)
	rr := glucoseRange()

	record := a.Analyze("p1", higherIsWorseTest(), rr, points(t, 95, 100))
	assert.Equal(t, domain.TrendStable, record.Direction)
}
