package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend-engine/internal/config"
	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/history"
	"github.com/labtrend-engine/internal/reference"
	"github.com/labtrend-engine/internal/registry"
	"github.com/labtrend-engine/internal/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	reg, err := registry.Load(logger)
	require.NoError(t, err)

	pipeline := service.NewPipeline(
		reg,
		reference.NewResolver(reg, logger),
		service.NewClassifier(0, logger),
		service.NewTrendAnalyzer(0, logger),
		history.NewMemoryStore(),
		service.PipelineOptions{},
		logger,
	)

	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, pipeline, reg, nil, logger, false)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["registry_version"])
}

func TestHandleProcessReport(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/reports", map[string]any{
		"patient_id": "p1",
		"patient":    map[string]any{"sex": "FEMALE", "age_years": 41},
		"rows": []map[string]any{
			{"test_name": "Hemoglobin", "value": "13.2", "unit": "g/dL", "date": "2026-01-15"},
			{"test_name": "XYZ-123", "value": "5.0", "date": "2026-01-15"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result service.ReportResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Rows, 2)
	assert.Equal(t, domain.ClassificationNormal, result.Rows[0].Classification.Label)
	assert.Equal(t, domain.ErrKindUnknownTest, result.Rows[1].ErrorKind)
	assert.Equal(t, 1, result.Summary.Errors)
}

func TestHandleProcessReport_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing patient", map[string]any{
			"rows": []map[string]any{{"test_name": "HGB", "value": "13", "date": "2026-01-15"}},
		}},
		{"empty rows", map[string]any{"patient_id": "p1", "rows": []map[string]any{}}},
		{"bad date", map[string]any{
			"patient_id": "p1",
			"rows":       []map[string]any{{"test_name": "HGB", "value": "13", "date": "yesterday"}},
		}},
		{"bad sex", map[string]any{
			"patient_id": "p1",
			"patient":    map[string]any{"sex": "OTHER"},
			"rows":       []map[string]any{{"test_name": "HGB", "value": "13", "date": "2026-01-15"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, s, http.MethodPost, "/api/v1/reports", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleClassify(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/classify", map[string]any{
		"patient_id": "p1",
		"row":        map[string]any{"test_name": "Fasting Blood Sugar", "value": "<40", "unit": "mg/dL", "date": "2026-01-15"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var row service.RowResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	assert.Equal(t, domain.ClassificationLow, row.Classification.Label)
	assert.Nil(t, row.Trend)
}

func TestHandleTrend(t *testing.T) {
	s := newTestServer(t)

	// Two reports build up a worsening hemoglobin series.
	for _, r := range []map[string]any{
		{"test_name": "Hemoglobin", "value": "13.2", "unit": "g/dL", "date": "2026-01-15"},
		{"test_name": "HGB", "value": "10.1", "unit": "g/dL", "date": "2026-03-01"},
	} {
		w := doJSON(t, s, http.MethodPost, "/api/v1/reports", map[string]any{
			"patient_id": "p1",
			"patient":    map[string]any{"sex": "FEMALE"},
			"rows":       []map[string]any{r},
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doJSON(t, s, http.MethodGet, "/api/v1/patients/p1/trends/hemoglobin?sex=FEMALE", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var record domain.TrendRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, domain.TrendWorsening, record.Direction)
	assert.Len(t, record.Points, 2)
}

func TestHandleTrend_UnknownTest(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/patients/p1/trends/XYZ-123", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, domain.ErrKindUnknownTest, body["kind"])
}

func TestHandleListTests(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/tests", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version string                  `json:"version"`
		Tests   []*domain.CanonicalTest `json:"tests"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Version)
	assert.GreaterOrEqual(t, len(body.Tests), 20)
}

func TestRateLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	reg, err := registry.Load(logger)
	require.NoError(t, err)
	pipeline := service.NewPipeline(reg, reference.NewResolver(reg, logger),
		service.NewClassifier(0, logger), service.NewTrendAnalyzer(0, logger),
		history.NewMemoryStore(), service.PipelineOptions{}, logger)

	s := NewServer(config.ServerConfig{RateLimit: 1, RateBurst: 2}, pipeline, reg, nil, logger, false)

	var limited bool
	for i := 0; i < 5; i++ {
		w := doJSON(t, s, http.MethodGet, fmt.Sprintf("/health?i=%d", i), nil)
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}
