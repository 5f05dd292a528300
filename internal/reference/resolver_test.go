package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend-engine/internal/domain"
	"github.com/labtrend-engine/internal/registry"
)

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	reg, err := registry.Load(nil)
	require.NoError(t, err)
	return NewResolver(reg, nil)
}

func TestResolve_SexSpecific(t *testing.T) {
	r := newResolver(t)

	tests := []struct {
		name  string
		attrs domain.PatientAttributes
		low   float64
		high  float64
	}{
		{"male range", domain.PatientAttributes{Sex: domain.SexMale}, 13.5, 17.5},
		{"female range", domain.PatientAttributes{Sex: domain.SexFemale}, 12.0, 16.0},
		{"unknown sex falls back to default", domain.PatientAttributes{}, 12.0, 17.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, err := r.Resolve("hemoglobin", tt.attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.low, rr.Low)
			assert.Equal(t, tt.high, rr.High)
			assert.Equal(t, "g/dL", rr.Unit)
		})
	}
}

func TestResolve_DefaultOnlyTest(t *testing.T) {
	r := newResolver(t)

	rr, err := r.Resolve("glucose_fasting", domain.PatientAttributes{Sex: domain.SexMale, AgeYears: 44})
	require.NoError(t, err)
	assert.Equal(t, 70.0, rr.Low)
	assert.Equal(t, 100.0, rr.High)
}

func TestResolve_NoRanges(t *testing.T) {
	seed := []byte(`{
		"version": "test",
		"tests": [
			{
				"test_id": "bare",
				"display_name": "Bare",
				"canonical_unit": "u",
				"unit_conversions": {"u": {"factor": 1}},
				"direction": "RANGE_CENTERED"
			}
		]
	}`)
	reg, err := registry.LoadFrom(seed, nil)
	require.NoError(t, err)
	r := NewResolver(reg, nil)

	_, err = r.Resolve("bare", domain.PatientAttributes{})
	require.Error(t, err)

	var noRange *domain.NoReferenceRangeError
	require.ErrorAs(t, err, &noRange)
	assert.Equal(t, "bare", noRange.TestID)
}

func TestResolve_AgeBrackets(t *testing.T) {
	seed := []byte(`{
		"version": "test",
		"tests": [
			{
				"test_id": "bracketed",
				"display_name": "Bracketed",
				"canonical_unit": "u",
				"unit_conversions": {"u": {"factor": 1}},
				"direction": "RANGE_CENTERED",
				"ranges": [
					{"applicability": {"age_min": 1, "age_max": 17}, "low": 1, "high": 2},
					{"applicability": {"age_min": 18}, "low": 3, "high": 4},
					{"applicability": {}, "low": 5, "high": 6}
				]
			}
		]
	}`)
	reg, err := registry.LoadFrom(seed, nil)
	require.NoError(t, err)
	r := NewResolver(reg, nil)

	child, err := r.Resolve("bracketed", domain.PatientAttributes{AgeYears: 10})
	require.NoError(t, err)
	assert.Equal(t, 1.0, child.Low)

	adult, err := r.Resolve("bracketed", domain.PatientAttributes{AgeYears: 40})
	require.NoError(t, err)
	assert.Equal(t, 3.0, adult.Low)

	// No age provided: only the default is applicable.
	unknown, err := r.Resolve("bracketed", domain.PatientAttributes{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, unknown.Low)
}

func TestResolve_AmbiguousTie(t *testing.T) {
	seed := []byte(`{
		"version": "test",
		"tests": [
			{
				"test_id": "overlap",
				"display_name": "Overlap",
				"canonical_unit": "u",
				"unit_conversions": {"u": {"factor": 1}},
				"direction": "RANGE_CENTERED",
				"ranges": [
					{"applicability": {"age_min": 18, "age_max": 65}, "low": 1, "high": 2},
					{"applicability": {"age_min": 40, "age_max": 70}, "low": 3, "high": 4}
				]
			}
		]
	}`)
	reg, err := registry.LoadFrom(seed, nil)
	require.NoError(t, err)
	r := NewResolver(reg, nil)

	_, err = r.Resolve("overlap", domain.PatientAttributes{AgeYears: 50})
	require.Error(t, err)

	var ambiguous *domain.AmbiguousRangeError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, "overlap", ambiguous.TestID)
	assert.Equal(t, "age", ambiguous.Specificity)

	// Outside the overlap the tie disappears.
	rr, err := r.Resolve("overlap", domain.PatientAttributes{AgeYears: 20})
	require.NoError(t, err)
	assert.Equal(t, 1.0, rr.Low)
}

func TestResolve_MoreSpecificWinsOverDefault(t *testing.T) {
	r := newResolver(t)

	rr, err := r.Resolve("creatinine", domain.PatientAttributes{Sex: domain.SexFemale})
	require.NoError(t, err)
	assert.Equal(t, 0.6, rr.Low)
	assert.Equal(t, 1.1, rr.High)
}
