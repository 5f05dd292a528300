package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labtrend-engine/internal/domain"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_AppendAndFetch(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	require.NoError(t, store.Append(ctx, obs("p1", "hemoglobin", day(t, "2026-03-01"), 10.1), domain.ClassificationLow))
	require.NoError(t, store.Append(ctx, obs("p1", "hemoglobin", day(t, "2026-01-15"), 13.2), domain.ClassificationNormal))

	points, err := store.FetchHistory(ctx, "p1", "hemoglobin", 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 13.2, points[0].Value)
	assert.Equal(t, domain.ClassificationNormal, points[0].Classification)
	assert.Equal(t, 10.1, points[1].Value)
	assert.Equal(t, domain.ClassificationLow, points[1].Classification)
}

func TestSQLiteStore_UpsertSameDate(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	date := day(t, "2026-01-15")
	require.NoError(t, store.Append(ctx, obs("p1", "hemoglobin", date, 13.2), domain.ClassificationNormal))
	require.NoError(t, store.Append(ctx, obs("p1", "hemoglobin", date, 11.8), domain.ClassificationBorderline))

	points, err := store.FetchHistory(ctx, "p1", "hemoglobin", 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 11.8, points[0].Value)
	assert.Equal(t, domain.ClassificationBorderline, points[0].Classification)
}

func TestSQLiteStore_Limit(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	for i, d := range []string{"2026-01-01", "2026-02-01", "2026-03-01"} {
		require.NoError(t, store.Append(ctx, obs("p1", "tsh", day(t, d), float64(i)), domain.ClassificationNormal))
	}

	points, err := store.FetchHistory(ctx, "p1", "tsh", 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1.0, points[0].Value)
	assert.Equal(t, 2.0, points[1].Value)
}

func TestSQLiteStore_EmptySeries(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	points, err := store.FetchHistory(ctx, "p1", "never-seen", 0)
	require.NoError(t, err)
	assert.Empty(t, points)
}
