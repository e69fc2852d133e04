package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/glucocalc/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Migrate(context.Background()))
}

func TestSaveTreatment_AssignsID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	saved, err := store.SaveTreatment(ctx, models.Treatment{
		UserID:    "u1",
		EventType: models.TreatmentEventTypes.CorrectionBolus,
		Date:      time.Now().UnixMilli(),
		Insulin:   2.5,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)

	got, err := store.GetTreatment(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got.Insulin)
	assert.Equal(t, "u1", got.UserID)
}

func TestSaveTreatment_RequiresUser(t *testing.T) {
	store := newTestStore(t)
	_, err := store.SaveTreatment(context.Background(), models.Treatment{Insulin: 1})
	assert.Error(t, err)
}

func TestGetTreatments_FiltersByUserAndTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := store.SaveTreatments(ctx, []models.Treatment{
		{UserID: "u1", Date: now.Add(-2 * time.Hour).UnixMilli(), Insulin: 1},
		{UserID: "u1", Date: now.Add(-30 * time.Hour).UnixMilli(), Insulin: 5}, // too old
		{UserID: "u2", Date: now.UnixMilli(), Insulin: 3},                      // other user
		{UserID: "u1", Date: now.Add(-10 * time.Minute).UnixMilli(), Carbs: 30},
	})
	require.NoError(t, err)

	since := now.Add(-24 * time.Hour).UnixMilli()
	got, err := store.GetTreatments(ctx, "u1", since)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Oldest first
	assert.Equal(t, 1.0, got[0].Insulin)
	assert.Equal(t, 30.0, got[1].Carbs)
}

func TestSaveTreatments_SkipsDuplicateIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []models.Treatment{
		{ID: "t1", UserID: "u1", Date: 1000, Insulin: 1},
		{ID: "t2", UserID: "u1", Date: 2000, Carbs: 20},
	}
	inserted, err := store.SaveTreatments(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Re-syncing the same batch inserts nothing
	inserted, err = store.SaveTreatments(ctx, batch)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestSaveGlucoseReadings_DeduplicatesByUserAndDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UnixMilli()

	first := []models.GlucoseReading{
		{UserID: "u1", SGV: 120, Date: now, Direction: "Flat"},
		{UserID: "u1", SGV: 125, Date: now + 300_000, Direction: "FortyFiveUp", Trend: 1},
	}
	inserted, err := store.SaveGlucoseReadings(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Overlapping re-sync with different IDs but the same timestamps
	overlap := []models.GlucoseReading{
		{UserID: "u1", SGV: 120, Date: now},
		{UserID: "u1", SGV: 130, Date: now + 600_000},
	}
	inserted, err = store.SaveGlucoseReadings(ctx, overlap)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
}

func TestGetLatestGlucose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	got, err := store.GetLatestGlucose(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	now := time.Now().UnixMilli()
	_, err = store.SaveGlucoseReadings(ctx, []models.GlucoseReading{
		{UserID: "u1", SGV: 110, Date: now - 600_000},
		{UserID: "u1", SGV: 118, Date: now},
	})
	require.NoError(t, err)

	got, err = store.GetLatestGlucose(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 118, got.SGV)
}

func TestGetGlucoseHistory_OldestFirstCapped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	readings := make([]models.GlucoseReading, 12)
	for i := range readings {
		readings[i] = models.GlucoseReading{
			UserID: "u1",
			SGV:    100 + i,
			Date:   base + int64(i)*300_000,
		}
	}
	_, err := store.SaveGlucoseReadings(ctx, readings)
	require.NoError(t, err)

	got, err := store.GetGlucoseHistory(ctx, "u1", 5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	// The 5 newest readings, oldest first
	assert.Equal(t, 107, got[0].SGV)
	assert.Equal(t, 111, got[4].SGV)
}

func TestLatestGlucoseDate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	date, err := store.LatestGlucoseDate(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, date)

	now := time.Now().UnixMilli()
	_, err = store.SaveGlucoseReadings(ctx, []models.GlucoseReading{
		{UserID: "u1", SGV: 110, Date: now},
	})
	require.NoError(t, err)

	date, err = store.LatestGlucoseDate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, now, date)
}

func TestAccuracyCounter_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Unknown user yields the zero counter
	counter, err := store.LoadCounter(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, counter.TotalComparisons)

	want := models.AccuracyCounter{LinearWins: 4, LSTMWins: 2, TotalComparisons: 6}
	require.NoError(t, store.SaveCounter(ctx, "u1", want))

	counter, err = store.LoadCounter(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, counter)

	// Upsert overwrites
	want.LinearWins = 5
	want.TotalComparisons = 7
	require.NoError(t, store.SaveCounter(ctx, "u1", want))

	counter, err = store.LoadCounter(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, counter)
}
