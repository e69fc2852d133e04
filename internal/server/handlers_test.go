package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrcode/glucocalc/internal/accuracy"
	"github.com/mrcode/glucocalc/internal/board"
	"github.com/mrcode/glucocalc/internal/config"
	"github.com/mrcode/glucocalc/internal/decay"
	"github.com/mrcode/glucocalc/internal/models"
	"github.com/mrcode/glucocalc/internal/storage"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Addr = ":0"
	cfg.Server.RateLimitPerMinute = 1000
	cfg.Feed.UserID = "default"
	cfg.Decay.InsulinHalfLifeMinutes = 81
	cfg.Decay.CarbHalfLifeMinutes = 45
	cfg.Dosing.TargetBg = 100
	cfg.Dosing.DefaultISF = 50
	cfg.Dosing.CarbBgFactor = 4
	cfg.Dosing.DoseClampUnits = 10
	cfg.Alerts.HighBg = 180
	cfg.Alerts.LowBg = 70
	cfg.Alerts.CriticalHighBg = 250
	cfg.Alerts.CriticalLowBg = 54
	return cfg
}

func newTestServer(t *testing.T) (*Server, *storage.SQLiteStore) {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	cfg := testConfig()
	agg, err := board.NewAggregator(
		decay.Params{HalfLifeMinutes: cfg.Decay.InsulinHalfLifeMinutes},
		decay.Params{HalfLifeMinutes: cfg.Decay.CarbHalfLifeMinutes},
		cfg.Dosing.CarbBgFactor)
	require.NoError(t, err)

	tracker := accuracy.NewTracker(store, nil)
	return New(cfg, store, agg, tracker, nil, nil), store
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestBoard_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var state models.BoardState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Zero(t, state.IOB)
	assert.Zero(t, state.COB)
}

func TestBoard_ReflectsTreatments(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.SaveTreatment(context.Background(), models.Treatment{
		UserID:  "default",
		Date:    time.Now().Add(-81 * time.Minute).UnixMilli(),
		Insulin: 5,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var state models.BoardState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.InDelta(t, 2.5, state.IOB, 0.01)
	assert.InDelta(t, 5.0, state.TotalInsulin24h, 0.01)
}

func TestBoard_UserIdQueryScopesData(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.SaveTreatment(context.Background(), models.Treatment{
		UserID:  "alice",
		Date:    time.Now().Add(-81 * time.Minute).UnixMilli(),
		Insulin: 5,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/board?userId=alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var state models.BoardState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.InDelta(t, 2.5, state.IOB, 0.01)

	// The default user sees nothing of alice's doses.
	w = doJSON(t, srv, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Zero(t, state.IOB)
}

func TestBoard_InvalidTimestamp(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/api/v1/board?at=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActiveInsulin(t *testing.T) {
	srv, store := newTestServer(t)

	_, err := store.SaveTreatment(context.Background(), models.Treatment{
		UserID:  "default",
		Date:    time.Now().Add(-30 * time.Minute).UnixMilli(),
		Insulin: 3,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/board/active-insulin", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TotalIob float64             `json:"totalIob"`
		Doses    []models.ActiveDose `json:"doses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Doses, 1)
	assert.Equal(t, 3.0, resp.Doses[0].OriginalDose)
	assert.Greater(t, resp.Doses[0].Remaining, 2.0)
}

func TestDose_CorrectionNeeded(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{
		"currentBg": 250,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rec models.DoseRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.InDelta(t, 3.0, rec.RecommendedDoseUnits, 0.001)
	assert.Nil(t, rec.Warning)
}

func TestDose_BelowTargetWithIOB(t *testing.T) {
	srv, store := newTestServer(t)

	// 2 U active right now
	_, err := store.SaveTreatment(context.Background(), models.Treatment{
		UserID:  "default",
		Date:    time.Now().UnixMilli(),
		Insulin: 2,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{
		"currentBg": 180,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rec models.DoseRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.InDelta(t, 80, rec.EffectiveBg, 0.5)
	assert.Zero(t, rec.RecommendedDoseUnits)
	require.NotNil(t, rec.Warning)
	assert.Equal(t, models.WarnBelowTarget, rec.Warning.Kind)
}

func TestDose_ISFOverrideReplacesDefault(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{
		"currentBg": 250,
		"isf":       75,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var rec models.DoseRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.InDelta(t, 2.0, rec.RecommendedDoseUnits, 0.001)
	assert.InDelta(t, 75, rec.ISF, 0.001)
}

func TestDose_IncludeCobFlag(t *testing.T) {
	srv, store := newTestServer(t)

	// 20 g of carbs just eaten add 80 mg/dL to the estimate
	_, err := store.SaveTreatment(context.Background(), models.Treatment{
		UserID: "default",
		Date:   time.Now().UnixMilli(),
		Carbs:  20,
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{
		"currentBg": 120,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var withCob models.DoseRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &withCob))
	assert.InDelta(t, 200, withCob.EffectiveBg, 0.5)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{
		"currentBg":  120,
		"includeCob": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var withoutCob models.DoseRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &withoutCob))
	assert.InDelta(t, 120, withoutCob.EffectiveBg, 0.5)
}

func TestDose_RejectsMissingGlucose(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/dose", map[string]any{"currentBg": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTreatment(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/treatments", map[string]any{
		"insulin": 4,
		"carbs":   45,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var saved models.Treatment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &saved))
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, models.TreatmentEventTypes.MealBolus, saved.EventType)
	assert.Equal(t, "default", saved.UserID)
	assert.NotZero(t, saved.Date)

	list := doJSON(t, srv, http.MethodGet, "/api/v1/treatments", nil)
	require.Equal(t, http.StatusOK, list.Code)

	var treatments []models.Treatment
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &treatments))
	require.Len(t, treatments, 1)
}

func TestCreateTreatment_RejectsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/treatments", map[string]any{
		"notes": "lunch",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCurrentGlucose(t *testing.T) {
	srv, store := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/glucose/current", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, err := store.SaveGlucoseReadings(context.Background(), []models.GlucoseReading{
		{UserID: "default", SGV: 65, Date: time.Now().UnixMilli(), Direction: "SingleDown"},
	})
	require.NoError(t, err)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/glucose/current", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status string  `json:"status"`
		Arrow  string  `json:"arrow"`
		Mmol   float64 `json:"mmol"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "low", resp.Status)
	assert.Equal(t, "↓", resp.Arrow)
	assert.InDelta(t, 3.6, resp.Mmol, 0.05)
}

func TestPredictions(t *testing.T) {
	srv, store := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/predictions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	now := time.Now()
	readings := make([]models.GlucoseReading, 6)
	for i := range readings {
		readings[i] = models.GlucoseReading{
			UserID: "default",
			SGV:    100 + i*10, // rising 2 mg/dL per minute
			Date:   now.Add(time.Duration(-(5-i)*5) * time.Minute).UnixMilli(),
		}
	}
	_, err := store.SaveGlucoseReadings(context.Background(), readings)
	require.NoError(t, err)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/predictions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.PredictionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "linear", result.Method)
	assert.Equal(t, []int{5, 10, 15}, result.HorizonsMin)
	require.Len(t, result.Linear, 3)
	assert.InDelta(t, 160, result.Linear[0], 1)
	assert.InDelta(t, 2.0, result.Slope, 0.05)
}

func TestPredictions_OracleFailureFallsBackToLinear(t *testing.T) {
	srv, store := newTestServer(t)
	srv.oracle = func(context.Context, []models.GlucoseReading) ([]float64, error) {
		return nil, fmt.Errorf("oracle offline")
	}

	_, err := store.SaveGlucoseReadings(context.Background(), []models.GlucoseReading{
		{UserID: "default", SGV: 120, Date: time.Now().Add(-5 * time.Minute).UnixMilli()},
		{UserID: "default", SGV: 120, Date: time.Now().UnixMilli()},
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/predictions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.PredictionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "linear", result.Method)
	assert.Empty(t, result.LSTM)
}

func TestPredictions_WithOracle(t *testing.T) {
	srv, store := newTestServer(t)
	srv.oracle = func(context.Context, []models.GlucoseReading) ([]float64, error) {
		return []float64{130, 135, 140}, nil
	}

	_, err := store.SaveGlucoseReadings(context.Background(), []models.GlucoseReading{
		{UserID: "default", SGV: 120, Date: time.Now().UnixMilli()},
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/predictions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result models.PredictionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "lstm", result.Method)
	assert.Equal(t, []float64{130, 135, 140}, result.LSTM)
}

func TestComparisonsAndAccuracy(t *testing.T) {
	srv, _ := newTestServer(t)

	// Two linear wins, one oracle win, one tie
	cases := []struct {
		body map[string]any
		want string
	}{
		{map[string]any{"actualBg": 120, "linearPrediction": 118, "lstmPrediction": 130}, "linear"},
		{map[string]any{"actualBg": 140, "linearPrediction": 142, "lstmPrediction": 150}, "linear"},
		{map[string]any{"actualBg": 100, "linearPrediction": 90, "lstmPrediction": 98}, "lstm"},
		{map[string]any{"actualBg": 120, "linearPrediction": 115, "lstmPrediction": 125}, "tie"},
	}
	for _, tc := range cases {
		w := doJSON(t, srv, http.MethodPost, "/api/v1/comparisons", tc.body)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Winner string `json:"winner"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, tc.want, resp.Winner)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/v1/accuracy", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.AccuracySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(2), snap.Counter.LinearWins)
	assert.Equal(t, int64(1), snap.Counter.LSTMWins)
	assert.Equal(t, int64(3), snap.Counter.TotalComparisons)
	assert.Equal(t, snap.Counter.TotalComparisons, snap.Counter.LinearWins+snap.Counter.LSTMWins)
}

func TestSummary(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	_, err := store.SaveTreatment(ctx, models.Treatment{
		UserID:  "default",
		Date:    time.Now().Add(-81 * time.Minute).UnixMilli(),
		Insulin: 5,
	})
	require.NoError(t, err)

	_, err = store.SaveGlucoseReadings(ctx, []models.GlucoseReading{
		{UserID: "default", SGV: 250, Date: time.Now().UnixMilli(), Direction: "Flat"},
	})
	require.NoError(t, err)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Board   models.BoardState         `json:"board"`
		Dose    models.DoseRecommendation `json:"dose"`
		Glucose struct {
			Status string `json:"status"`
		} `json:"glucose"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 2.5, resp.Board.IOB, 0.01)
	assert.Equal(t, "critical_high", resp.Glucose.Status)

	// (250 - 2.5*50 - 100) / 50 = 0.5
	assert.InDelta(t, 0.5, resp.Dose.RecommendedDoseUnits, 0.01)
}

func TestRateLimiter(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.cfg.Server.RateLimitPerMinute = 3
	srv.engine = srv.buildRouter()

	var last int
	for i := 0; i < 5; i++ {
		w := doJSON(t, srv, http.MethodGet, "/api/v1/board", nil)
		last = w.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)

	// Health is outside the limited group
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
