// Package accuracy tracks comparative prediction accuracy between the
// linear extrapolation predictor and the external LSTM oracle.
package accuracy

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mrcode/glucocalc/internal/models"
)

// maxErrorSamples bounds the per-method error buffers used for the
// MAE/RMSE metrics. Win counters are unbounded.
const maxErrorSamples = 500

// Store persists counters between runs. The in-memory increment is the
// source of truth; persistence is an at-least-once side effect and
// failures are logged, not surfaced.
type Store interface {
	LoadCounter(ctx context.Context, userID string) (models.AccuracyCounter, error)
	SaveCounter(ctx context.Context, userID string, counter models.AccuracyCounter) error
}

// Tracker maintains one counter per user. Each counter is guarded by
// the tracker mutex; counters for different users are independent, so
// a single mutex around the short read-compare-increment sequence is
// sufficient.
type Tracker struct {
	mu     sync.Mutex
	users  map[string]*userState
	store  Store
	logger *slog.Logger
}

type userState struct {
	counter      models.AccuracyCounter
	linearErrors []float64
	lstmErrors   []float64

	// saveMu serializes SaveCounter calls for this user.
	saveMu sync.Mutex
}

// NewTracker creates a tracker. store may be nil for purely in-memory
// operation (tests, ephemeral deployments).
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		users:  make(map[string]*userState),
		store:  store,
		logger: logger,
	}
}

// RecordComparison resolves one prediction pair against the realized
// glucose value. The predictor with the smaller absolute error wins.
//
// An exact tie increments none of the counters, including the total:
// this keeps totalComparisons == linearWins + lstmWins an integer
// invariant. Tied errors still feed the MAE/RMSE buffers.
func (t *Tracker) RecordComparison(ctx context.Context, userID string, actualBg, linearPrediction, lstmPrediction float64) {
	linearErr := math.Abs(actualBg - linearPrediction)
	lstmErr := math.Abs(actualBg - lstmPrediction)

	t.mu.Lock()
	state := t.userState(userID)

	state.linearErrors = appendBounded(state.linearErrors, linearErr)
	state.lstmErrors = appendBounded(state.lstmErrors, lstmErr)

	switch {
	case linearErr < lstmErr:
		state.counter.LinearWins++
		state.counter.TotalComparisons++
	case lstmErr < linearErr:
		state.counter.LSTMWins++
		state.counter.TotalComparisons++
	}
	t.mu.Unlock()

	if t.store != nil {
		t.persist(ctx, userID, state)
	}
}

// persist writes the user's current counter to the store. Saves for the
// same user are serialized, and the counter is re-read after acquiring
// the save lock, so the persisted value never goes backwards even when
// comparisons are recorded concurrently.
func (t *Tracker) persist(ctx context.Context, userID string, state *userState) {
	state.saveMu.Lock()
	defer state.saveMu.Unlock()

	t.mu.Lock()
	counter := state.counter
	t.mu.Unlock()

	if err := t.store.SaveCounter(ctx, userID, counter); err != nil {
		t.logger.Warn("persisting accuracy counter failed",
			"userId", userID, "error", err)
	}
}

// Snapshot returns a read-only view of the accuracy state for a user.
func (t *Tracker) Snapshot(userID string) models.AccuracySnapshot {
	t.mu.Lock()
	state := t.userState(userID)
	snap := models.AccuracySnapshot{
		Counter:   state.counter,
		Linear:    metricsFor(state.linearErrors),
		LSTM:      metricsFor(state.lstmErrors),
		Timestamp: time.Now().UTC(),
	}
	t.mu.Unlock()

	snap.Winner = "linear"
	if snap.LSTM.SampleCount > 0 && snap.LSTM.MAE < snap.Linear.MAE {
		snap.Winner = "lstm"
	}
	return snap
}

// userState returns the state for a user, creating it on first use and
// hydrating from the store when one is configured. Caller holds t.mu.
func (t *Tracker) userState(userID string) *userState {
	if state, ok := t.users[userID]; ok {
		return state
	}

	state := &userState{}
	if t.store != nil {
		counter, err := t.store.LoadCounter(context.Background(), userID)
		if err != nil {
			t.logger.Warn("loading accuracy counter failed",
				"userId", userID, "error", err)
		} else {
			state.counter = counter
		}
	}
	t.users[userID] = state
	return state
}

func appendBounded(errs []float64, err float64) []float64 {
	errs = append(errs, err)
	if len(errs) > maxErrorSamples {
		errs = errs[len(errs)-maxErrorSamples:]
	}
	return errs
}

func metricsFor(errs []float64) models.MethodMetrics {
	if len(errs) == 0 {
		return models.MethodMetrics{}
	}

	var sum, sumSq float64
	var within10, within20 int
	for _, e := range errs {
		sum += e
		sumSq += e * e
		if e <= 10 {
			within10++
		}
		if e <= 20 {
			within20++
		}
	}

	n := float64(len(errs))
	return models.MethodMetrics{
		MAE:         math.Round(sum/n*10) / 10,
		RMSE:        math.Round(math.Sqrt(sumSq/n)*10) / 10,
		Within10Pct: math.Round(float64(within10)/n*1000) / 10,
		Within20Pct: math.Round(float64(within20)/n*1000) / 10,
		SampleCount: len(errs),
	}
}
