// Package models contains data structures used throughout the application
package models

import "time"

// AccuracyCounter holds the running win/loss counts between the linear
// extrapolation predictor and the external LSTM. Counts only grow;
// exact ties increment none of the three counters so that
// TotalComparisons == LinearWins + LSTMWins always holds.
type AccuracyCounter struct {
	LinearWins       int64 `json:"linearWins"`
	LSTMWins         int64 `json:"lstmWins"`
	TotalComparisons int64 `json:"totalComparisons"`
}

// MethodMetrics summarizes absolute-error statistics for one predictor.
type MethodMetrics struct {
	MAE         float64 `json:"mae"`
	RMSE        float64 `json:"rmse"`
	Within10Pct float64 `json:"within10Pct"` // percent of errors <= 10 mg/dL
	Within20Pct float64 `json:"within20Pct"` // percent of errors <= 20 mg/dL
	SampleCount int     `json:"sampleCount"`
}

// AccuracySnapshot is a read-only view of the accuracy tracker state.
type AccuracySnapshot struct {
	Counter   AccuracyCounter `json:"counter"`
	Linear    MethodMetrics   `json:"linear"`
	LSTM      MethodMetrics   `json:"lstm"`
	Winner    string          `json:"winner"` // "linear" or "lstm"
	Timestamp time.Time       `json:"timestamp"`
}
