// Package models contains data structures used throughout the application
package models

import "time"

// PredictionResult contains glucose predictions at fixed horizons.
// Linear values are always present; LSTM values appear only when the
// external oracle produced them.
type PredictionResult struct {
	Linear      []float64 `json:"linear"`
	LSTM        []float64 `json:"lstm,omitempty"`
	HorizonsMin []int     `json:"horizonsMin"`
	Method      string    `json:"method"` // "linear" or "lstm"

	PredictedAt    time.Time `json:"predictedAt"`
	BasedOnGlucose float64   `json:"basedOnGlucose"`
	BasedOnTrend   int       `json:"basedOnTrend"` // -3..+3 trend arrow
	Slope          float64   `json:"slope"`        // mg/dL per minute from the linear fit
}
