// Package prediction provides short-horizon glucose prediction. The
// linear extrapolation predictor is implemented here; the LSTM is an
// external oracle injected as a function.
package prediction

import (
	"math"
	"sort"
	"time"

	"github.com/mrcode/glucocalc/internal/models"
)

// Prediction horizons in minutes.
var DefaultHorizons = []int{5, 10, 15}

// Predicted values are clamped to this physiological range.
const (
	minPredictedBg = 40.0
	maxPredictedBg = 400.0
)

// historyPoints is the number of recent readings used for the fit,
// roughly 30 minutes at 5-minute CGM intervals.
const historyPoints = 6

// LinearPredictor extrapolates glucose by fitting a line through
// recent readings. It is stateless and safe for concurrent use.
type LinearPredictor struct {
	horizons []int
}

// NewLinearPredictor returns a predictor using the given horizons, or
// DefaultHorizons when none are supplied.
func NewLinearPredictor(horizons ...int) *LinearPredictor {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	return &LinearPredictor{horizons: horizons}
}

// Horizons returns the prediction horizons in minutes.
func (p *LinearPredictor) Horizons() []int { return p.horizons }

// Predict fits a least-squares line through the most recent readings
// and extrapolates to each horizon. It returns the predictions and the
// fitted slope in mg/dL per minute.
//
// With fewer than two readings the last value (or 100 mg/dL when there
// is none) is repeated at every horizon with zero slope.
func (p *LinearPredictor) Predict(readings []models.GlucoseReading) ([]float64, float64) {
	if len(readings) < 2 {
		last := 100.0
		if len(readings) == 1 {
			last = readings[0].ValueMgDL()
		}
		preds := make([]float64, len(p.horizons))
		for i := range preds {
			preds[i] = clampBg(last)
		}
		return preds, 0
	}

	// Sort oldest first so minutes-since-base is increasing
	sorted := make([]models.GlucoseReading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})
	if len(sorted) > historyPoints {
		sorted = sorted[len(sorted)-historyPoints:]
	}

	baseDate := sorted[0].Date
	var sumX, sumY, sumXY, sumX2 float64
	for i := range sorted {
		x := float64(sorted[i].Date-baseDate) / 60000 // minutes since base
		y := sorted[i].ValueMgDL()
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	n := float64(len(sorted))
	denom := n*sumX2 - sumX*sumX

	var slope, intercept float64
	if denom == 0 {
		slope = 0
		intercept = sumY / n
	} else {
		slope = (n*sumXY - sumX*sumY) / denom
		intercept = (sumY - slope*sumX) / n
	}

	currentX := float64(sorted[len(sorted)-1].Date-baseDate) / 60000
	preds := make([]float64, len(p.horizons))
	for i, h := range p.horizons {
		preds[i] = clampBg(slope*(currentX+float64(h)) + intercept)
	}
	return preds, slope
}

// PredictWithTrend extrapolates from a single reading and a CGM trend
// arrow (-3..+3, roughly mg/dL per minute). Fallback for callers
// without enough history for the linear fit.
func (p *LinearPredictor) PredictWithTrend(currentBg float64, trend int) []float64 {
	if trend < -3 {
		trend = -3
	}
	if trend > 3 {
		trend = 3
	}

	rate := float64(trend)
	preds := make([]float64, len(p.horizons))
	for i, h := range p.horizons {
		preds[i] = clampBg(currentBg + rate*float64(h))
	}
	return preds
}

func clampBg(v float64) float64 {
	return math.Max(minPredictedBg, math.Min(maxPredictedBg, v))
}

// Result assembles a PredictionResult from the linear predictions and
// optional oracle output.
func (p *LinearPredictor) Result(linear, lstm []float64, slope float64, currentBg float64, trend int, now time.Time) models.PredictionResult {
	method := "linear"
	if len(lstm) > 0 {
		method = "lstm"
	}
	return models.PredictionResult{
		Linear:         linear,
		LSTM:           lstm,
		HorizonsMin:    p.horizons,
		Method:         method,
		PredictedAt:    now,
		BasedOnGlucose: currentBg,
		BasedOnTrend:   trend,
		Slope:          math.Round(slope*100) / 100,
	}
}
