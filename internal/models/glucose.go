// Package models contains data structures used throughout the application
package models

import "time"

// GlucoseReading represents a single glucose reading from the CGM feed.
// Readings are immutable once recorded and read-only to the engine.
type GlucoseReading struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	SGV       int    `json:"sgv"`       // Sensor glucose value in mg/dL
	Date      int64  `json:"date"`      // Unix timestamp in milliseconds
	Trend     int    `json:"trend"`     // Trend direction (-3 to +3, 0 = flat)
	Direction string `json:"direction"` // Trend direction as string
	Device    string `json:"device,omitempty"`
}

// Time returns the time of the glucose reading
func (g *GlucoseReading) Time() time.Time {
	return time.UnixMilli(g.Date)
}

// ValueMgDL returns the glucose value in mg/dL
func (g *GlucoseReading) ValueMgDL() float64 {
	return float64(g.SGV)
}

// ValueMmolL returns the glucose value in mmol/L
func (g *GlucoseReading) ValueMmolL() float64 {
	return float64(g.SGV) / 18.0182
}

// TrendArrow returns the Unicode arrow character for the trend
func (g *GlucoseReading) TrendArrow() string {
	arrows := map[string]string{
		"DoubleUp":      "⇈",
		"SingleUp":      "↑",
		"FortyFiveUp":   "↗",
		"Flat":          "→",
		"FortyFiveDown": "↘",
		"SingleDown":    "↓",
		"DoubleDown":    "⇊",
	}

	if arrow, ok := arrows[g.Direction]; ok {
		return arrow
	}
	return "-"
}

// TrendFromDirection maps a Nightscout direction string onto the
// -3..+3 trend scale used by the linear predictor fallback.
func TrendFromDirection(direction string) int {
	switch direction {
	case "DoubleUp":
		return 3
	case "SingleUp":
		return 2
	case "FortyFiveUp":
		return 1
	case "FortyFiveDown":
		return -1
	case "SingleDown":
		return -2
	case "DoubleDown":
		return -3
	default:
		return 0
	}
}

// ToMmol converts a mg/dL value to mmol/L
func ToMmol(mgdl float64) float64 {
	return mgdl / 18.0182
}

// ToMgdl converts a mmol/L value to mg/dL
func ToMgdl(mmol float64) float64 {
	return mmol * 18.0182
}
