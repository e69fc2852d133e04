// Package models contains data structures used throughout the application
package models

import "time"

// TreatmentKind distinguishes the two substances the engine tracks
type TreatmentKind string

const (
	KindInsulin TreatmentKind = "insulin"
	KindCarbs   TreatmentKind = "carbs"
)

// Treatment represents a dosing or carb event logged by the user or
// synced from a Nightscout-compatible feed. Treatments are immutable
// once recorded; corrections are logged as new events, never edited
// in place.
type Treatment struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	EventType string  `json:"eventType"`
	Date      int64   `json:"date"`    // Unix timestamp in milliseconds
	Insulin   float64 `json:"insulin"` // Units of insulin
	Carbs     float64 `json:"carbs"`   // Grams of carbohydrates
	Protein   float64 `json:"protein"` // Grams of protein
	Fat       float64 `json:"fat"`     // Grams of fat
	Notes     string  `json:"notes,omitempty"`
	EnteredBy string  `json:"enteredBy,omitempty"`
}

// Time returns the time of the treatment
func (t *Treatment) Time() time.Time {
	return time.UnixMilli(t.Date)
}

// HasInsulin returns true if this treatment includes insulin
func (t *Treatment) HasInsulin() bool {
	return t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t *Treatment) HasCarbs() bool {
	return t.Carbs > 0
}

// TreatmentEventTypes contains common Nightscout event types
var TreatmentEventTypes = struct {
	SnackBolus      string
	MealBolus       string
	CorrectionBolus string
	CarbCorrection  string
	ComboBolus      string
	BolusWizard     string
	Note            string
}{
	SnackBolus:      "Snack Bolus",
	MealBolus:       "Meal Bolus",
	CorrectionBolus: "Correction Bolus",
	CarbCorrection:  "Carb Correction",
	ComboBolus:      "Combo Bolus",
	BolusWizard:     "Bolus Wizard",
	Note:            "Note",
}
