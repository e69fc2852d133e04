// Package models contains data structures used throughout the application
package models

import "time"

// BoardState is the derived insulin/carb board at a reference time.
// It is computed fresh on every request and never persisted.
type BoardState struct {
	IOB           float64   `json:"iob"` // Units of insulin still active
	COB           float64   `json:"cob"` // Grams of carbs still absorbing
	ReferenceTime time.Time `json:"referenceTime"`

	// Expected BG rise from the remaining carbs (COB * carbBgFactor)
	COBImpactMgdl float64 `json:"cobImpactMgdl"`

	// Rolling totals over the trailing 24 hours
	TotalInsulin24h float64 `json:"totalInsulin24h"`
	TotalCarbs24h   float64 `json:"totalCarbs24h"`
}

// ActiveDose is the per-dose breakdown of remaining insulin,
// surfaced alongside the aggregate IOB.
type ActiveDose struct {
	Time             time.Time `json:"time"`
	OriginalDose     float64   `json:"originalDose"`
	Remaining        float64   `json:"remaining"`
	MinutesAgo       int       `json:"minutesAgo"`
	PercentRemaining float64   `json:"percentRemaining"`
}

// WarningKind identifies a caution attached to an otherwise
// successful dose recommendation. Warnings are data, not errors.
type WarningKind string

const (
	// WarnBelowTarget means the effective glucose is already at or
	// below target and no correction is needed.
	WarnBelowTarget WarningKind = "BelowTargetNoCorrectionNeeded"

	// WarnHypoglycemiaRisk means the effective glucose is below the
	// caller-supplied critical-low threshold. Takes precedence over
	// WarnBelowTarget.
	WarnHypoglycemiaRisk WarningKind = "HypoglycemiaRisk"

	// WarnDoseClamped means the computed dose exceeded the safety
	// ceiling and was capped.
	WarnDoseClamped WarningKind = "DoseClamped"
)

// Warning carries a warning kind with a human-readable message.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// DoseRecommendation is the immutable result of a correction-dose
// calculation. RecommendedDoseUnits is never negative.
type DoseRecommendation struct {
	CurrentBg            float64   `json:"currentBg"`
	TargetBg             float64   `json:"targetBg"`
	EffectiveBg          float64   `json:"effectiveBg"`
	IOB                  float64   `json:"iob"`
	COB                  float64   `json:"cob"`
	ISF                  float64   `json:"isf"`
	IOBEffectMgdl        float64   `json:"iobEffectMgdl"`
	COBEffectMgdl        float64   `json:"cobEffectMgdl"`
	RawCorrectionUnits   float64   `json:"rawCorrectionUnits"`
	RecommendedDoseUnits float64   `json:"recommendedDoseUnits"`
	Formula              string    `json:"formula"`
	Warning              *Warning  `json:"warning,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}
