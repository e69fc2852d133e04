// Package dose computes effective glucose estimates and correction
// dose recommendations from the current board state.
package dose

import (
	"fmt"
	"math"
	"time"

	"github.com/mrcode/glucocalc/internal/models"
)

// Effect is the projected glucose adjustment from active insulin and
// carbs. Negative or extreme effective values are valid intermediate
// results; clamping belongs to the recommender.
type Effect struct {
	EffectiveBg   float64
	IOBEffectMgdl float64
	COBEffectMgdl float64
}

// EffectiveGlucose projects the current measurement forward through
// the pending insulin and carb activity:
//
//	effectiveBg = currentBg + cob*carbBgFactor - iob*isf
func EffectiveGlucose(currentBg, iob, cob, isf, carbBgFactor float64) (Effect, error) {
	if isf <= 0 {
		return Effect{}, fmt.Errorf("%w: isf must be positive, got %.2f", models.ErrInvalidParameter, isf)
	}
	if carbBgFactor <= 0 {
		return Effect{}, fmt.Errorf("%w: carb BG factor must be positive, got %.2f", models.ErrInvalidParameter, carbBgFactor)
	}

	iobEffect := iob * isf
	cobEffect := cob * carbBgFactor
	return Effect{
		EffectiveBg:   currentBg + cobEffect - iobEffect,
		IOBEffectMgdl: iobEffect,
		COBEffectMgdl: cobEffect,
	}, nil
}

// Request carries the inputs for a dose recommendation. DoseClampUnits
// and CriticalLowBg are optional safety inputs; zero values disable
// them.
type Request struct {
	CurrentBg    float64
	TargetBg     float64
	IOB          float64
	COB          float64
	ISF          float64
	CarbBgFactor float64

	// DoseClampUnits caps the recommended dose when > 0.
	DoseClampUnits float64

	// CriticalLowBg triggers a HypoglycemiaRisk warning when the
	// effective glucose falls below it. Disabled when <= 0.
	CriticalLowBg float64
}

// Recommend computes the correction dose for the request. The
// recommended dose is floored at zero: the engine never recommends
// withholding or "negative" insulin. Warnings ride on the successful
// result so a caller can render a number and a caution together.
func Recommend(req Request, now time.Time) (models.DoseRecommendation, error) {
	effect, err := EffectiveGlucose(req.CurrentBg, req.IOB, req.COB, req.ISF, req.CarbBgFactor)
	if err != nil {
		return models.DoseRecommendation{}, err
	}

	raw := (effect.EffectiveBg - req.TargetBg) / req.ISF
	recommended := math.Max(0, raw)

	var warning *models.Warning
	if raw < 0 {
		if req.CriticalLowBg > 0 && effect.EffectiveBg < req.CriticalLowBg {
			warning = &models.Warning{
				Kind: models.WarnHypoglycemiaRisk,
				Message: fmt.Sprintf("effective glucose %.0f mg/dL is below the critical-low threshold %.0f mg/dL",
					effect.EffectiveBg, req.CriticalLowBg),
			}
		} else {
			warning = &models.Warning{
				Kind: models.WarnBelowTarget,
				Message: fmt.Sprintf("effective glucose %.0f mg/dL is at or below target %.0f mg/dL, no correction needed",
					effect.EffectiveBg, req.TargetBg),
			}
		}
	} else if req.DoseClampUnits > 0 && recommended > req.DoseClampUnits {
		recommended = req.DoseClampUnits
		warning = &models.Warning{
			Kind:    models.WarnDoseClamped,
			Message: fmt.Sprintf("correction of %.2f U capped at the %.2f U safety ceiling", raw, req.DoseClampUnits),
		}
	}

	return models.DoseRecommendation{
		CurrentBg:            req.CurrentBg,
		TargetBg:             req.TargetBg,
		EffectiveBg:          math.Round(effect.EffectiveBg*10) / 10,
		IOB:                  math.Round(req.IOB*100) / 100,
		COB:                  math.Round(req.COB*10) / 10,
		ISF:                  math.Round(req.ISF*10) / 10,
		IOBEffectMgdl:        math.Round(effect.IOBEffectMgdl*10) / 10,
		COBEffectMgdl:        math.Round(effect.COBEffectMgdl*10) / 10,
		RawCorrectionUnits:   math.Round(raw*100) / 100,
		RecommendedDoseUnits: math.Round(recommended*100) / 100,
		Formula: fmt.Sprintf("(%.0f - %.0f) / %.0f = %.2fU",
			effect.EffectiveBg, req.TargetBg, req.ISF, raw),
		Warning:   warning,
		Timestamp: now,
	}, nil
}
