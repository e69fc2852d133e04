// Package decay implements the exponential half-life model describing
// the diminishing physiological effect of an insulin dose or a carb
// bolus over time.
package decay

import (
	"fmt"
	"math"

	"github.com/mrcode/glucocalc/internal/models"
)

// CutoffHalfLives is the horizon, in multiples of the half-life, past
// which the remaining fraction (2^-6, about 1.5%) is hard-floored to
// zero.
const CutoffHalfLives = 6.0

// Params holds the half-life configuration for one substance kind.
type Params struct {
	HalfLifeMinutes float64
}

// Validate checks that the half-life is usable for decay math.
func (p Params) Validate() error {
	if p.HalfLifeMinutes <= 0 {
		return fmt.Errorf("%w: half-life must be positive, got %.2f", models.ErrInvalidParameter, p.HalfLifeMinutes)
	}
	return nil
}

// CutoffMinutes returns the age past which contributions are floored
// to zero.
func (p Params) CutoffMinutes() float64 {
	return p.HalfLifeMinutes * CutoffHalfLives
}

// Fraction returns the fraction of a dose still active after
// elapsedMinutes, following fraction = 2^(-elapsed/halfLife).
//
// Elapsed times at or below zero return 1.0: the dose was just
// administered and its full effect is still pending. Beyond the
// cutoff horizon the fraction is floored to exactly zero.
func Fraction(elapsedMinutes, halfLifeMinutes float64) (float64, error) {
	if halfLifeMinutes <= 0 {
		return 0, fmt.Errorf("%w: half-life must be positive, got %.2f", models.ErrInvalidParameter, halfLifeMinutes)
	}
	if elapsedMinutes <= 0 {
		return 1.0, nil
	}
	if elapsedMinutes >= halfLifeMinutes*CutoffHalfLives {
		return 0, nil
	}
	return math.Exp2(-elapsedMinutes / halfLifeMinutes), nil
}
