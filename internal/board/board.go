// Package board aggregates logged treatments into the current
// Insulin-on-Board and Carbs-on-Board state.
package board

import (
	"math"
	"sort"
	"time"

	"github.com/mrcode/glucocalc/internal/decay"
	"github.com/mrcode/glucocalc/internal/models"
)

// Aggregator computes board state from treatment events using
// configured decay parameters. It holds no mutable state and is safe
// for concurrent use.
type Aggregator struct {
	insulin      decay.Params
	carbs        decay.Params
	carbBgFactor float64
}

// NewAggregator validates the decay parameters and returns an
// aggregator. carbBgFactor is the expected BG rise per gram of active
// carbs, used only for the board's COB impact figure.
func NewAggregator(insulin, carbs decay.Params, carbBgFactor float64) (*Aggregator, error) {
	if err := insulin.Validate(); err != nil {
		return nil, err
	}
	if err := carbs.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		insulin:      insulin,
		carbs:        carbs,
		carbBgFactor: carbBgFactor,
	}, nil
}

// ComputeBoard sums the decayed contributions of all treatments at the
// reference time.
//
// Future-dated treatments are excluded entirely, which defends against
// clock skew and late-arriving corrections. Events older than the
// decay cutoff contribute nothing. Contributions are summed in
// chronological order so floating-point rounding is reproducible for
// the same input.
func (a *Aggregator) ComputeBoard(treatments []models.Treatment, referenceTime time.Time) models.BoardState {
	sorted := make([]models.Treatment, len(treatments))
	copy(sorted, treatments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})

	dayAgo := referenceTime.Add(-24 * time.Hour)

	var iob, cob, insulin24h, carbs24h float64
	for i := range sorted {
		t := &sorted[i]
		treatTime := t.Time()
		if treatTime.After(referenceTime) {
			continue
		}

		if !treatTime.Before(dayAgo) {
			insulin24h += t.Insulin
			carbs24h += t.Carbs
		}

		elapsed := referenceTime.Sub(treatTime).Minutes()

		if t.HasInsulin() {
			// Params were validated at construction; the error path is
			// unreachable here.
			frac, _ := decay.Fraction(elapsed, a.insulin.HalfLifeMinutes)
			iob += t.Insulin * frac
		}
		if t.HasCarbs() {
			frac, _ := decay.Fraction(elapsed, a.carbs.HalfLifeMinutes)
			cob += t.Carbs * frac
		}
	}

	return models.BoardState{
		IOB:             math.Round(iob*100) / 100,
		COB:             math.Round(cob*10) / 10,
		ReferenceTime:   referenceTime,
		COBImpactMgdl:   math.Round(cob*a.carbBgFactor*10) / 10,
		TotalInsulin24h: math.Round(insulin24h*10) / 10,
		TotalCarbs24h:   math.Round(carbs24h),
	}
}

// ActiveInsulin returns the per-dose breakdown of remaining insulin at
// the reference time, most recent dose first. Doses with less than
// 0.01 U remaining are omitted.
func (a *Aggregator) ActiveInsulin(treatments []models.Treatment, referenceTime time.Time) []models.ActiveDose {
	doses := make([]models.ActiveDose, 0, len(treatments))

	for i := range treatments {
		t := &treatments[i]
		if !t.HasInsulin() {
			continue
		}
		treatTime := t.Time()
		if treatTime.After(referenceTime) {
			continue
		}

		elapsed := referenceTime.Sub(treatTime).Minutes()
		frac, _ := decay.Fraction(elapsed, a.insulin.HalfLifeMinutes)
		remaining := t.Insulin * frac
		if remaining < 0.01 {
			continue
		}

		doses = append(doses, models.ActiveDose{
			Time:             treatTime,
			OriginalDose:     t.Insulin,
			Remaining:        math.Round(remaining*100) / 100,
			MinutesAgo:       int(elapsed),
			PercentRemaining: math.Round(frac*1000) / 10,
		})
	}

	sort.Slice(doses, func(i, j int) bool {
		return doses[i].Time.After(doses[j].Time)
	})
	return doses
}

// InsulinParams returns the configured insulin decay parameters.
func (a *Aggregator) InsulinParams() decay.Params { return a.insulin }

// CarbParams returns the configured carb decay parameters.
func (a *Aggregator) CarbParams() decay.Params { return a.carbs }
