package prediction

import (
	"context"

	"github.com/mrcode/glucocalc/internal/models"
)

// Oracle produces externally-trained sequence-model predictions at the
// same horizons as the linear predictor. The engine treats it as an
// opaque numeric source: it assumes nothing about the model behind it,
// and a nil Oracle simply means linear-only prediction.
//
// An Oracle that cannot produce a prediction (cold model, short
// history) should return a nil slice and a nil error; hard failures
// return an error and the caller falls back to linear output.
type Oracle func(ctx context.Context, history []models.GlucoseReading) ([]float64, error)
