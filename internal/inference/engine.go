// Package inference runs the resolved regression model over feature
// vectors. The engine keeps no per-call state; the loaded model is shared
// read-only across all concurrent callers.
package inference

import (
	"math"
	"time"

	"github.com/playmetrics/revpredict/internal/errors"
	"github.com/playmetrics/revpredict/internal/features"
	"github.com/playmetrics/revpredict/internal/registry"
)

// ModelSource provides the active model reference. The resolver implements
// it; tests substitute fixed references.
type ModelSource interface {
	Active() *registry.ModelRef
}

// Engine wraps the resolved model behind single and batch scoring calls
type Engine struct {
	models ModelSource
}

// NewEngine creates an inference engine reading models from source
func NewEngine(models ModelSource) *Engine {
	return &Engine{models: models}
}

// PredictOne scores a single feature vector and returns the model reference
// it scored with, so callers report the provenance of the snapshot that
// actually ran even if a reload lands mid-request. The returned duration
// covers the scoring call only, so reported timing reflects model cost
// rather than transform or logging overhead. Predicted revenue is clamped
// at zero.
func (e *Engine) PredictOne(vec features.Vector) (float64, time.Duration, *registry.ModelRef, error) {
	ref := e.models.Active()
	if ref == nil {
		return 0, 0, nil, errors.NewModelUnresolvedError("no model loaded", nil)
	}

	start := time.Now()
	value := ref.Ensemble.Predict(vec)
	duration := time.Since(start)

	return math.Max(0, value), duration, ref, nil
}

// PredictBatch scores vectors in order. The same model snapshot is used for
// the whole batch even if a reload lands mid-flight.
func (e *Engine) PredictBatch(vecs []features.Vector) ([]float64, time.Duration, *registry.ModelRef, error) {
	ref := e.models.Active()
	if ref == nil {
		return nil, 0, nil, errors.NewModelUnresolvedError("no model loaded", nil)
	}

	out := make([]float64, len(vecs))
	start := time.Now()
	for i, vec := range vecs {
		out[i] = math.Max(0, ref.Ensemble.Predict(vec))
	}
	duration := time.Since(start)

	return out, duration, ref, nil
}
