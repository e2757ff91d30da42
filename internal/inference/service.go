package inference

import (
	"math"
	"time"

	"github.com/playmetrics/revpredict/internal/database"
	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/errors"
	"github.com/playmetrics/revpredict/internal/features"
	"github.com/playmetrics/revpredict/internal/monitoring"
	"github.com/playmetrics/revpredict/internal/types"
)

// PredictionSink accepts prediction records for best-effort persistence.
// Implementations must never block the caller beyond a bounded enqueue.
type PredictionSink interface {
	Record(rec *database.PredictionRecord)
}

// Service ties the feature transform, the engine and the recorder into the
// prediction operations the transport layer consumes.
type Service struct {
	enc     *encoders.Tables
	engine  *Engine
	sink    PredictionSink
	metrics *monitoring.Metrics
	logger  *monitoring.Logger
}

// NewService creates the prediction service. sink may be nil in tests.
func NewService(enc *encoders.Tables, engine *Engine, sink PredictionSink, metrics *monitoring.Metrics, logger *monitoring.Logger) *Service {
	return &Service{
		enc:     enc,
		engine:  engine,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// Predict transforms and scores a single record. Validation failures are
// returned to the caller with the offending field names; recorder failures
// never surface here.
func (s *Service) Predict(rec types.RawUserRecord) (*types.PredictionResult, error) {
	vec, err := features.Transform(rec, s.enc)
	if err != nil {
		s.metrics.ObservePrediction("validation_error", 0)
		return nil, err
	}

	value, duration, ref, err := s.engine.PredictOne(vec)
	if err != nil {
		s.metrics.ObservePrediction("inference_error", 0)
		return nil, err
	}

	result := &types.PredictionResult{
		PredictedRevenue: round6(value),
		InferenceTimeMs:  round2(duration.Seconds() * 1000),
		Timestamp:        time.Now().UTC(),
		ModelProvenance:  ref.Provenance,
		ModelVersion:     ref.Version,
	}

	s.metrics.ObservePrediction("ok", duration.Seconds())
	s.logger.PredictionLogger(rec.Country, rec.Platform, result.PredictedRevenue, duration, ref.Provenance)

	if s.sink != nil {
		s.sink.Record(database.NewPredictionRecord(rec, result.PredictedRevenue, result.InferenceTimeMs, ref.Provenance, ref.Version))
	}

	return result, nil
}

// PredictBatch scores records independently and in order. One invalid item
// yields a per-item error alongside its siblings' results; it never aborts
// the batch.
func (s *Service) PredictBatch(recs []types.RawUserRecord) []types.BatchItemResult {
	s.metrics.ObserveBatch(len(recs))

	results := make([]types.BatchItemResult, len(recs))
	for i, rec := range recs {
		results[i].Input = rec

		result, err := s.Predict(rec)
		if err != nil {
			results[i].Error = errors.ToAppError(err).Error()
			continue
		}

		v := result.PredictedRevenue
		results[i].PredictedRevenue = &v
	}

	return results
}

// Schema returns the ordered feature names served by the loaded encoders
func (s *Service) Schema() []string {
	return s.enc.FeatureCols()
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func round2(v float64) float64 {
	return math.Round(v*1e2) / 1e2
}
