package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/playmetrics/revpredict/internal/types"
)

// PredictionRecord is one logged inference: the input snapshot, the
// predicted value, timing and model provenance. Created per request,
// handed to the recorder as a fire-and-forget write, never read back on
// the serving path.
type PredictionRecord struct {
	ID               string    `json:"id" db:"id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	Country          string    `json:"country" db:"country"`
	CountryRegion    string    `json:"country_region" db:"country_region"`
	Source           string    `json:"source" db:"source"`
	Platform         string    `json:"platform" db:"platform"`
	DeviceFamily     string    `json:"device_family" db:"device_family"`
	OSVersion        string    `json:"os_version" db:"os_version"`
	Event1           *float64  `json:"event_1" db:"event_1"`
	Event2           *float64  `json:"event_2" db:"event_2"`
	Event3           *float64  `json:"event_3" db:"event_3"`
	PredictedRevenue float64   `json:"predicted_revenue" db:"predicted_revenue"`
	InferenceTimeMs  float64   `json:"inference_time_ms" db:"inference_time_ms"`
	ModelProvenance  string    `json:"model_provenance" db:"model_provenance"`
	ModelVersion     string    `json:"model_version" db:"model_version"`
	InputData        string    `json:"input_data" db:"input_data"`
}

// NewPredictionRecord builds a record with a generated ID and a JSON
// snapshot of the raw input.
func NewPredictionRecord(rec types.RawUserRecord, predicted, inferenceMs float64, provenance, version string) *PredictionRecord {
	raw, _ := json.Marshal(rec)

	return &PredictionRecord{
		ID:               uuid.New().String(),
		Timestamp:        time.Now().UTC(),
		Country:          rec.Country,
		CountryRegion:    rec.CountryRegion,
		Source:           rec.Source,
		Platform:         rec.Platform,
		DeviceFamily:     rec.DeviceFamily,
		OSVersion:        rec.OSVersion,
		Event1:           rec.Event1,
		Event2:           rec.Event2,
		Event3:           rec.Event3,
		PredictedRevenue: predicted,
		InferenceTimeMs:  inferenceMs,
		ModelProvenance:  provenance,
		ModelVersion:     version,
		InputData:        string(raw),
	}
}

// CategoryCount is one group-by bucket in the stats read surface
type CategoryCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// PredictionStats is the aggregate view over logged predictions. The
// aggregation itself is delegated to SQL; nothing here is recomputed
// in-process.
type PredictionStats struct {
	TotalPredictions     int64           `json:"total_predictions"`
	AvgPredictedRevenue  float64         `json:"avg_predicted_revenue"`
	MinPredictedRevenue  float64         `json:"min_predicted_revenue"`
	MaxPredictedRevenue  float64         `json:"max_predicted_revenue"`
	AvgInferenceTimeMs   float64         `json:"avg_inference_time_ms"`
	FirstPrediction      *time.Time      `json:"first_prediction,omitempty"`
	LastPrediction       *time.Time      `json:"last_prediction,omitempty"`
	TopCountries         []CategoryCount `json:"top_countries"`
	PlatformDistribution []CategoryCount `json:"platform_distribution"`
}
