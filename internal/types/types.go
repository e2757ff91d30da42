package types

import "time"

// RawUserRecord is the loosely-typed user snapshot received from callers.
// Numeric counters are pointers so that an absent field can be told apart
// from an explicit zero.
type RawUserRecord struct {
	Country       string   `json:"country"`
	CountryRegion string   `json:"country_region"`
	Source        string   `json:"source"`
	Platform      string   `json:"platform"`
	DeviceFamily  string   `json:"device_family"`
	OSVersion     string   `json:"os_version"`
	Event1        *float64 `json:"event_1"`
	Event2        *float64 `json:"event_2"`
	Event3        *float64 `json:"event_3"`
}

// BatchPredictRequest is the payload for the batch prediction endpoint
type BatchPredictRequest struct {
	Users []RawUserRecord `json:"users" binding:"required"`
}

// PredictionResult is the outcome of a single successful inference
type PredictionResult struct {
	PredictedRevenue float64   `json:"predicted_revenue"`
	InferenceTimeMs  float64   `json:"inference_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
	ModelProvenance  string    `json:"model_provenance"`
	ModelVersion     string    `json:"model_version"`
}

// BatchItemResult carries a per-item outcome inside a batch response.
// Exactly one of PredictedRevenue or Error is set.
type BatchItemResult struct {
	Input            RawUserRecord `json:"input"`
	PredictedRevenue *float64      `json:"predicted_revenue,omitempty"`
	Error            string        `json:"error,omitempty"`
}
