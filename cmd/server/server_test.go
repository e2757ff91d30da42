package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playmetrics/revpredict/internal/config"
	"github.com/playmetrics/revpredict/internal/database"
	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/features"
	"github.com/playmetrics/revpredict/internal/inference"
	"github.com/playmetrics/revpredict/internal/monitoring"
	"github.com/playmetrics/revpredict/internal/recorder"
	"github.com/playmetrics/revpredict/internal/registry"
)

func writeArtifacts(t *testing.T) string {
	t.Helper()

	md := map[string]interface{}{
		"model_name":                  "revenue_prediction_xgboost",
		"version":                     "3",
		"feature_cols":                []string{"event_1", "event_2"},
		"metrics":                     map[string]float64{"test_mae": 0.4},
		"country_value_counts":        map[string]float64{"us": 500, "br": 120},
		"country_region_value_counts": map[string]float64{"us_ca": 200},
		"device_family_value_counts":  map[string]float64{"iphone": 300},
		"country_mean_revenue":        map[string]float64{"us": 2.4, "br": 0.8},
		"source_classes":              []string{"organic", "paid_social"},
		"platform_classes":            []string{"android", "ios"},
	}
	modelDoc := map[string]interface{}{
		"model_name":    "revenue_prediction_xgboost",
		"version":       "3",
		"base_score":    0.25,
		"feature_names": []string{"event_1", "event_2"},
		"trees": []map[string]interface{}{
			{"nodes": []map[string]interface{}{
				{"feature": 0, "threshold": 5, "left": 1, "right": 2},
				{"leaf": true, "value": 0.5},
				{"leaf": true, "value": 1.5},
			}},
		},
	}

	dir := t.TempDir()
	mdData, err := json.Marshal(md)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), mdData, 0o644))
	modelData, err := json.Marshal(modelDoc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.json"), modelData, 0o644))
	return dir
}

func newTestApplication(t *testing.T) *application {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.ArtifactDir = writeArtifacts(t)
	cfg.DataDir = t.TempDir()
	cfg.MaxBatchSize = 3
	cfg.RateLimitPerMin = 100000

	logger := monitoring.NewLogger(slog.LevelError)
	metrics := monitoring.NewMetrics()

	enc, err := encoders.Load(cfg.ArtifactDir)
	require.NoError(t, err)
	require.NoError(t, features.ValidateSchema(enc))

	db, err := database.NewDB(cfg.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := database.NewRepository(db)

	resolver := registry.NewResolver(registry.Config{
		ModelName:    cfg.ModelName,
		ModelVersion: cfg.ModelVersion,
		ArtifactDir:  cfg.ArtifactDir,
		Timeout:      time.Second,
		MaxAttempts:  1,
	}, enc)
	_, err = resolver.Resolve(context.Background())
	require.NoError(t, err)

	rec := recorder.New(repo, 64, time.Second, metrics, logger)
	rec.Start()
	t.Cleanup(rec.Close)

	engine := inference.NewEngine(resolver)

	return &application{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		enc:      enc,
		resolver: resolver,
		service:  inference.NewService(enc, engine, rec, metrics, logger),
		repo:     repo,
		recorder: rec,
		db:       db,
		started:  time.Now(),
	}
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func predictBody(event1 float64) map[string]interface{} {
	return map[string]interface{}{
		"country":  "US",
		"platform": "ios",
		"event_1":  event1,
		"event_2":  5,
	}
}

func TestHandlePredict(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodPost, "/predict", predictBody(10))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	// base 0.25 + right leaf 1.5
	assert.InDelta(t, 1.75, resp["predicted_revenue"], 1e-6)
	assert.Equal(t, "local-fallback", resp["model_provenance"])
	assert.Equal(t, "3", resp["model_version"])
	assert.Contains(t, resp, "inference_time_ms")
	assert.Contains(t, resp, "timestamp")
}

func TestHandlePredict_ValidationErrors(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{name: "missing country", body: map[string]interface{}{"platform": "ios", "event_1": 1, "event_2": 2}},
		{name: "missing events", body: map[string]interface{}{"country": "US", "platform": "ios"}},
		{name: "negative event", body: map[string]interface{}{"country": "US", "platform": "ios", "event_1": -1, "event_2": 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}

func TestHandlePredict_RejectsNonJSON(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewBufferString("country=US"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleBatchPredict(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	body := map[string]interface{}{
		"users": []map[string]interface{}{
			predictBody(10),
			{"platform": "ios", "event_1": 1, "event_2": 2}, // missing country
			predictBody(1),
		},
	}

	w := doJSON(router, http.MethodPost, "/batch_predict", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		TotalUsers  int `json:"total_users"`
		Predictions []struct {
			PredictedRevenue *float64 `json:"predicted_revenue"`
			Error            string   `json:"error"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Equal(t, 3, resp.TotalUsers)
	require.Len(t, resp.Predictions, 3)
	assert.NotNil(t, resp.Predictions[0].PredictedRevenue)
	assert.Nil(t, resp.Predictions[1].PredictedRevenue)
	assert.Contains(t, resp.Predictions[1].Error, "missing required fields")
	assert.NotNil(t, resp.Predictions[2].PredictedRevenue)
}

func TestHandleBatchPredict_Limits(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	t.Run("empty batch", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/batch_predict", map[string]interface{}{
			"users": []map[string]interface{}{},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized batch", func(t *testing.T) {
		users := make([]map[string]interface{}, 4) // cap is 3 in tests
		for i := range users {
			users[i] = predictBody(float64(i))
		}
		w := doJSON(router, http.MethodPost, "/batch_predict", map[string]interface{}{"users": users})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing users key", func(t *testing.T) {
		w := doJSON(router, http.MethodPost, "/batch_predict", map[string]interface{}{"records": []string{}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, true, resp["model_loaded"])
	assert.Equal(t, "local-fallback", resp["model_provenance"])
	assert.Equal(t, "ready", resp["resolver_state"])
	assert.Equal(t, []interface{}{"event_1", "event_2"}, resp["schema_features"])
	assert.NotContains(t, resp, "last_reload_error")
	assert.Contains(t, resp, "database")
}

func TestHandleModelInfo(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodGet, "/model/info", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "revenue_prediction_xgboost", resp["model_name"])
	assert.Equal(t, "3", resp["version"])
	assert.Equal(t, []interface{}{"event_1", "event_2"}, resp["features"])
	assert.Contains(t, resp, "metrics")
}

func TestHandleModelReload(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodPost, "/model/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "reloaded", resp["status"])
	assert.Equal(t, "local-fallback", resp["provenance"])
}

func TestHandleStats(t *testing.T) {
	app := newTestApplication(t)
	router := setupRouter(app)

	for i := 0; i < 3; i++ {
		w := doJSON(router, http.MethodPost, "/predict", predictBody(float64(i)))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// Stats are read from the async log; wait for the recorder to drain.
	require.Eventually(t, func() bool {
		n, err := app.repo.CountPredictionsSince(context.Background(), time.Now().Add(-time.Minute))
		return err == nil && n == 3
	}, 2*time.Second, 10*time.Millisecond)

	w := doJSON(router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Predictions struct {
			TotalPredictions int64 `json:"total_predictions"`
		} `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Predictions.TotalPredictions)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "revpredict_")
}

func TestSecurityHeaders(t *testing.T) {
	router := setupRouter(newTestApplication(t))

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRateLimiting(t *testing.T) {
	app := newTestApplication(t)
	app.cfg.RateLimitPerMin = 60 // burst of 60
	router := setupRouter(app)

	limited := false
	for i := 0; i < 200; i++ {
		w := doJSON(router, http.MethodGet, "/health", nil)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "expected a 429 after exhausting the burst")
}

func TestPredictAfterReloadKeepsServing(t *testing.T) {
	app := newTestApplication(t)
	router := setupRouter(app)

	before := doJSON(router, http.MethodPost, "/predict", predictBody(10))
	require.Equal(t, http.StatusOK, before.Code)

	require.Equal(t, http.StatusOK, doJSON(router, http.MethodPost, "/model/reload", nil).Code)

	after := doJSON(router, http.MethodPost, "/predict", predictBody(10))
	require.Equal(t, http.StatusOK, after.Code)
	assert.JSONEq(t, jsonField(t, before.Body.Bytes(), "predicted_revenue"), jsonField(t, after.Body.Bytes(), "predicted_revenue"))
}

func TestHandleHealth_AfterFailedReload(t *testing.T) {
	app := newTestApplication(t)
	router := setupRouter(app)

	require.NoError(t, os.Remove(filepath.Join(app.cfg.ArtifactDir, "model.json")))
	reload := doJSON(router, http.MethodPost, "/model/reload", nil)
	require.NotEqual(t, http.StatusOK, reload.Code)

	w := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "ready", resp["resolver_state"])
	assert.Equal(t, true, resp["model_loaded"])
	assert.NotEmpty(t, resp["last_reload_error"])

	after := doJSON(router, http.MethodPost, "/predict", predictBody(10))
	assert.Equal(t, http.StatusOK, after.Code)
}

func jsonField(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	raw, ok := m[field]
	require.True(t, ok, "field %s missing", field)
	return string(raw)
}
