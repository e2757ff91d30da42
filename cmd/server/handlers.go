package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/playmetrics/revpredict/internal/config"
	"github.com/playmetrics/revpredict/internal/database"
	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/errors"
	"github.com/playmetrics/revpredict/internal/inference"
	"github.com/playmetrics/revpredict/internal/monitoring"
	"github.com/playmetrics/revpredict/internal/recorder"
	"github.com/playmetrics/revpredict/internal/registry"
	"github.com/playmetrics/revpredict/internal/security"
	"github.com/playmetrics/revpredict/internal/types"
)

// application bundles the wired components the HTTP handlers need
type application struct {
	cfg      *config.Config
	logger   *monitoring.Logger
	metrics  *monitoring.Metrics
	enc      *encoders.Tables
	resolver *registry.Resolver
	service  *inference.Service
	repo     *database.Repository
	recorder *recorder.Recorder
	db       *database.DB
	started  time.Time
}

// setupRouter builds the gin engine with the full middleware chain and
// all routes registered
func setupRouter(app *application) *gin.Engine {
	r := gin.New()

	r.Use(monitoring.MonitoringMiddleware(app.metrics, app.logger))
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	sec := security.NewSecurityMiddleware(&security.SecurityConfig{
		MaxRequestsPerMin: app.cfg.RateLimitPerMin,
		RequestTimeout:    app.cfg.RequestTimeout,
	})
	r.Use(sec.SecurityHeaders)
	r.Use(sec.RequestTimeout)
	r.Use(sec.ValidateContentType)
	r.Use(sec.RateLimitByIP)

	r.POST("/predict", app.handlePredict)
	r.POST("/batch_predict", app.handleBatchPredict)
	r.GET("/health", app.handleHealth)
	r.GET("/model/info", app.handleModelInfo)
	r.POST("/model/reload", app.handleModelReload)
	r.GET("/stats", app.handleStats)
	r.GET("/metrics", gin.WrapH(app.metrics.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// handlePredict scores a single user record
// @Summary Predict revenue for one user
// @Accept json
// @Produce json
// @Param user body types.RawUserRecord true "raw user snapshot"
// @Success 200 {object} types.PredictionResult
// @Router /predict [post]
func (app *application) handlePredict(c *gin.Context) {
	var rec types.RawUserRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		appErr := errors.NewValidationError("invalid JSON body")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	result, err := app.service.Predict(rec)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleBatchPredict scores a batch of user records against one model
// snapshot. Per-item validation failures do not fail the batch.
// @Summary Predict revenue for a batch of users
// @Accept json
// @Produce json
// @Param batch body types.BatchPredictRequest true "batch of raw user snapshots"
// @Success 200 {object} map[string]interface{}
// @Router /batch_predict [post]
func (app *application) handleBatchPredict(c *gin.Context) {
	var req types.BatchPredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.NewValidationError("body must contain a users array")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	if len(req.Users) == 0 {
		appErr := errors.NewValidationError("users array is empty")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}
	if len(req.Users) > app.cfg.MaxBatchSize {
		appErr := errors.NewValidationError("batch exceeds maximum size")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	results := app.service.PredictBatch(req.Users)

	c.JSON(http.StatusOK, gin.H{
		"predictions": results,
		"total_users": len(results),
	})
}

// handleHealth reports serving readiness. The service is healthy only
// when a model is resolved and published.
// @Summary Service health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (app *application) handleHealth(c *gin.Context) {
	ref := app.resolver.Active()

	resp := gin.H{
		"status":          "ok",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":  int64(time.Since(app.started).Seconds()),
		"resolver_state":  string(app.resolver.State()),
		"schema_features": app.service.Schema(),
		"database":        app.db.GetPoolStats(),
	}
	if msg := app.resolver.LastReloadError(); msg != "" {
		resp["last_reload_error"] = msg
	}

	if ref == nil {
		resp["status"] = "degraded"
		resp["model_loaded"] = false
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	resp["model_loaded"] = true
	resp["model_name"] = ref.Name
	resp["model_version"] = ref.Version
	resp["model_provenance"] = ref.Provenance
	c.JSON(http.StatusOK, resp)
}

// handleModelInfo exposes the active model's identity and the feature
// schema inference runs against
// @Summary Active model information
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /model/info [get]
func (app *application) handleModelInfo(c *gin.Context) {
	ref := app.resolver.Active()
	if ref == nil {
		appErr := errors.NewModelUnresolvedError("no model loaded", nil)
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"model_name":  ref.Name,
		"version":     ref.Version,
		"provenance":  ref.Provenance,
		"resolved_at": ref.ResolvedAt.UTC().Format(time.RFC3339),
		"features":    app.service.Schema(),
		"metrics":     app.enc.Metrics(),
	})
}

// handleModelReload re-runs model resolution and atomically swaps the
// active model on success. In-flight predictions keep scoring against
// the previous model until they finish.
// @Summary Reload the model
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /model/reload [post]
func (app *application) handleModelReload(c *gin.Context) {
	ref, err := app.resolver.Resolve(c.Request.Context())
	if err != nil {
		app.metrics.ObserveModelUnresolved()
		appErr := errors.NewModelUnresolvedError("model reload failed", err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	app.metrics.ObserveModelResolved(ref.Provenance)
	if app.cfg.RegistryURL != "" {
		app.metrics.ObserveRegistryCall(ref.Provenance == registry.ProvenanceRegistry)
	}
	app.logger.ResolverLogger(string(app.resolver.State()), ref.Provenance, ref.Version)

	c.JSON(http.StatusOK, gin.H{
		"status":     "reloaded",
		"version":    ref.Version,
		"provenance": ref.Provenance,
	})
}

// handleStats summarises the prediction log
// @Summary Prediction statistics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /stats [get]
func (app *application) handleStats(c *gin.Context) {
	stats, err := app.repo.GetPredictionStats(c.Request.Context(), 10)
	if err != nil {
		appErr := errors.NewStorageError("failed to read prediction stats", err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"predictions":          stats,
		"recorder_queue_depth": app.recorder.QueueDepth(),
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}
