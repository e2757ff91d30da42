// Command server runs the revenue prediction HTTP service.
//
// @title Revenue Prediction API
// @version 1.0
// @description Predicts first-period user revenue for mobile game installs.
// @BasePath /
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/playmetrics/revpredict/internal/config"
	"github.com/playmetrics/revpredict/internal/database"
	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/features"
	"github.com/playmetrics/revpredict/internal/inference"
	"github.com/playmetrics/revpredict/internal/monitoring"
	"github.com/playmetrics/revpredict/internal/recorder"
	"github.com/playmetrics/revpredict/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel))
	metrics := monitoring.NewMetrics()

	// Encoder tables always come from the local artifact bundle. Refusing
	// to start on a bad bundle is deliberate: serving without the fitted
	// tables would silently break training/serving parity.
	enc, err := encoders.Load(cfg.ArtifactDir)
	if err != nil {
		logger.SystemLogger("encoder_load_failed", err.Error())
		os.Exit(1)
	}
	if err := features.ValidateSchema(enc); err != nil {
		logger.SystemLogger("feature_schema_invalid", err.Error())
		os.Exit(1)
	}

	db, err := database.NewDB(cfg.DataDir)
	if err != nil {
		logger.SystemLogger("database_init_failed", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	resolver := registry.NewResolver(registry.Config{
		RegistryURL:  cfg.RegistryURL,
		ModelName:    cfg.ModelName,
		ModelVersion: cfg.ModelVersion,
		ArtifactDir:  cfg.ArtifactDir,
		Timeout:      cfg.RegistryTimeout,
		MaxAttempts:  cfg.RegistryMaxAttempts,
	}, enc)

	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), 2*time.Minute)
	ref, err := resolver.Resolve(resolveCtx)
	cancelResolve()
	if err != nil {
		metrics.ObserveModelUnresolved()
		logger.SystemLogger("model_resolution_failed", err.Error())
		os.Exit(1)
	}
	metrics.ObserveModelResolved(ref.Provenance)
	if cfg.RegistryURL != "" {
		metrics.ObserveRegistryCall(ref.Provenance == registry.ProvenanceRegistry)
	}
	logger.ResolverLogger(string(resolver.State()), ref.Provenance, ref.Version)

	rec := recorder.New(repo, cfg.RecorderQueueSize, cfg.RecorderWriteTimeout, metrics, logger)
	rec.Start()

	engine := inference.NewEngine(resolver)
	service := inference.NewService(enc, engine, rec, metrics, logger)

	app := &application{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		enc:      enc,
		resolver: resolver,
		service:  service,
		repo:     repo,
		recorder: rec,
		db:       db,
		started:  time.Now(),
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: setupRouter(app),
	}

	go func() {
		logger.SystemLogger("server_starting", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.SystemLogger("server_failed", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.SystemLogger("server_shutting_down", "")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.SystemLogger("server_forced_shutdown", err.Error())
	}

	// Drain the prediction log queue before the database closes.
	rec.Close()

	logger.SystemLogger("server_stopped", "")
}
