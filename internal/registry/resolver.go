package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/playmetrics/revpredict/internal/encoders"
	"github.com/playmetrics/revpredict/internal/errors"
	"github.com/playmetrics/revpredict/internal/model"
)

// Provenance tags where the active model artifact came from
const (
	ProvenanceRegistry      = "registry"
	ProvenanceLocalFallback = "local-fallback"
)

// State names a step in the resolution state machine
type State string

const (
	StateStart               State = "start"
	StateResolvingRegistry   State = "resolving_registry"
	StateRegistryResolved    State = "registry_resolved"
	StateRegistryUnavailable State = "registry_unavailable"
	StateResolvingLocal      State = "resolving_local"
	StateLocalResolved       State = "local_resolved"
	StateUnresolved          State = "unresolved"
	StateReady               State = "ready"
	StateFatal               State = "fatal"
)

// ModelRef is an immutable reference to a resolved, validated model. It is
// replaced atomically on reload; it is never mutated in place.
type ModelRef struct {
	Name       string
	Version    string
	Provenance string
	Ensemble   *model.Ensemble
	ResolvedAt time.Time
}

// Config holds resolver settings
type Config struct {
	RegistryURL  string
	ModelName    string
	ModelVersion string
	ArtifactDir  string
	Timeout      time.Duration
	MaxAttempts  int
}

// Resolver runs the startup resolution state machine and owns the atomic
// pointer the inference engine reads the active model through.
type Resolver struct {
	cfg    Config
	client *Client
	enc    *encoders.Tables

	active        atomic.Pointer[ModelRef]
	state         atomic.Value // State
	lastReloadErr atomic.Value // string
}

// NewResolver creates a resolver. A nil client (empty registry URL) skips
// straight to the local bundle.
func NewResolver(cfg Config, enc *encoders.Tables) *Resolver {
	r := &Resolver{cfg: cfg, enc: enc}
	if cfg.RegistryURL != "" {
		r.client = NewClient(cfg.RegistryURL, cfg.Timeout)
	}
	r.state.Store(StateStart)
	r.lastReloadErr.Store("")
	return r
}

// Active returns the model currently serving predictions, or nil when
// resolution has not succeeded. Safe for concurrent use; callers see a
// single consistent snapshot for the duration of a request.
func (r *Resolver) Active() *ModelRef {
	return r.active.Load()
}

// State reports the resolver's last state for health reporting
func (r *Resolver) State() State {
	return r.state.Load().(State)
}

// LastReloadError reports why the most recent resolution failed while an
// earlier model kept serving. Empty when the last resolution succeeded or
// when no model has ever been published.
func (r *Resolver) LastReloadError() string {
	return r.lastReloadErr.Load().(string)
}

// Resolve runs the resolution procedure and publishes the result. On
// success the new reference is swapped in atomically; in-flight requests
// keep scoring against the old one until they complete. On failure the
// previously active model, if any, stays published and the resolver stays
// ready; Fatal is reserved for having no model to serve with at all.
func (r *Resolver) Resolve(ctx context.Context) (*ModelRef, error) {
	ref, err := r.resolve(ctx)
	if err != nil {
		if r.active.Load() != nil {
			r.lastReloadErr.Store(err.Error())
			r.setState(StateReady)
		} else {
			r.setState(StateFatal)
		}
		return nil, err
	}

	r.active.Store(ref)
	r.lastReloadErr.Store("")
	r.setState(StateReady)
	return ref, nil
}

func (r *Resolver) resolve(ctx context.Context) (*ModelRef, error) {
	r.setState(StateStart)

	var registryErr error
	if r.client != nil {
		r.setState(StateResolvingRegistry)

		ref, err := r.resolveRegistry(ctx)
		if err == nil {
			r.setState(StateRegistryResolved)
			slog.Info("Model resolved from registry",
				"model", ref.Name, "version", ref.Version)
			return ref, nil
		}

		registryErr = err
		r.setState(StateRegistryUnavailable)
		slog.Warn("Registry resolution failed, falling back to local artifact",
			"model", r.cfg.ModelName, "version", r.cfg.ModelVersion, "error", err)
	} else {
		registryErr = fmt.Errorf("no registry configured")
		r.setState(StateRegistryUnavailable)
	}

	r.setState(StateResolvingLocal)

	ref, localErr := r.resolveLocal()
	if localErr != nil {
		r.setState(StateUnresolved)
		return nil, errors.NewModelUnresolvedError(
			"neither registry nor local artifact produced a valid model",
			fmt.Errorf("registry: %v; local: %w", registryErr, localErr))
	}

	r.setState(StateLocalResolved)
	slog.Info("Model resolved from local fallback",
		"model", ref.Name, "version", ref.Version)
	return ref, nil
}

// resolveRegistry resolves, fetches and validates the registry artifact,
// retrying transient failures with backoff.
func (r *Resolver) resolveRegistry(ctx context.Context) (*ModelRef, error) {
	var info *ArtifactInfo
	var data []byte

	err := retry(ctx, r.cfg.MaxAttempts, func() error {
		var err error
		info, err = r.client.Resolve(ctx, r.cfg.ModelName, r.cfg.ModelVersion)
		if err != nil {
			return err
		}
		data, err = r.client.Fetch(ctx, info)
		return err
	})
	if err != nil {
		return nil, err
	}

	ensemble, err := model.Parse(data)
	if err != nil {
		return nil, err
	}

	// A registry artifact whose schema disagrees with the fitted encoder
	// tables is a resolution failure, not a silent partial load.
	if err := ensemble.ValidateSchema(r.enc.FeatureCols()); err != nil {
		return nil, errors.NewSchemaMismatchError("registry model schema does not match encoder schema", err)
	}

	return &ModelRef{
		Name:       info.Name,
		Version:    info.Version,
		Provenance: ProvenanceRegistry,
		Ensemble:   ensemble,
		ResolvedAt: time.Now(),
	}, nil
}

func (r *Resolver) resolveLocal() (*ModelRef, error) {
	path := filepath.Join(r.cfg.ArtifactDir, model.ModelFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read local model artifact: %w", err)
	}

	ensemble, err := model.Parse(data)
	if err != nil {
		return nil, err
	}

	if err := ensemble.ValidateSchema(r.enc.FeatureCols()); err != nil {
		return nil, errors.NewSchemaMismatchError("local model schema does not match encoder schema", err)
	}

	version := ensemble.Version
	if version == "" {
		version = r.enc.Version()
	}

	return &ModelRef{
		Name:       r.cfg.ModelName,
		Version:    version,
		Provenance: ProvenanceLocalFallback,
		Ensemble:   ensemble,
		ResolvedAt: time.Now(),
	}, nil
}

func (r *Resolver) setState(s State) {
	r.state.Store(s)
	slog.Debug("Model resolver state", "state", string(s))
}

// retry runs fn up to maxAttempts times with exponential backoff. A missing
// model is not retried; the registry's answer will not change.
func retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := 100 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if stderrors.Is(lastErr, ErrNotFound) {
			return lastErr
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}
