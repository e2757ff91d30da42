package monitoring

import (
	"log/slog"
	"os"
	"time"
)

// Logger provides structured logging with domain helpers
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger at the given level
func NewLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RequestLogger logs HTTP request details
func (l *Logger) RequestLogger(method, path, ip string, statusCode int, duration time.Duration) {
	l.Info("HTTP Request",
		"method", method,
		"path", path,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	)
}

// PredictionLogger logs a completed inference
func (l *Logger) PredictionLogger(country, platform string, predicted float64, inference time.Duration, provenance string) {
	l.Info("Prediction Completed",
		"country", country,
		"platform", platform,
		"predicted_revenue", predicted,
		"inference_us", inference.Microseconds(),
		"model_provenance", provenance,
	)
}

// RecorderLogger logs prediction log store activity; write failures are
// observed here and nowhere else.
func (l *Logger) RecorderLogger(event string, err error) {
	if err != nil {
		l.Warn("Prediction Recorder", "event", event, "error", err)
		return
	}
	l.Debug("Prediction Recorder", "event", event)
}

// ResolverLogger logs model resolution outcomes
func (l *Logger) ResolverLogger(state, provenance, version string) {
	l.Info("Model Resolver",
		"state", state,
		"provenance", provenance,
		"version", version,
	)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

var startTime = time.Now()
