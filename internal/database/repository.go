package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository handles prediction log reads and writes
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// InsertPrediction writes one prediction record. Callers on the serving
// path must bound ctx; the recorder owns that timeout.
func (r *Repository) InsertPrediction(ctx context.Context, rec *PredictionRecord) error {
	stmt, err := r.db.GetPreparedStatement("insert_prediction")
	if err != nil {
		return err
	}

	_, err = stmt.ExecContext(ctx,
		rec.ID, rec.Timestamp, rec.Country, rec.CountryRegion, rec.Source,
		rec.Platform, rec.DeviceFamily, rec.OSVersion,
		nullableFloat(rec.Event1), nullableFloat(rec.Event2), nullableFloat(rec.Event3),
		rec.PredictedRevenue, rec.InferenceTimeMs, rec.ModelProvenance,
		rec.ModelVersion, rec.InputData,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	return nil
}

// GetPredictionStats aggregates the logged predictions via SQL
func (r *Repository) GetPredictionStats(ctx context.Context, topCountries int) (*PredictionStats, error) {
	stats := &PredictionStats{
		TopCountries:         []CategoryCount{},
		PlatformDistribution: []CategoryCount{},
	}

	summary, err := r.db.GetPreparedStatement("prediction_summary")
	if err != nil {
		return nil, err
	}

	var avg, min, max, avgMs sql.NullFloat64
	var first, last sql.NullTime
	err = summary.QueryRowContext(ctx).Scan(
		&stats.TotalPredictions, &avg, &min, &max, &avgMs, &first, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction summary: %w", err)
	}

	stats.AvgPredictedRevenue = avg.Float64
	stats.MinPredictedRevenue = min.Float64
	stats.MaxPredictedRevenue = max.Float64
	stats.AvgInferenceTimeMs = avgMs.Float64
	if first.Valid {
		t := first.Time
		stats.FirstPrediction = &t
	}
	if last.Valid {
		t := last.Time
		stats.LastPrediction = &t
	}

	if topCountries <= 0 {
		topCountries = 10
	}

	stats.TopCountries, err = r.queryCategoryCounts(ctx, "top_countries", topCountries)
	if err != nil {
		return nil, err
	}

	stats.PlatformDistribution, err = r.queryCategoryCounts(ctx, "platform_distribution")
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// CountPredictionsSince reports log volume for a recent window
func (r *Repository) CountPredictionsSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM predictions WHERE timestamp >= ?`, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}

func (r *Repository) queryCategoryCounts(ctx context.Context, stmtName string, args ...interface{}) ([]CategoryCount, error) {
	stmt, err := r.db.GetPreparedStatement(stmtName)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", stmtName, err)
	}
	defer rows.Close()

	counts := []CategoryCount{}
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Value, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", stmtName, err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

func nullableFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
