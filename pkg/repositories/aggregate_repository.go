package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// AggregateRepository is the read-only view over the time-series store:
// consumption series at fixed resolutions, driver feature series, and the
// rollup refresh that re-materializes a resolution from raw readings.
type AggregateRepository interface {
	// ConsumptionSeries returns the total consumption per bucket, summed over
	// the given equipment units, from the materialized rollup for res.
	ConsumptionSeries(ctx context.Context, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) ([]models.SeriesPoint, error)
	// FeatureSeries computes one driver series directly from the feature's
	// raw source table, bucketed at res with the registered aggregation.
	FeatureSeries(ctx context.Context, plan models.FeaturePlan, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) (map[time.Time]float64, error)
	// DailyActual returns the raw consumption observed on day (UTC midnight
	// to midnight) and the time of the last reading within it.
	DailyActual(ctx context.Context, equipmentIDs []uuid.UUID, day time.Time) (float64, time.Time, error)
	// DailyTotals returns complete-day consumption sums from raw readings,
	// one point per day, for the rolling-average baseline.
	DailyTotals(ctx context.Context, equipmentIDs []uuid.UUID, from, to time.Time) ([]models.SeriesPoint, error)
	// RefreshResolution re-materializes one rollup window from raw readings.
	// Always computed from readings, never from another rollup.
	RefreshResolution(ctx context.Context, res models.Resolution, from, to time.Time) (int64, error)
	// TableExists reports whether a source table is provisioned.
	TableExists(ctx context.Context, table string) (bool, error)
}

type aggregateRepository struct {
	db *database.DB
}

func NewAggregateRepository(db *database.DB) AggregateRepository {
	return &aggregateRepository{db: db}
}

var _ AggregateRepository = (*aggregateRepository)(nil)

// aggregateTable maps a resolution to its independently materialized table.
func aggregateTable(res models.Resolution) (string, error) {
	switch res {
	case models.Resolution1m:
		return "agg_1m", nil
	case models.Resolution15m:
		return "agg_15m", nil
	case models.Resolution1h:
		return "agg_1h", nil
	case models.Resolution1d:
		return "agg_1d", nil
	}
	return "", fmt.Errorf("%w: no rollup at resolution %q", apperrors.ErrNoAggregateTable, res)
}

// bucketExpr returns the SQL expression that floors a timestamp column to
// the resolution's bucket start.
func bucketExpr(column string, res models.Resolution) string {
	switch res {
	case models.Resolution1m:
		return fmt.Sprintf("date_trunc('minute', %s)", column)
	case models.Resolution15m:
		return fmt.Sprintf("to_timestamp(floor(extract(epoch from %s) / 900) * 900)", column)
	case models.Resolution1h:
		return fmt.Sprintf("date_trunc('hour', %s)", column)
	default:
		return fmt.Sprintf("date_trunc('day', %s)", column)
	}
}

func (r *aggregateRepository) ConsumptionSeries(ctx context.Context, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) ([]models.SeriesPoint, error) {
	table, err := aggregateTable(res)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT bucket_start, SUM(total_kwh)
		FROM %s
		WHERE equipment_id = ANY($1) AND bucket_start >= $2 AND bucket_start < $3
		GROUP BY bucket_start
		ORDER BY bucket_start`, table)

	rows, err := r.db.Query(ctx, query, equipmentIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumption series: %w", err)
	}
	defer rows.Close()

	return scanSeries(rows)
}

func (r *aggregateRepository) FeatureSeries(ctx context.Context, plan models.FeaturePlan, equipmentIDs []uuid.UUID, res models.Resolution, from, to time.Time) (map[time.Time]float64, error) {
	if !models.ValidAggregation(plan.AggregationFn) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidAggregation, plan.AggregationFn)
	}

	exists, err := r.TableExists(ctx, plan.SourceTable)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNoAggregateTable, plan.SourceTable)
	}

	// Table, column and fn come from the validated registry, never from the
	// request, so identifier interpolation is bounded by registration checks.
	var query string
	args := []any{from, to}
	if plan.PerEquipment {
		query = fmt.Sprintf(`
			SELECT %s AS bucket, %s(%s)
			FROM %s
			WHERE time >= $1 AND time < $2 AND equipment_id = ANY($3)
			GROUP BY bucket
			ORDER BY bucket`,
			bucketExpr("time", res), plan.AggregationFn, plan.SourceColumn, plan.SourceTable)
		args = append(args, equipmentIDs)
	} else {
		query = fmt.Sprintf(`
			SELECT %s AS bucket, %s(%s)
			FROM %s
			WHERE time >= $1 AND time < $2
			GROUP BY bucket
			ORDER BY bucket`,
			bucketExpr("time", res), plan.AggregationFn, plan.SourceColumn, plan.SourceTable)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feature series %s: %w", plan.FeatureName, err)
	}
	defer rows.Close()

	series := make(map[time.Time]float64)
	for rows.Next() {
		var bucket time.Time
		var value *float64
		if err := rows.Scan(&bucket, &value); err != nil {
			return nil, fmt.Errorf("failed to scan feature bucket: %w", err)
		}
		if value != nil {
			series[bucket.UTC()] = *value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature series: %w", err)
	}

	return series, nil
}

func (r *aggregateRepository) DailyActual(ctx context.Context, equipmentIDs []uuid.UUID, day time.Time) (float64, time.Time, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total *float64
	var last *time.Time
	err := r.db.QueryRow(ctx, `
		SELECT SUM(value), MAX(time)
		FROM readings
		WHERE equipment_id = ANY($1) AND time >= $2 AND time < $3`,
		equipmentIDs, dayStart, dayEnd,
	).Scan(&total, &last)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to query daily actual: %w", err)
	}

	if total == nil || last == nil {
		return 0, time.Time{}, apperrors.ErrNoDataForPeriod
	}
	return *total, last.UTC(), nil
}

func (r *aggregateRepository) DailyTotals(ctx context.Context, equipmentIDs []uuid.UUID, from, to time.Time) ([]models.SeriesPoint, error) {
	rows, err := r.db.Query(ctx, `
		SELECT date_trunc('day', time) AS day, SUM(value)
		FROM readings
		WHERE equipment_id = ANY($1) AND time >= $2 AND time < $3
		GROUP BY day
		ORDER BY day`,
		equipmentIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily totals: %w", err)
	}
	defer rows.Close()

	return scanSeries(rows)
}

func (r *aggregateRepository) RefreshResolution(ctx context.Context, res models.Resolution, from, to time.Time) (int64, error) {
	table, err := aggregateTable(res)
	if err != nil {
		return 0, err
	}

	hours := res.BucketWidth().Hours()
	query := fmt.Sprintf(`
		INSERT INTO %s (bucket_start, equipment_id, total_kwh, avg_power_kw, min_power_kw, max_power_kw, sample_count)
		SELECT %s AS bucket, equipment_id,
		       SUM(value), SUM(value) / %f, MIN(value), MAX(value), COUNT(*)
		FROM readings
		WHERE time >= $1 AND time < $2
		GROUP BY bucket, equipment_id
		ON CONFLICT (equipment_id, bucket_start) DO UPDATE SET
		    total_kwh = EXCLUDED.total_kwh,
		    avg_power_kw = EXCLUDED.avg_power_kw,
		    min_power_kw = EXCLUDED.min_power_kw,
		    max_power_kw = EXCLUDED.max_power_kw,
		    sample_count = EXCLUDED.sample_count`,
		table, bucketExpr("time", res), hours)

	tag, err := r.db.Exec(ctx, query, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func (r *aggregateRepository) TableExists(ctx context.Context, table string) (bool, error) {
	var regclass *string
	if err := r.db.QueryRow(ctx, `SELECT to_regclass($1)::text`, table).Scan(&regclass); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", table, err)
	}
	return regclass != nil, nil
}

func scanSeries(rows pgx.Rows) ([]models.SeriesPoint, error) {
	var series []models.SeriesPoint
	for rows.Next() {
		var p models.SeriesPoint
		var value *float64
		if err := rows.Scan(&p.Bucket, &value); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		p.Bucket = p.Bucket.UTC()
		if value != nil {
			p.Value = *value
		}
		series = append(series, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating series: %w", err)
	}
	return series, nil
}
