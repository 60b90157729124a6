package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// AnomalyRepository persists anomaly records. Writes are upserts keyed by
// (equipment_id, detected_at, metric) so re-running detection over a window
// can never create duplicates; rows are never deleted.
type AnomalyRepository interface {
	Upsert(ctx context.Context, anomaly *models.Anomaly) error
	List(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error)
	Resolve(ctx context.Context, id uuid.UUID, note string) error
}

type anomalyRepository struct {
	db *database.DB
}

func NewAnomalyRepository(db *database.DB) AnomalyRepository {
	return &anomalyRepository{db: db}
}

var _ AnomalyRepository = (*anomalyRepository)(nil)

func (r *anomalyRepository) Upsert(ctx context.Context, anomaly *models.Anomaly) error {
	// Refreshes measurements and severity on re-detection but preserves the
	// resolved flag and note: a human decision is never undone by a sweep.
	err := r.db.QueryRow(ctx, `
		INSERT INTO anomalies (
			equipment_id, detected_at, metric, observed_value, expected_value,
			deviation_percent, severity, anomaly_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (equipment_id, detected_at, metric) DO UPDATE SET
		    observed_value = EXCLUDED.observed_value,
		    expected_value = EXCLUDED.expected_value,
		    deviation_percent = EXCLUDED.deviation_percent,
		    severity = EXCLUDED.severity,
		    anomaly_type = EXCLUDED.anomaly_type,
		    updated_at = now()
		RETURNING id, resolved, created_at, updated_at`,
		anomaly.EquipmentID, anomaly.DetectedAt, anomaly.Metric,
		anomaly.ObservedValue, anomaly.ExpectedValue, anomaly.DeviationPercent,
		anomaly.Severity, anomaly.AnomalyType,
	).Scan(&anomaly.ID, &anomaly.Resolved, &anomaly.CreatedAt, &anomaly.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert anomaly: %w", err)
	}
	return nil
}

func (r *anomalyRepository) List(ctx context.Context, filters models.AnomalyFilters) ([]*models.Anomaly, error) {
	conditions := []string{"detected_at >= $1", "detected_at <= $2"}
	args := []any{filters.From, filters.To}
	argIdx := 3

	if filters.EquipmentID != nil {
		conditions = append(conditions, fmt.Sprintf("equipment_id = $%d", argIdx))
		args = append(args, *filters.EquipmentID)
		argIdx++
	}
	if filters.Severity != "" {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", argIdx))
		args = append(args, filters.Severity)
		argIdx++
	}

	limit := filters.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, equipment_id, detected_at, metric, observed_value, expected_value,
		       deviation_percent, severity, anomaly_type, resolved, resolution_note,
		       created_at, updated_at
		FROM anomalies
		WHERE %s
		ORDER BY detected_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIdx)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var anomalies []*models.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anomalies: %w", err)
	}

	return anomalies, nil
}

func (r *anomalyRepository) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE anomalies
		SET resolved = true, resolution_note = $2, updated_at = now()
		WHERE id = $1`,
		id, note)
	if err != nil {
		return fmt.Errorf("failed to resolve anomaly: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanAnomaly(rows pgx.Rows) (*models.Anomaly, error) {
	a := &models.Anomaly{}
	err := rows.Scan(
		&a.ID, &a.EquipmentID, &a.DetectedAt, &a.Metric,
		&a.ObservedValue, &a.ExpectedValue, &a.DeviationPercent,
		&a.Severity, &a.AnomalyType, &a.Resolved, &a.ResolutionNote,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan anomaly: %w", err)
	}
	return a, nil
}
