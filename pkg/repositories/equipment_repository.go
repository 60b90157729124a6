package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/database"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// EquipmentRepository provides read access to provisioned equipment units
// and SEU groupings.
type EquipmentRepository interface {
	GetSEUByName(ctx context.Context, name string) (*models.SEU, error)
	GetSEUByID(ctx context.Context, id uuid.UUID) (*models.SEU, error)
	ListSEUs(ctx context.Context) ([]*models.SEU, error)
	GetEquipment(ctx context.Context, id uuid.UUID) (*models.EquipmentUnit, error)
	ListEquipmentIDs(ctx context.Context) ([]uuid.UUID, error)
}

type equipmentRepository struct {
	db *database.DB
}

func NewEquipmentRepository(db *database.DB) EquipmentRepository {
	return &equipmentRepository{db: db}
}

var _ EquipmentRepository = (*equipmentRepository)(nil)

func (r *equipmentRepository) GetSEUByName(ctx context.Context, name string) (*models.SEU, error) {
	seu := &models.SEU{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, energy_source, created_at
		FROM seus
		WHERE name = $1`, name,
	).Scan(&seu.ID, &seu.Name, &seu.EnergySource, &seu.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: SEU %q", apperrors.ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get SEU: %w", err)
	}

	if err := r.loadMembers(ctx, seu); err != nil {
		return nil, err
	}
	return seu, nil
}

func (r *equipmentRepository) GetSEUByID(ctx context.Context, id uuid.UUID) (*models.SEU, error) {
	seu := &models.SEU{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, energy_source, created_at
		FROM seus
		WHERE id = $1`, id,
	).Scan(&seu.ID, &seu.Name, &seu.EnergySource, &seu.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get SEU: %w", err)
	}

	if err := r.loadMembers(ctx, seu); err != nil {
		return nil, err
	}
	return seu, nil
}

func (r *equipmentRepository) loadMembers(ctx context.Context, seu *models.SEU) error {
	rows, err := r.db.Query(ctx, `
		SELECT equipment_id FROM seu_members
		WHERE seu_id = $1
		ORDER BY position`, seu.ID)
	if err != nil {
		return fmt.Errorf("failed to list SEU members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan SEU member: %w", err)
		}
		seu.EquipmentIDs = append(seu.EquipmentIDs, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating SEU members: %w", err)
	}
	return nil
}

func (r *equipmentRepository) ListSEUs(ctx context.Context) ([]*models.SEU, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, energy_source, created_at FROM seus ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list SEUs: %w", err)
	}
	defer rows.Close()

	var seus []*models.SEU
	for rows.Next() {
		seu := &models.SEU{}
		if err := rows.Scan(&seu.ID, &seu.Name, &seu.EnergySource, &seu.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan SEU: %w", err)
		}
		seus = append(seus, seu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating SEUs: %w", err)
	}
	return seus, nil
}

func (r *equipmentRepository) GetEquipment(ctx context.Context, id uuid.UUID) (*models.EquipmentUnit, error) {
	unit := &models.EquipmentUnit{}
	err := r.db.QueryRow(ctx, `
		SELECT id, name, category, rated_capacity_kw, created_at, updated_at
		FROM equipment_units
		WHERE id = $1`, id,
	).Scan(&unit.ID, &unit.Name, &unit.Category, &unit.RatedCapacityKW, &unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get equipment: %w", err)
	}
	return unit, nil
}

func (r *equipmentRepository) ListEquipmentIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM equipment_units ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list equipment: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan equipment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating equipment: %w", err)
	}
	return ids, nil
}
