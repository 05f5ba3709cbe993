package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rofex/intervention-api/internal/models"
)

const availabilityColumns = "id, technician_id, weekday, date_from, date_to, start_time, end_time, zone, open, created_at, updated_at"

// AvailabilityRepository manages persistence for availability windows.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs an AvailabilityRepository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListByTechnician returns a technician's windows ordered by weekday and start.
func (r *AvailabilityRepository) ListByTechnician(ctx context.Context, technicianID string) ([]models.AvailabilityWindow, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE technician_id = $1 ORDER BY weekday ASC, start_time ASC", availabilityColumns)
	var windows []models.AvailabilityWindow
	if err := r.db.SelectContext(ctx, &windows, query, technicianID); err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	return windows, nil
}

// FindByID fetches a window by ID.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error) {
	query := fmt.Sprintf("SELECT %s FROM availability_windows WHERE id = $1", availabilityColumns)
	var window models.AvailabilityWindow
	if err := r.db.GetContext(ctx, &window, query, id); err != nil {
		return nil, err
	}
	return &window, nil
}

// HasOverlap reports whether another window for the same technician, zone,
// and weekday intersects [start, end). Lexicographic comparison is sound
// for zero-padded HH:MM values.
func (r *AvailabilityRepository) HasOverlap(ctx context.Context, window *models.AvailabilityWindow) (bool, error) {
	query := `SELECT 1 FROM availability_windows
		WHERE technician_id = $1 AND zone = $2 AND weekday = $3
		AND start_time < $4 AND end_time > $5`
	args := []interface{}{window.TechnicianID, window.Zone, window.Weekday, window.EndTime, window.StartTime}
	if window.ID != "" {
		query += " AND id <> $6"
		args = append(args, window.ID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check window overlap: %w", err)
	}
	return true, nil
}

// Upsert inserts or updates a window owned by the technician.
func (r *AvailabilityRepository) Upsert(ctx context.Context, window *models.AvailabilityWindow) error {
	now := time.Now().UTC()
	window.UpdatedAt = now

	if window.ID == "" {
		window.ID = uuid.NewString()
		window.CreatedAt = now
		const query = `INSERT INTO availability_windows (id, technician_id, weekday, date_from, date_to, start_time, end_time, zone, open, created_at, updated_at)
			VALUES (:id, :technician_id, :weekday, :date_from, :date_to, :start_time, :end_time, :zone, :open, :created_at, :updated_at)`
		if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
			return fmt.Errorf("create availability window: %w", err)
		}
		return nil
	}

	const query = `UPDATE availability_windows
		SET weekday = :weekday, date_from = :date_from, date_to = :date_to, start_time = :start_time, end_time = :end_time, zone = :zone, open = :open, updated_at = :updated_at
		WHERE id = :id AND technician_id = :technician_id`
	if _, err := r.db.NamedExecContext(ctx, query, window); err != nil {
		return fmt.Errorf("update availability window: %w", err)
	}
	return nil
}

// Delete removes a window owned by the technician.
func (r *AvailabilityRepository) Delete(ctx context.Context, id, technicianID string) error {
	const query = `DELETE FROM availability_windows WHERE id = $1 AND technician_id = $2`
	if _, err := r.db.ExecContext(ctx, query, id, technicianID); err != nil {
		return fmt.Errorf("delete availability window: %w", err)
	}
	return nil
}
