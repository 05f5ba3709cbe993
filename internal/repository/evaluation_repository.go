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

// EvaluationRepository manages evaluations and the derived rating snapshots.
type EvaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository constructs an EvaluationRepository.
func NewEvaluationRepository(db *sqlx.DB) *EvaluationRepository {
	return &EvaluationRepository{db: db}
}

// ExistsForAuthor reports whether the author already evaluated the intervention.
func (r *EvaluationRepository) ExistsForAuthor(ctx context.Context, interventionID, authorID string) (bool, error) {
	const query = `SELECT 1 FROM evaluations WHERE intervention_id = $1 AND author_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, interventionID, authorID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check evaluation exists: %w", err)
	}
	return true, nil
}

// Create inserts a new evaluation. The unique (intervention_id, author_id)
// constraint backs the duplicate check under concurrency: created reports
// whether this call actually inserted the row.
func (r *EvaluationRepository) Create(ctx context.Context, evaluation *models.Evaluation) (bool, error) {
	if evaluation.ID == "" {
		evaluation.ID = uuid.NewString()
	}
	if evaluation.CreatedAt.IsZero() {
		evaluation.CreatedAt = time.Now().UTC()
	}

	const query = `INSERT INTO evaluations (id, intervention_id, author_id, technician_id, score, comment, created_at)
		VALUES (:id, :intervention_id, :author_id, :technician_id, :score, :comment, :created_at)
		ON CONFLICT (intervention_id, author_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, evaluation)
	if err != nil {
		return false, fmt.Errorf("create evaluation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create evaluation rows: %w", err)
	}
	return affected == 1, nil
}

// ListByTechnician returns a technician's evaluations, newest first.
func (r *EvaluationRepository) ListByTechnician(ctx context.Context, technicianID string) ([]models.Evaluation, error) {
	const query = `SELECT id, intervention_id, author_id, technician_id, score, comment, created_at
		FROM evaluations WHERE technician_id = $1 ORDER BY created_at DESC`
	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, query, technicianID); err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return evaluations, nil
}

// ApplyScore folds one score into the technician's running snapshot as a
// single atomic statement, so concurrent evaluations for the same
// technician never lose updates.
func (r *EvaluationRepository) ApplyScore(ctx context.Context, technicianID string, score int) (*models.TechnicianRatingSnapshot, error) {
	const query = `INSERT INTO technician_ratings (technician_id, mean_score, sample_count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (technician_id) DO UPDATE SET
			mean_score = technician_ratings.mean_score + ($2 - technician_ratings.mean_score) / (technician_ratings.sample_count + 1),
			sample_count = technician_ratings.sample_count + 1,
			updated_at = $3
		RETURNING technician_id, mean_score, sample_count, updated_at`
	var snapshot models.TechnicianRatingSnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, technicianID, float64(score), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("apply evaluation score: %w", err)
	}
	return &snapshot, nil
}

// SnapshotFor reads the cached running rating for a technician.
func (r *EvaluationRepository) SnapshotFor(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error) {
	const query = `SELECT technician_id, mean_score, sample_count, updated_at FROM technician_ratings WHERE technician_id = $1`
	var snapshot models.TechnicianRatingSnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, technicianID); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// SnapshotsFor reads the running ratings for a set of technicians.
func (r *EvaluationRepository) SnapshotsFor(ctx context.Context, technicianIDs []string) (map[string]models.TechnicianRatingSnapshot, error) {
	if len(technicianIDs) == 0 {
		return map[string]models.TechnicianRatingSnapshot{}, nil
	}
	query, args, err := sqlx.In(`SELECT technician_id, mean_score, sample_count, updated_at FROM technician_ratings WHERE technician_id IN (?)`, technicianIDs)
	if err != nil {
		return nil, fmt.Errorf("build snapshots query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []models.TechnicianRatingSnapshot
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("load rating snapshots: %w", err)
	}

	snapshots := make(map[string]models.TechnicianRatingSnapshot, len(rows))
	for _, row := range rows {
		snapshots[row.TechnicianID] = row
	}
	return snapshots, nil
}

// Recompute rebuilds the snapshot from the authoritative evaluation set.
// The running snapshot must never diverge from this beyond the declared
// staleness window.
func (r *EvaluationRepository) Recompute(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error) {
	const query = `INSERT INTO technician_ratings (technician_id, mean_score, sample_count, updated_at)
		SELECT $1, COALESCE(AVG(score), 0), COUNT(*), $2 FROM evaluations WHERE technician_id = $1
		ON CONFLICT (technician_id) DO UPDATE SET
			mean_score = EXCLUDED.mean_score,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at
		RETURNING technician_id, mean_score, sample_count, updated_at`
	var snapshot models.TechnicianRatingSnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, technicianID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("recompute rating snapshot: %w", err)
	}
	return &snapshot, nil
}
