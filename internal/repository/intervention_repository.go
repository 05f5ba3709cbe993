package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rofex/intervention-api/internal/models"
)

const interventionColumns = "id, client_id, technician_id, kind, domain, equipment, address, zone, desired_date, urgent, description, status, refusal_reason, report_url, created_at, updated_at"

// InterventionRepository manages persistence for intervention requests.
type InterventionRepository struct {
	db *sqlx.DB
}

// NewInterventionRepository constructs an InterventionRepository.
func NewInterventionRepository(db *sqlx.DB) *InterventionRepository {
	return &InterventionRepository{db: db}
}

// Create inserts a new intervention record.
func (r *InterventionRepository) Create(ctx context.Context, intervention *models.Intervention) error {
	if intervention.ID == "" {
		intervention.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if intervention.CreatedAt.IsZero() {
		intervention.CreatedAt = now
	}
	intervention.UpdatedAt = now

	const query = `INSERT INTO interventions (id, client_id, technician_id, kind, domain, equipment, address, zone, desired_date, urgent, description, status, refusal_reason, report_url, created_at, updated_at)
		VALUES (:id, :client_id, :technician_id, :kind, :domain, :equipment, :address, :zone, :desired_date, :urgent, :description, :status, :refusal_reason, :report_url, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, intervention); err != nil {
		return fmt.Errorf("create intervention: %w", err)
	}
	return nil
}

// FindByID fetches an intervention by ID.
func (r *InterventionRepository) FindByID(ctx context.Context, id string) (*models.Intervention, error) {
	query := fmt.Sprintf("SELECT %s FROM interventions WHERE id = $1", interventionColumns)
	var intervention models.Intervention
	if err := r.db.GetContext(ctx, &intervention, query, id); err != nil {
		return nil, err
	}
	return &intervention, nil
}

// List returns interventions matching filters along with total count.
func (r *InterventionRepository) List(ctx context.Context, filter models.InterventionFilter) ([]models.Intervention, int, error) {
	base := "FROM interventions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ClientID != "" {
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)+1))
		args = append(args, filter.ClientID)
	}
	if filter.TechnicianID != "" {
		conditions = append(conditions, fmt.Sprintf("technician_id = $%d", len(args)+1))
		args = append(args, filter.TechnicianID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Urgent != nil {
		conditions = append(conditions, fmt.Sprintf("urgent = $%d", len(args)+1))
		args = append(args, *filter.Urgent)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"desired_date": "desired_date",
		"created_at":   "created_at",
		"updated_at":   "updated_at",
		"status":       "status",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", interventionColumns, base, column, order, size, offset)
	var interventions []models.Intervention
	if err := r.db.SelectContext(ctx, &interventions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list interventions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count interventions: %w", err)
	}

	return interventions, total, nil
}

// AcceptPending binds a technician to a request with a single conditional
// write. The update commits only while the row is still pending and
// unassigned, so exactly one of any number of concurrent accepts can
// succeed, across all service instances.
func (r *InterventionRepository) AcceptPending(ctx context.Context, id, technicianID string) (bool, error) {
	const query = `UPDATE interventions
		SET status = 'accepted', technician_id = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND technician_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, technicianID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("accept intervention: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept intervention rows: %w", err)
	}
	return affected == 1, nil
}

// AdvanceStatus moves a record along one execution edge, guarded by the
// expected current status and the assigned technician. Returns false when
// the guard no longer holds at commit time.
func (r *InterventionRepository) AdvanceStatus(ctx context.Context, id string, from, to models.InterventionStatus, technicianID string) (bool, error) {
	const query = `UPDATE interventions
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2 AND technician_id = $5`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC(), technicianID)
	if err != nil {
		return false, fmt.Errorf("advance intervention status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance intervention rows: %w", err)
	}
	return affected == 1, nil
}

// RefusePending terminates a still-pending, unassigned request. Shares the
// arbiter's guard so cancellations racing an in-flight accept resolve
// through the same conditional write.
func (r *InterventionRepository) RefusePending(ctx context.Context, id string, reason models.RefusalReason) (bool, error) {
	const query = `UPDATE interventions
		SET status = 'refused', refusal_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending' AND technician_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("refuse intervention: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refuse intervention rows: %w", err)
	}
	return affected == 1, nil
}

// RefuseAssigned applies the administrative override on an accepted or
// in-progress record.
func (r *InterventionRepository) RefuseAssigned(ctx context.Context, id string, reason models.RefusalReason) (bool, error) {
	const query = `UPDATE interventions
		SET status = 'refused', refusal_reason = $2, updated_at = $3
		WHERE id = $1 AND status IN ('accepted', 'in_progress')`
	res, err := r.db.ExecContext(ctx, query, id, reason, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("refuse assigned intervention: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refuse assigned intervention rows: %w", err)
	}
	return affected == 1, nil
}

// RecordResponse stores a technician's answer for analytics. Idempotent per
// (intervention, technician) pair.
func (r *InterventionRepository) RecordResponse(ctx context.Context, interventionID, technicianID string, decision models.ResponseDecision) error {
	const query = `INSERT INTO intervention_responses (id, intervention_id, technician_id, decision, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (intervention_id, technician_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), interventionID, technicianID, decision, time.Now().UTC()); err != nil {
		return fmt.Errorf("record intervention response: %w", err)
	}
	return nil
}

// AllCandidatesDeclined reports whether every technician notified of the
// request has declined it. False when nobody was notified yet.
func (r *InterventionRepository) AllCandidatesDeclined(ctx context.Context, interventionID string) (bool, error) {
	const query = `SELECT
		EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.intervention_id = $1 AND n.kind = 'new_request'
		)
		AND NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.intervention_id = $1 AND n.kind = 'new_request'
			AND NOT EXISTS (
				SELECT 1 FROM intervention_responses r
				WHERE r.intervention_id = n.intervention_id
				AND r.technician_id = n.user_id
				AND r.decision = 'decline'
			)
		)`
	var exhausted bool
	if err := r.db.GetContext(ctx, &exhausted, query, interventionID); err != nil {
		return false, fmt.Errorf("check declined candidates: %w", err)
	}
	return exhausted, nil
}

// ListExpiredPending returns pending requests created before the cutoff.
func (r *InterventionRepository) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Intervention, error) {
	query := fmt.Sprintf("SELECT %s FROM interventions WHERE status = 'pending' AND created_at < $1 ORDER BY created_at ASC", interventionColumns)
	var interventions []models.Intervention
	if err := r.db.SelectContext(ctx, &interventions, query, cutoff); err != nil {
		return nil, fmt.Errorf("list expired pending interventions: %w", err)
	}
	return interventions, nil
}
