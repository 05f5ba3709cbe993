package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rofex/intervention-api/internal/models"
)

// PaymentRepository records payment status per intervention.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs a PaymentRepository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByIntervention fetches the payment record for an intervention.
func (r *PaymentRepository) FindByIntervention(ctx context.Context, interventionID string) (*models.Payment, error) {
	const query = `SELECT id, intervention_id, amount, method, status, paid_at, created_at, updated_at
		FROM payments WHERE intervention_id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, interventionID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Upsert records the payment state for an intervention, one row per request.
func (r *PaymentRepository) Upsert(ctx context.Context, payment *models.Payment) error {
	now := time.Now().UTC()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (id, intervention_id, amount, method, status, paid_at, created_at, updated_at)
		VALUES (:id, :intervention_id, :amount, :method, :status, :paid_at, :created_at, :updated_at)
		ON CONFLICT (intervention_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			method = EXCLUDED.method,
			status = EXCLUDED.status,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}
