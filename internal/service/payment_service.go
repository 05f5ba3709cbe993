package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

type paymentStore interface {
	FindByIntervention(ctx context.Context, interventionID string) (*models.Payment, error)
	Upsert(ctx context.Context, payment *models.Payment) error
}

// RecordPaymentRequest is the payload for recording a payment state.
type RecordPaymentRequest struct {
	Amount float64              `json:"amount" validate:"required,gt=0"`
	Method models.PaymentMethod `json:"method" validate:"required,oneof=card transfer"`
	Status models.PaymentStatus `json:"status" validate:"required,oneof=pending paid failed"`
}

// PaymentService tracks billing state per intervention. One payment record
// per request; re-recording updates it in place.
type PaymentService struct {
	payments      paymentStore
	interventions interventionReader
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewPaymentService constructs a PaymentService.
func NewPaymentService(payments paymentStore, interventions interventionReader, validate *validator.Validate, logger *zap.Logger) *PaymentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{payments: payments, interventions: interventions, validator: validate, logger: logger}
}

// Get returns the payment record for an intervention visible to the caller.
func (s *PaymentService) Get(ctx context.Context, interventionID string, claims *models.JWTClaims) (*models.Payment, error) {
	intervention, err := s.loadIntervention(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	if !canView(intervention, claims) {
		return nil, appErrors.ErrForbidden
	}

	payment, err := s.payments.FindByIntervention(ctx, interventionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no payment recorded for this intervention")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return payment, nil
}

// Record stores the payment state for a completed intervention. Only the
// requesting client or an administrator may record it.
func (s *PaymentService) Record(ctx context.Context, interventionID string, claims *models.JWTClaims, req RecordPaymentRequest) (*models.Payment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payment payload")
	}

	intervention, err := s.loadIntervention(ctx, interventionID)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin && intervention.ClientID != claims.UserID {
		return nil, appErrors.ErrForbidden
	}
	if intervention.Status != models.StatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "payments can only be recorded for completed interventions")
	}

	method := req.Method
	payment := &models.Payment{
		InterventionID: interventionID,
		Amount:         req.Amount,
		Method:         &method,
		Status:         req.Status,
	}
	if req.Status == models.PaymentPaid {
		now := time.Now().UTC()
		payment.PaidAt = &now
	}
	if err := s.payments.Upsert(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	s.logger.Info("payment recorded",
		zap.String("intervention_id", interventionID),
		zap.String("status", string(payment.Status)),
		zap.String("method", string(method)),
	)
	return payment, nil
}

func (s *PaymentService) loadIntervention(ctx context.Context, id string) (*models.Intervention, error) {
	intervention, err := s.interventions.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intervention not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intervention")
	}
	return intervention, nil
}
