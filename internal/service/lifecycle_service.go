package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

type interventionStore interface {
	Create(ctx context.Context, intervention *models.Intervention) error
	FindByID(ctx context.Context, id string) (*models.Intervention, error)
	List(ctx context.Context, filter models.InterventionFilter) ([]models.Intervention, int, error)
	AdvanceStatus(ctx context.Context, id string, from, to models.InterventionStatus, technicianID string) (bool, error)
	RefusePending(ctx context.Context, id string, reason models.RefusalReason) (bool, error)
	RefuseAssigned(ctx context.Context, id string, reason models.RefusalReason) (bool, error)
}

// notificationDispatcher emits lifecycle events. Dispatch is fire-and-forget:
// a failed notification never fails the transition that triggered it.
type notificationDispatcher interface {
	Dispatch(ctx context.Context, recipientID, interventionID string, payload models.NotificationPayload)
}

// CreateInterventionRequest is the client payload for a new request.
type CreateInterventionRequest struct {
	Kind        models.InterventionKind `json:"kind" validate:"required"`
	Domain      string                  `json:"domain" validate:"required,max=100"`
	Equipment   *string                 `json:"equipment" validate:"omitempty,max=200"`
	Address     string                  `json:"address" validate:"required,max=300"`
	Zone        string                  `json:"zone" validate:"required,max=20"`
	DesiredDate time.Time               `json:"desired_date" validate:"required"`
	Urgent      bool                    `json:"urgent"`
	Description *string                 `json:"description" validate:"omitempty,max=2000"`
}

// LifecycleService is the sole writer of intervention status. Every legal
// transition goes through here; the pending -> accepted edge is delegated
// to the ArbiterService, which shares the same guarded store.
type LifecycleService struct {
	repo      interventionStore
	notifier  notificationDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLifecycleService constructs a LifecycleService.
func NewLifecycleService(repo interventionStore, notifier notificationDispatcher, validate *validator.Validate, logger *zap.Logger) *LifecycleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleService{repo: repo, notifier: notifier, validator: validate, logger: logger}
}

// Create registers a new request in pending state.
func (s *LifecycleService) Create(ctx context.Context, clientID string, req CreateInterventionRequest) (*models.Intervention, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid intervention payload")
	}
	if !models.ValidKind(req.Kind) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown intervention kind %q", req.Kind))
	}

	intervention := &models.Intervention{
		ClientID:    clientID,
		Kind:        req.Kind,
		Domain:      strings.TrimSpace(req.Domain),
		Equipment:   normalizeOptional(req.Equipment),
		Address:     strings.TrimSpace(req.Address),
		Zone:        strings.TrimSpace(req.Zone),
		DesiredDate: req.DesiredDate,
		Urgent:      req.Urgent,
		Description: normalizeOptional(req.Description),
		Status:      models.StatusPending,
	}

	if err := s.repo.Create(ctx, intervention); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create intervention")
	}
	s.logger.Info("intervention created",
		zap.String("intervention_id", intervention.ID),
		zap.String("client_id", clientID),
		zap.Bool("urgent", intervention.Urgent),
	)
	return intervention, nil
}

// Get returns an intervention visible to the caller.
func (s *LifecycleService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.Intervention, error) {
	intervention, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(intervention, claims) {
		return nil, appErrors.ErrForbidden
	}
	return intervention, nil
}

// List returns interventions scoped to the caller's role.
func (s *LifecycleService) List(ctx context.Context, filter models.InterventionFilter, claims *models.JWTClaims) ([]models.Intervention, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleClient:
		filter.ClientID = claims.UserID
	case models.RoleTechnician:
		filter.TechnicianID = claims.UserID
	}

	interventions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list interventions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return interventions, pagination, nil
}

// Start marks the intervention as in progress. Only the assigned technician
// may start it.
func (s *LifecycleService) Start(ctx context.Context, id, callerID string) (*models.Intervention, error) {
	return s.advance(ctx, id, callerID, models.StatusAccepted, models.StatusInProgress)
}

// Complete marks the intervention as completed and informs the client.
func (s *LifecycleService) Complete(ctx context.Context, id, callerID string) (*models.Intervention, error) {
	intervention, err := s.advance(ctx, id, callerID, models.StatusInProgress, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Dispatch(ctx, intervention.ClientID, intervention.ID, models.CompletedPayload{TechnicianName: callerID})
	}
	return intervention, nil
}

// Cancel terminates a request. Clients may cancel their own pending
// requests; administrators may additionally override accepted or
// in-progress records, which is logged distinctly from organic refusals.
func (s *LifecycleService) Cancel(ctx context.Context, id string, claims *models.JWTClaims) (*models.Intervention, error) {
	intervention, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch intervention.Status {
	case models.StatusPending:
		if claims.Role == models.RoleClient && intervention.ClientID != claims.UserID {
			return nil, appErrors.ErrForbidden
		}
		if claims.Role == models.RoleTechnician {
			return nil, appErrors.ErrForbidden
		}
		committed, err := s.repo.RefusePending(ctx, id, models.RefusalCancelled)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel intervention")
		}
		if !committed {
			// Lost the race against an accept; report against fresh state.
			return nil, s.illegalTransition(ctx, id, models.StatusRefused)
		}
	case models.StatusAccepted, models.StatusInProgress:
		if claims.Role != models.RoleAdmin {
			return nil, appErrors.ErrForbidden
		}
		committed, err := s.repo.RefuseAssigned(ctx, id, models.RefusalAdmin)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel intervention")
		}
		if !committed {
			return nil, s.illegalTransition(ctx, id, models.StatusRefused)
		}
		s.logger.Warn("administrative override refused an assigned intervention",
			zap.String("intervention_id", id),
			zap.String("admin_id", claims.UserID),
			zap.String("previous_status", string(intervention.Status)),
		)
	default:
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition,
			fmt.Sprintf("cannot transition from %s to %s", intervention.Status, models.StatusRefused))
	}

	if s.notifier != nil {
		reason := models.RefusalCancelled
		if claims.Role == models.RoleAdmin && intervention.Status != models.StatusPending {
			reason = models.RefusalAdmin
		}
		s.notifier.Dispatch(ctx, intervention.ClientID, id, models.RefusedPayload{Reason: reason})
	}

	return s.load(ctx, id)
}

func (s *LifecycleService) advance(ctx context.Context, id, callerID string, from, to models.InterventionStatus) (*models.Intervention, error) {
	intervention, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if intervention.TechnicianID == nil || *intervention.TechnicianID != callerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned technician may advance this intervention")
	}
	if intervention.Status != from {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition,
			fmt.Sprintf("cannot transition from %s to %s", intervention.Status, to))
	}

	committed, err := s.repo.AdvanceStatus(ctx, id, from, to, callerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance intervention")
	}
	if !committed {
		return nil, s.illegalTransition(ctx, id, to)
	}

	s.logger.Info("intervention status advanced",
		zap.String("intervention_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("technician_id", callerID),
	)
	return s.load(ctx, id)
}

func (s *LifecycleService) load(ctx context.Context, id string) (*models.Intervention, error) {
	intervention, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intervention not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intervention")
	}
	return intervention, nil
}

// illegalTransition builds the error naming current and requested states
// after a guarded write found the record changed underneath it.
func (s *LifecycleService) illegalTransition(ctx context.Context, id string, requested models.InterventionStatus) error {
	current := models.InterventionStatus("unknown")
	if fresh, err := s.repo.FindByID(ctx, id); err == nil {
		current = fresh.Status
	}
	return appErrors.Clone(appErrors.ErrIllegalTransition,
		fmt.Sprintf("cannot transition from %s to %s", current, requested))
}

func canView(intervention *models.Intervention, claims *models.JWTClaims) bool {
	switch claims.Role {
	case models.RoleAdmin:
		return true
	case models.RoleClient:
		return intervention.ClientID == claims.UserID
	case models.RoleTechnician:
		if intervention.TechnicianID != nil && *intervention.TechnicianID == claims.UserID {
			return true
		}
		// Candidates may inspect still-open requests.
		return intervention.Status == models.StatusPending
	}
	return false
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
