package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

// ReasonAlreadyAssigned labels the expected losing outcome of the accept race.
const ReasonAlreadyAssigned = "AlreadyAssigned"

type arbiterStore interface {
	FindByID(ctx context.Context, id string) (*models.Intervention, error)
	AcceptPending(ctx context.Context, id, technicianID string) (bool, error)
	RefusePending(ctx context.Context, id string, reason models.RefusalReason) (bool, error)
	RecordResponse(ctx context.Context, interventionID, technicianID string, decision models.ResponseDecision) error
	AllCandidatesDeclined(ctx context.Context, interventionID string) (bool, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Intervention, error)
}

type assignmentMetrics interface {
	IncAssignmentResponse(decision, outcome string)
}

// ArbiterService resolves concurrent technician responses to a pending
// request. The at-most-one-assignment guarantee rests entirely on the
// store's conditional write, never on in-process locking: multiple service
// instances race through the same guard.
type ArbiterService struct {
	repo     arbiterStore
	notifier notificationDispatcher
	metrics  assignmentMetrics
	logger   *zap.Logger

	gracePeriod   time.Duration
	sweepInterval time.Duration
}

// NewArbiterService constructs an ArbiterService.
func NewArbiterService(repo arbiterStore, notifier notificationDispatcher, metrics assignmentMetrics, logger *zap.Logger, gracePeriod, sweepInterval time.Duration) *ArbiterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gracePeriod <= 0 {
		gracePeriod = 48 * time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}
	return &ArbiterService{
		repo:          repo,
		notifier:      notifier,
		metrics:       metrics,
		logger:        logger,
		gracePeriod:   gracePeriod,
		sweepInterval: sweepInterval,
	}
}

// Respond processes a technician's accept or decline for a request.
// First accept wins; every other concurrent accepter gets Won=false with
// reason AlreadyAssigned and no state is mutated on their behalf.
func (s *ArbiterService) Respond(ctx context.Context, interventionID, technicianID string, decision models.ResponseDecision) (*models.AssignmentResult, error) {
	intervention, err := s.repo.FindByID(ctx, interventionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intervention not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intervention")
	}

	switch decision {
	case models.DecisionAccept:
		return s.accept(ctx, intervention, technicianID)
	case models.DecisionDecline:
		return s.decline(ctx, intervention, technicianID)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown decision %q", decision))
	}
}

func (s *ArbiterService) accept(ctx context.Context, intervention *models.Intervention, technicianID string) (*models.AssignmentResult, error) {
	if intervention.Status != models.StatusPending {
		s.observe(models.DecisionAccept, "invalid_state")
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot accept an intervention in status %s", intervention.Status))
	}

	if err := s.repo.RecordResponse(ctx, intervention.ID, technicianID, models.DecisionAccept); err != nil {
		s.logger.Warn("failed to record accept response", zap.String("intervention_id", intervention.ID), zap.Error(err))
	}

	won, err := s.repo.AcceptPending(ctx, intervention.ID, technicianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assignment")
	}

	if won {
		s.observe(models.DecisionAccept, "won")
		s.logger.Info("intervention assigned",
			zap.String("intervention_id", intervention.ID),
			zap.String("technician_id", technicianID),
		)
		if s.notifier != nil {
			s.notifier.Dispatch(ctx, intervention.ClientID, intervention.ID, models.AcceptedPayload{TechnicianName: technicianID})
		}
		return &models.AssignmentResult{
			InterventionID: intervention.ID,
			TechnicianID:   technicianID,
			Decision:       models.DecisionAccept,
			Won:            true,
			Status:         models.StatusAccepted,
		}, nil
	}

	// The guard failed at commit time: someone else won, or a cancellation
	// landed first. Report against the fresh state without mutating it.
	fresh, err := s.repo.FindByID(ctx, intervention.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload intervention")
	}
	if fresh.Status == models.StatusAccepted || fresh.Status == models.StatusInProgress || fresh.Status == models.StatusCompleted {
		s.observe(models.DecisionAccept, "lost")
		return &models.AssignmentResult{
			InterventionID: intervention.ID,
			TechnicianID:   technicianID,
			Decision:       models.DecisionAccept,
			Won:            false,
			Reason:         ReasonAlreadyAssigned,
			Status:         fresh.Status,
		}, nil
	}
	s.observe(models.DecisionAccept, "invalid_state")
	return nil, appErrors.Clone(appErrors.ErrInvalidState,
		fmt.Sprintf("cannot accept an intervention in status %s", fresh.Status))
}

func (s *ArbiterService) decline(ctx context.Context, intervention *models.Intervention, technicianID string) (*models.AssignmentResult, error) {
	result := &models.AssignmentResult{
		InterventionID: intervention.ID,
		TechnicianID:   technicianID,
		Decision:       models.DecisionDecline,
		Won:            false,
		Status:         intervention.Status,
	}

	// Declining a settled request is an idempotent no-op.
	if intervention.Status != models.StatusPending {
		s.observe(models.DecisionDecline, "noop")
		return result, nil
	}

	if err := s.repo.RecordResponse(ctx, intervention.ID, technicianID, models.DecisionDecline); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decline")
	}
	s.observe(models.DecisionDecline, "recorded")

	exhausted, err := s.repo.AllCandidatesDeclined(ctx, intervention.ID)
	if err != nil {
		s.logger.Warn("failed to check candidate exhaustion", zap.String("intervention_id", intervention.ID), zap.Error(err))
		return result, nil
	}
	if exhausted {
		committed, err := s.repo.RefusePending(ctx, intervention.ID, models.RefusalDeclined)
		if err != nil {
			s.logger.Warn("failed to refuse exhausted intervention", zap.String("intervention_id", intervention.ID), zap.Error(err))
			return result, nil
		}
		if committed {
			result.Status = models.StatusRefused
			s.logger.Info("intervention refused after all candidates declined", zap.String("intervention_id", intervention.ID))
			if s.notifier != nil {
				s.notifier.Dispatch(ctx, intervention.ClientID, intervention.ID, models.RefusedPayload{Reason: models.RefusalDeclined})
			}
		}
	}
	return result, nil
}

// StartSweeper launches the grace-period sweeper. Pending requests older
// than the grace period are refused with reason expired; the pending-only
// guard keeps concurrent sweepers and late accepts consistent.
func (s *ArbiterService) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepExpired(ctx)
			}
		}
	}()
	s.logger.Sugar().Infow("pending-request sweeper started",
		"grace_period", s.gracePeriod.String(),
		"sweep_interval", s.sweepInterval.String(),
	)
}

func (s *ArbiterService) sweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.gracePeriod)
	expired, err := s.repo.ListExpiredPending(ctx, cutoff)
	if err != nil {
		s.logger.Warn("sweep: failed to list expired interventions", zap.Error(err))
		return
	}
	for _, intervention := range expired {
		committed, err := s.repo.RefusePending(ctx, intervention.ID, models.RefusalExpired)
		if err != nil {
			s.logger.Warn("sweep: failed to refuse intervention", zap.String("intervention_id", intervention.ID), zap.Error(err))
			continue
		}
		if committed {
			s.logger.Info("intervention expired without response", zap.String("intervention_id", intervention.ID))
			if s.notifier != nil {
				s.notifier.Dispatch(ctx, intervention.ClientID, intervention.ID, models.RefusedPayload{Reason: models.RefusalExpired})
			}
		}
	}
}

func (s *ArbiterService) observe(decision models.ResponseDecision, outcome string) {
	if s.metrics != nil {
		s.metrics.IncAssignmentResponse(string(decision), outcome)
	}
}
