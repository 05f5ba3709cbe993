package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

type evaluationStore interface {
	ExistsForAuthor(ctx context.Context, interventionID, authorID string) (bool, error)
	Create(ctx context.Context, evaluation *models.Evaluation) (bool, error)
	ListByTechnician(ctx context.Context, technicianID string) ([]models.Evaluation, error)
	ApplyScore(ctx context.Context, technicianID string, score int) (*models.TechnicianRatingSnapshot, error)
	SnapshotFor(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error)
	Recompute(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error)
}

type interventionReader interface {
	FindByID(ctx context.Context, id string) (*models.Intervention, error)
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RecordEvaluationRequest is the client payload for rating completed work.
type RecordEvaluationRequest struct {
	InterventionID string  `json:"intervention_id" validate:"required,uuid4"`
	Score          int     `json:"score" validate:"min=0,max=10"`
	Comment        *string `json:"comment" validate:"omitempty,max=2000"`
}

// RatingService accepts evaluations for completed interventions and keeps
// each technician's running rating snapshot current. Snapshots are cached in
// Redis for the declared staleness window and invalidated on writes.
type RatingService struct {
	evaluations   evaluationStore
	interventions interventionReader
	cache         snapshotCache
	validator     *validator.Validate
	logger        *zap.Logger
	cacheTTL      time.Duration
}

// NewRatingService constructs a RatingService.
func NewRatingService(evaluations evaluationStore, interventions interventionReader, cache snapshotCache, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *RatingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &RatingService{
		evaluations:   evaluations,
		interventions: interventions,
		cache:         cache,
		validator:     validate,
		logger:        logger,
		cacheTTL:      cacheTTL,
	}
}

func ratingCacheKey(technicianID string) string {
	return fmt.Sprintf("rating:%s", technicianID)
}

// RecordEvaluation stores the author's score for a completed intervention
// and folds it into the technician's snapshot. Only the requesting client
// may evaluate, only once, and only after completion.
func (s *RatingService) RecordEvaluation(ctx context.Context, authorID string, req RecordEvaluationRequest) (*models.Evaluation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid evaluation payload")
	}

	intervention, err := s.interventions.FindByID(ctx, req.InterventionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intervention not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intervention")
	}
	if intervention.ClientID != authorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the requesting client may evaluate this intervention")
	}
	if intervention.Status != models.StatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("cannot evaluate an intervention in status %s", intervention.Status))
	}
	if intervention.TechnicianID == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "intervention has no assigned technician")
	}

	exists, err := s.evaluations.ExistsForAuthor(ctx, req.InterventionID, authorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing evaluation")
	}
	if exists {
		return nil, appErrors.ErrDuplicateEvaluation
	}

	evaluation := &models.Evaluation{
		InterventionID: req.InterventionID,
		AuthorID:       authorID,
		TechnicianID:   *intervention.TechnicianID,
		Score:          req.Score,
		Comment:        normalizeOptional(req.Comment),
	}
	created, err := s.evaluations.Create(ctx, evaluation)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation")
	}
	if !created {
		// Lost a duplicate race; the constraint kept the first one.
		return nil, appErrors.ErrDuplicateEvaluation
	}

	snapshot, err := s.evaluations.ApplyScore(ctx, evaluation.TechnicianID, evaluation.Score)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update rating snapshot")
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, ratingCacheKey(evaluation.TechnicianID)); err != nil {
			s.logger.Warn("failed to invalidate rating cache", zap.String("technician_id", evaluation.TechnicianID), zap.Error(err))
		}
	}

	s.logger.Info("evaluation recorded",
		zap.String("intervention_id", evaluation.InterventionID),
		zap.String("technician_id", evaluation.TechnicianID),
		zap.Int("score", evaluation.Score),
		zap.Float64("mean_score", snapshot.MeanScore),
		zap.Int("sample_count", snapshot.SampleCount),
	)
	return evaluation, nil
}

// SnapshotFor returns the technician's running rating, via cache when warm.
// A technician with no evaluations gets a zero-valued snapshot.
func (s *RatingService) SnapshotFor(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error) {
	if s.cache != nil {
		var cached models.TechnicianRatingSnapshot
		if err := s.cache.Get(ctx, ratingCacheKey(technicianID), &cached); err == nil {
			return &cached, nil
		} else if !appErrors.HasCode(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("rating cache read failed", zap.String("technician_id", technicianID), zap.Error(err))
		}
	}

	snapshot, err := s.evaluations.SnapshotFor(ctx, technicianID)
	if err != nil {
		if err == sql.ErrNoRows {
			snapshot = &models.TechnicianRatingSnapshot{TechnicianID: technicianID}
		} else {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rating snapshot")
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, ratingCacheKey(technicianID), snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("rating cache write failed", zap.String("technician_id", technicianID), zap.Error(err))
		}
	}
	return snapshot, nil
}

// ListEvaluations returns a technician's evaluations, newest first.
func (s *RatingService) ListEvaluations(ctx context.Context, technicianID string) ([]models.Evaluation, error) {
	evaluations, err := s.evaluations.ListByTechnician(ctx, technicianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluations")
	}
	if evaluations == nil {
		evaluations = []models.Evaluation{}
	}
	return evaluations, nil
}

// Recompute rebuilds the snapshot from the full evaluation set and refreshes
// the cache. Administrative repair path for drift.
func (s *RatingService) Recompute(ctx context.Context, technicianID string) (*models.TechnicianRatingSnapshot, error) {
	snapshot, err := s.evaluations.Recompute(ctx, technicianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to recompute rating snapshot")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, ratingCacheKey(technicianID), snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("rating cache write failed", zap.String("technician_id", technicianID), zap.Error(err))
		}
	}
	return snapshot, nil
}
