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

type availabilityStore interface {
	ListByTechnician(ctx context.Context, technicianID string) ([]models.AvailabilityWindow, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilityWindow, error)
	HasOverlap(ctx context.Context, window *models.AvailabilityWindow) (bool, error)
	Upsert(ctx context.Context, window *models.AvailabilityWindow) error
	Delete(ctx context.Context, id, technicianID string) error
}

// UpsertWindowRequest is the technician payload for declaring a window.
type UpsertWindowRequest struct {
	ID        string     `json:"id" validate:"omitempty,uuid4"`
	Weekday   int        `json:"weekday" validate:"min=0,max=6"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	StartTime string     `json:"start_time" validate:"required"`
	EndTime   string     `json:"end_time" validate:"required"`
	Zone      string     `json:"zone" validate:"required,max=20"`
	Open      bool       `json:"open"`
}

// AvailabilityService owns the availability ledger: each technician's
// declared weekly windows, kept free of intra-zone overlaps.
type AvailabilityService struct {
	repo      availabilityStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(repo availabilityStore, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{repo: repo, validator: validate, logger: logger}
}

// WindowsFor returns a technician's declared windows.
func (s *AvailabilityService) WindowsFor(ctx context.Context, technicianID string) ([]models.AvailabilityWindow, error) {
	windows, err := s.repo.ListByTechnician(ctx, technicianID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability windows")
	}
	if windows == nil {
		windows = []models.AvailabilityWindow{}
	}
	return windows, nil
}

// UpsertWindow creates or updates a window owned by the technician. A window
// overlapping an existing one for the same weekday and zone is rejected;
// identical clock ranges in different zones are allowed.
func (s *AvailabilityService) UpsertWindow(ctx context.Context, technicianID string, req UpsertWindowRequest) (*models.AvailabilityWindow, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability window")
	}

	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	end, err := models.ParseClock(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if start >= end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateTo.Before(*req.DateFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date_to must not precede date_from")
	}

	window := &models.AvailabilityWindow{
		ID:           req.ID,
		TechnicianID: technicianID,
		Weekday:      req.Weekday,
		DateFrom:     req.DateFrom,
		DateTo:       req.DateTo,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Zone:         req.Zone,
		Open:         req.Open,
	}

	if req.ID != "" {
		existing, err := s.repo.FindByID(ctx, req.ID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability window")
		}
		if existing.TechnicianID != technicianID {
			return nil, appErrors.ErrForbidden
		}
	}

	overlaps, err := s.repo.HasOverlap(ctx, window)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check window overlap")
	}
	if overlaps {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("window overlaps an existing one on weekday %d in zone %s", window.Weekday, window.Zone))
	}

	if err := s.repo.Upsert(ctx, window); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save availability window")
	}
	s.logger.Info("availability window saved",
		zap.String("window_id", window.ID),
		zap.String("technician_id", technicianID),
		zap.Int("weekday", window.Weekday),
		zap.String("zone", window.Zone),
	)
	return window, nil
}

// DeleteWindow removes a window owned by the technician.
func (s *AvailabilityService) DeleteWindow(ctx context.Context, id, technicianID string) error {
	window, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "availability window not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability window")
	}
	if window.TechnicianID != technicianID {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id, technicianID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete availability window")
	}
	return nil
}

// IsAvailable reports whether any open window covers the zone and instant.
// A technician with no windows at all is treated as unavailable.
func (s *AvailabilityService) IsAvailable(ctx context.Context, technicianID, zone string, at time.Time) (bool, error) {
	windows, err := s.repo.ListByTechnician(ctx, technicianID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list availability windows")
	}
	minute := at.Hour()*60 + at.Minute()
	weekday := int(at.Weekday())
	for _, w := range windows {
		if !w.Open {
			continue
		}
		if w.Weekday != weekday {
			continue
		}
		if !w.MatchesZone(zone) {
			continue
		}
		if !w.CoversDate(at) {
			continue
		}
		if w.ContainsClock(minute) {
			return true, nil
		}
	}
	return false, nil
}
