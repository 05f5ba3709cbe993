package service

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

type technicianStore interface {
	FindByID(ctx context.Context, userID string) (*models.TechnicianProfile, error)
	List(ctx context.Context, filter models.TechnicianFilter) ([]models.TechnicianProfile, int, error)
	ListByDomain(ctx context.Context, domain string) ([]models.TechnicianProfile, error)
}

type ratingReader interface {
	SnapshotsFor(ctx context.Context, technicianIDs []string) (map[string]models.TechnicianRatingSnapshot, error)
}

type availabilityChecker interface {
	IsAvailable(ctx context.Context, technicianID, zone string, at time.Time) (bool, error)
}

type candidateMetrics interface {
	ObserveCandidatePool(size int)
}

// MatchingService derives the ranked candidate set for a pending request.
// Matching is a pure read: the same ledger and rating state always yields
// the same ordered list.
type MatchingService struct {
	interventions interventionStore
	technicians   technicianStore
	ratings       ratingReader
	availability  availabilityChecker
	notifier      notificationDispatcher
	metrics       candidateMetrics
	logger        *zap.Logger
	maxCandidates int
}

// NewMatchingService constructs a MatchingService.
func NewMatchingService(
	interventions interventionStore,
	technicians technicianStore,
	ratings ratingReader,
	availability availabilityChecker,
	notifier notificationDispatcher,
	metrics candidateMetrics,
	logger *zap.Logger,
	maxCandidates int,
) *MatchingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	return &MatchingService{
		interventions: interventions,
		technicians:   technicians,
		ratings:       ratings,
		availability:  availability,
		notifier:      notifier,
		metrics:       metrics,
		logger:        logger,
		maxCandidates: maxCandidates,
	}
}

// FindCandidates returns the ranked candidates for a pending request and,
// when notify is set, dispatches a new-request notification to each of them.
// Ranking: urgent requests order by response class first, then mean score
// descending, then sample count descending, then technician id for a total
// deterministic order.
func (s *MatchingService) FindCandidates(ctx context.Context, interventionID string, notify bool) ([]models.Candidate, error) {
	intervention, err := s.interventions.FindByID(ctx, interventionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "intervention not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load intervention")
	}
	if intervention.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "candidates can only be computed for pending interventions")
	}

	profiles, err := s.technicians.ListByDomain(ctx, intervention.Domain)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list technicians")
	}

	eligible := make([]models.TechnicianProfile, 0, len(profiles))
	for _, profile := range profiles {
		available, err := s.availability.IsAvailable(ctx, profile.UserID, intervention.Zone, intervention.DesiredDate)
		if err != nil {
			return nil, err
		}
		if available {
			eligible = append(eligible, profile)
		}
	}

	ids := make([]string, 0, len(eligible))
	for _, profile := range eligible {
		ids = append(ids, profile.UserID)
	}
	snapshots, err := s.ratings.SnapshotsFor(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rating snapshots")
	}

	candidates := make([]models.Candidate, 0, len(eligible))
	for _, profile := range eligible {
		candidate := models.Candidate{
			TechnicianID:      profile.UserID,
			FullName:          profile.FullName,
			ResponseTimeHours: profile.ResponseTimeHours,
		}
		if snapshot, ok := snapshots[profile.UserID]; ok {
			candidate.MeanScore = snapshot.MeanScore
			candidate.SampleCount = snapshot.SampleCount
		}
		candidates = append(candidates, candidate)
	}

	rankCandidates(candidates, intervention.Urgent)
	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}

	if s.metrics != nil {
		s.metrics.ObserveCandidatePool(len(candidates))
	}
	s.logger.Info("candidates computed",
		zap.String("intervention_id", intervention.ID),
		zap.String("domain", intervention.Domain),
		zap.String("zone", intervention.Zone),
		zap.Bool("urgent", intervention.Urgent),
		zap.Int("count", len(candidates)),
	)

	if notify && s.notifier != nil {
		payload := models.NewRequestPayload{
			RequestKind: intervention.Kind,
			Domain:      intervention.Domain,
			Address:     intervention.Address,
			DesiredDate: intervention.DesiredDate,
			Urgent:      intervention.Urgent,
		}
		for _, candidate := range candidates {
			s.notifier.Dispatch(ctx, candidate.TechnicianID, intervention.ID, payload)
		}
	}

	return candidates, nil
}

// ListTechnicians exposes the technician directory with filters.
func (s *MatchingService) ListTechnicians(ctx context.Context, filter models.TechnicianFilter) ([]models.TechnicianProfile, *models.Pagination, error) {
	profiles, total, err := s.technicians.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list technicians")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return profiles, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// GetTechnician returns a single profile.
func (s *MatchingService) GetTechnician(ctx context.Context, userID string) (*models.TechnicianProfile, error) {
	profile, err := s.technicians.FindByID(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "technician not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load technician")
	}
	return profile, nil
}

// rankCandidates orders candidates in place. sort.SliceStable plus the final
// id tiebreak makes the ordering total and reproducible across runs.
func rankCandidates(candidates []models.Candidate, urgent bool) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if urgent && a.ResponseTimeHours != b.ResponseTimeHours {
			return a.ResponseTimeHours < b.ResponseTimeHours
		}
		if a.MeanScore != b.MeanScore {
			return a.MeanScore > b.MeanScore
		}
		if a.SampleCount != b.SampleCount {
			return a.SampleCount > b.SampleCount
		}
		return a.TechnicianID < b.TechnicianID
	})
}
