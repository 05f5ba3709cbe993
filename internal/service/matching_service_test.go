package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

type mockTechnicianStore struct {
	profiles []models.TechnicianProfile
}

func (m *mockTechnicianStore) FindByID(_ context.Context, userID string) (*models.TechnicianProfile, error) {
	for _, p := range m.profiles {
		if p.UserID == userID {
			cp := p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTechnicianStore) List(_ context.Context, _ models.TechnicianFilter) ([]models.TechnicianProfile, int, error) {
	return m.profiles, len(m.profiles), nil
}

func (m *mockTechnicianStore) ListByDomain(_ context.Context, domain string) ([]models.TechnicianProfile, error) {
	var out []models.TechnicianProfile
	for _, p := range m.profiles {
		if p.HasSpecialty(domain) {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockRatingReader struct {
	snapshots map[string]models.TechnicianRatingSnapshot
}

func (m *mockRatingReader) SnapshotsFor(_ context.Context, ids []string) (map[string]models.TechnicianRatingSnapshot, error) {
	out := make(map[string]models.TechnicianRatingSnapshot)
	for _, id := range ids {
		if s, ok := m.snapshots[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type mockAvailabilityChecker struct {
	unavailable map[string]bool
}

func (m *mockAvailabilityChecker) IsAvailable(_ context.Context, technicianID, _ string, _ time.Time) (bool, error) {
	return !m.unavailable[technicianID], nil
}

func profile(id, name, domain string, responseHours int) models.TechnicianProfile {
	return models.TechnicianProfile{
		UserID:            id,
		FullName:          name,
		Specialties:       []string{domain},
		Zone:              "75",
		ResponseTimeHours: responseHours,
		Active:            true,
	}
}

func newMatchingFixture(intervention *models.Intervention, technicians *mockTechnicianStore, ratings *mockRatingReader, availability *mockAvailabilityChecker, notifier *mockDispatcher) *MatchingService {
	store := newMockInterventionStore(intervention)
	return NewMatchingService(store, technicians, ratings, availability, notifier, nil, zap.NewNop(), 10)
}

func TestMatchingRanksByRatingThenSampleThenID(t *testing.T) {
	technicians := &mockTechnicianStore{profiles: []models.TechnicianProfile{
		profile("tech-a", "A", "plumbing", 24),
		profile("tech-b", "B", "plumbing", 24),
		profile("tech-c", "C", "plumbing", 24),
		profile("tech-d", "D", "plumbing", 24),
	}}
	ratings := &mockRatingReader{snapshots: map[string]models.TechnicianRatingSnapshot{
		"tech-a": {TechnicianID: "tech-a", MeanScore: 7.5, SampleCount: 4},
		"tech-b": {TechnicianID: "tech-b", MeanScore: 9.0, SampleCount: 2},
		"tech-c": {TechnicianID: "tech-c", MeanScore: 7.5, SampleCount: 9},
	}}
	svc := newMatchingFixture(pendingIntervention("iv-1"), technicians, ratings, &mockAvailabilityChecker{}, nil)

	candidates, err := svc.FindCandidates(context.Background(), "iv-1", false)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	assert.Equal(t, "tech-b", candidates[0].TechnicianID)
	assert.Equal(t, "tech-c", candidates[1].TechnicianID)
	assert.Equal(t, "tech-a", candidates[2].TechnicianID)
	assert.Equal(t, "tech-d", candidates[3].TechnicianID)
}

func TestMatchingUrgentPrefersFastResponders(t *testing.T) {
	technicians := &mockTechnicianStore{profiles: []models.TechnicianProfile{
		profile("tech-slow", "Slow", "plumbing", 48),
		profile("tech-fast", "Fast", "plumbing", 4),
	}}
	ratings := &mockRatingReader{snapshots: map[string]models.TechnicianRatingSnapshot{
		"tech-slow": {TechnicianID: "tech-slow", MeanScore: 9.8, SampleCount: 20},
		"tech-fast": {TechnicianID: "tech-fast", MeanScore: 6.0, SampleCount: 3},
	}}
	iv := pendingIntervention("iv-1")
	iv.Urgent = true
	svc := newMatchingFixture(iv, technicians, ratings, &mockAvailabilityChecker{}, nil)

	candidates, err := svc.FindCandidates(context.Background(), "iv-1", false)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "tech-fast", candidates[0].TechnicianID)
}

func TestMatchingFiltersUnavailableTechnicians(t *testing.T) {
	technicians := &mockTechnicianStore{profiles: []models.TechnicianProfile{
		profile("tech-a", "A", "plumbing", 24),
		profile("tech-b", "B", "plumbing", 24),
	}}
	availability := &mockAvailabilityChecker{unavailable: map[string]bool{"tech-b": true}}
	svc := newMatchingFixture(pendingIntervention("iv-1"), technicians, &mockRatingReader{}, availability, nil)

	candidates, err := svc.FindCandidates(context.Background(), "iv-1", false)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "tech-a", candidates[0].TechnicianID)
}

func TestMatchingNotifiesCandidates(t *testing.T) {
	technicians := &mockTechnicianStore{profiles: []models.TechnicianProfile{
		profile("tech-a", "A", "plumbing", 24),
		profile("tech-b", "B", "plumbing", 24),
	}}
	dispatcher := &mockDispatcher{}
	svc := newMatchingFixture(pendingIntervention("iv-1"), technicians, &mockRatingReader{}, &mockAvailabilityChecker{}, dispatcher)

	_, err := svc.FindCandidates(context.Background(), "iv-1", true)
	require.NoError(t, err)
	require.Len(t, dispatcher.payloads, 2)
	assert.Equal(t, models.NotifyNewRequest, dispatcher.payloads[0].Kind())
	assert.ElementsMatch(t, []string{"tech-a", "tech-b"}, dispatcher.users)
}

func TestMatchingRankingIsDeterministic(t *testing.T) {
	technicians := &mockTechnicianStore{profiles: []models.TechnicianProfile{
		profile("tech-d", "D", "plumbing", 24),
		profile("tech-b", "B", "plumbing", 24),
		profile("tech-a", "A", "plumbing", 24),
		profile("tech-c", "C", "plumbing", 24),
	}}
	ratings := &mockRatingReader{snapshots: map[string]models.TechnicianRatingSnapshot{
		"tech-a": {TechnicianID: "tech-a", MeanScore: 7.5, SampleCount: 4},
		"tech-b": {TechnicianID: "tech-b", MeanScore: 7.5, SampleCount: 4},
	}}
	svc := newMatchingFixture(pendingIntervention("iv-1"), technicians, ratings, &mockAvailabilityChecker{}, nil)

	first, err := svc.FindCandidates(context.Background(), "iv-1", false)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.FindCandidates(context.Background(), "iv-1", false)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Tied ratings fall through to the id tiebreak.
	assert.Equal(t, "tech-a", first[0].TechnicianID)
	assert.Equal(t, "tech-b", first[1].TechnicianID)
}

func TestMatchingRejectsNonPending(t *testing.T) {
	iv := pendingIntervention("iv-1")
	iv.Status = models.StatusAccepted
	svc := newMatchingFixture(iv, &mockTechnicianStore{}, &mockRatingReader{}, &mockAvailabilityChecker{}, nil)

	_, err := svc.FindCandidates(context.Background(), "iv-1", false)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidState))
}
