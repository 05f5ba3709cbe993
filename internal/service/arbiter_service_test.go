package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

// mockArbiterStore emulates the conditional writes of the real store with a
// mutex so concurrent accepts exercise the same one-winner guarantee.
type mockArbiterStore struct {
	mu            sync.Mutex
	interventions map[string]*models.Intervention
	responses     map[string]map[string]models.ResponseDecision
	notified      map[string][]string
	refusals      []models.RefusalReason
}

func newMockArbiterStore(interventions ...*models.Intervention) *mockArbiterStore {
	s := &mockArbiterStore{
		interventions: make(map[string]*models.Intervention),
		responses:     make(map[string]map[string]models.ResponseDecision),
		notified:      make(map[string][]string),
	}
	for _, iv := range interventions {
		cp := *iv
		s.interventions[iv.ID] = &cp
	}
	return s
}

func (m *mockArbiterStore) FindByID(_ context.Context, id string) (*models.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *iv
	return &cp, nil
}

func (m *mockArbiterStore) AcceptPending(_ context.Context, id, technicianID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || iv.Status != models.StatusPending || iv.TechnicianID != nil {
		return false, nil
	}
	iv.Status = models.StatusAccepted
	iv.TechnicianID = &technicianID
	return true, nil
}

func (m *mockArbiterStore) RefusePending(_ context.Context, id string, reason models.RefusalReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || iv.Status != models.StatusPending || iv.TechnicianID != nil {
		return false, nil
	}
	iv.Status = models.StatusRefused
	iv.RefusalReason = &reason
	m.refusals = append(m.refusals, reason)
	return true, nil
}

func (m *mockArbiterStore) RecordResponse(_ context.Context, interventionID, technicianID string, decision models.ResponseDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responses[interventionID] == nil {
		m.responses[interventionID] = make(map[string]models.ResponseDecision)
	}
	if _, exists := m.responses[interventionID][technicianID]; !exists {
		m.responses[interventionID][technicianID] = decision
	}
	return nil
}

func (m *mockArbiterStore) AllCandidatesDeclined(_ context.Context, interventionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	notified := m.notified[interventionID]
	if len(notified) == 0 {
		return false, nil
	}
	for _, tech := range notified {
		if m.responses[interventionID][tech] != models.DecisionDecline {
			return false, nil
		}
	}
	return true, nil
}

func (m *mockArbiterStore) ListExpiredPending(_ context.Context, cutoff time.Time) ([]models.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []models.Intervention
	for _, iv := range m.interventions {
		if iv.Status == models.StatusPending && iv.CreatedAt.Before(cutoff) {
			expired = append(expired, *iv)
		}
	}
	return expired, nil
}

type mockDispatcher struct {
	mu       sync.Mutex
	payloads []models.NotificationPayload
	users    []string
}

func (m *mockDispatcher) Dispatch(_ context.Context, recipientID, _ string, payload models.NotificationPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, recipientID)
	m.payloads = append(m.payloads, payload)
}

func pendingIntervention(id string) *models.Intervention {
	return &models.Intervention{
		ID:        id,
		ClientID:  "client-1",
		Kind:      models.KindCorrective,
		Domain:    "plumbing",
		Zone:      "75",
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestArbiterConcurrentAcceptSingleWinner(t *testing.T) {
	store := newMockArbiterStore(pendingIntervention("iv-1"))
	svc := NewArbiterService(store, &mockDispatcher{}, nil, zap.NewNop(), 0, 0)

	const technicians = 8
	results := make([]*models.AssignmentResult, technicians)
	errs := make([]error, technicians)

	var wg sync.WaitGroup
	for i := 0; i < technicians; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			techID := string(rune('a' + n))
			results[n], errs[n] = svc.Respond(context.Background(), "iv-1", techID, models.DecisionAccept)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < technicians; i++ {
		if errs[i] != nil {
			// Entry-time losers observed the already-accepted state.
			assert.True(t, appErrors.HasCode(errs[i], appErrors.ErrInvalidState))
			continue
		}
		require.NotNil(t, results[i])
		if results[i].Won {
			winners++
			assert.Equal(t, models.StatusAccepted, results[i].Status)
		} else {
			assert.Equal(t, ReasonAlreadyAssigned, results[i].Reason)
		}
	}
	assert.Equal(t, 1, winners)

	final, err := store.FindByID(context.Background(), "iv-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, final.Status)
	require.NotNil(t, final.TechnicianID)
}

func TestArbiterAcceptWinnerNotifiesClient(t *testing.T) {
	store := newMockArbiterStore(pendingIntervention("iv-1"))
	dispatcher := &mockDispatcher{}
	svc := NewArbiterService(store, dispatcher, nil, zap.NewNop(), 0, 0)

	result, err := svc.Respond(context.Background(), "iv-1", "tech-1", models.DecisionAccept)
	require.NoError(t, err)
	assert.True(t, result.Won)

	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, models.NotifyAccepted, dispatcher.payloads[0].Kind())
	assert.Equal(t, "client-1", dispatcher.users[0])
}

func TestArbiterAcceptNonPendingFails(t *testing.T) {
	iv := pendingIntervention("iv-1")
	iv.Status = models.StatusCompleted
	tech := "tech-0"
	iv.TechnicianID = &tech
	store := newMockArbiterStore(iv)
	svc := NewArbiterService(store, &mockDispatcher{}, nil, zap.NewNop(), 0, 0)

	_, err := svc.Respond(context.Background(), "iv-1", "tech-1", models.DecisionAccept)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidState))
}

func TestArbiterDeclineIsIdempotent(t *testing.T) {
	iv := pendingIntervention("iv-1")
	iv.Status = models.StatusRefused
	store := newMockArbiterStore(iv)
	svc := NewArbiterService(store, &mockDispatcher{}, nil, zap.NewNop(), 0, 0)

	result, err := svc.Respond(context.Background(), "iv-1", "tech-1", models.DecisionDecline)
	require.NoError(t, err)
	assert.False(t, result.Won)
	assert.Equal(t, models.StatusRefused, result.Status)
	assert.Empty(t, store.responses["iv-1"])
}

func TestArbiterExhaustionRefusesRequest(t *testing.T) {
	store := newMockArbiterStore(pendingIntervention("iv-1"))
	store.notified["iv-1"] = []string{"tech-1", "tech-2"}
	dispatcher := &mockDispatcher{}
	svc := NewArbiterService(store, dispatcher, nil, zap.NewNop(), 0, 0)

	first, err := svc.Respond(context.Background(), "iv-1", "tech-1", models.DecisionDecline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, first.Status)

	second, err := svc.Respond(context.Background(), "iv-1", "tech-2", models.DecisionDecline)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, second.Status)

	final, err := store.FindByID(context.Background(), "iv-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, final.Status)
	require.NotNil(t, final.RefusalReason)
	assert.Equal(t, models.RefusalDeclined, *final.RefusalReason)

	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, models.NotifyRefused, dispatcher.payloads[0].Kind())
}

func TestArbiterSweeperExpiresOldPending(t *testing.T) {
	iv := pendingIntervention("iv-old")
	iv.CreatedAt = time.Now().UTC().Add(-72 * time.Hour)
	fresh := pendingIntervention("iv-fresh")
	store := newMockArbiterStore(iv, fresh)
	dispatcher := &mockDispatcher{}
	svc := NewArbiterService(store, dispatcher, nil, zap.NewNop(), 48*time.Hour, time.Minute)

	svc.sweepExpired(context.Background())

	old, err := store.FindByID(context.Background(), "iv-old")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, old.Status)
	require.NotNil(t, old.RefusalReason)
	assert.Equal(t, models.RefusalExpired, *old.RefusalReason)

	untouched, err := store.FindByID(context.Background(), "iv-fresh")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, untouched.Status)
}
