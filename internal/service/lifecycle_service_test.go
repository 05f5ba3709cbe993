package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/models"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
)

// mockInterventionStore honours the same status guards as the SQL layer.
type mockInterventionStore struct {
	mu            sync.Mutex
	interventions map[string]*models.Intervention
}

func newMockInterventionStore(interventions ...*models.Intervention) *mockInterventionStore {
	s := &mockInterventionStore{interventions: make(map[string]*models.Intervention)}
	for _, iv := range interventions {
		cp := *iv
		s.interventions[iv.ID] = &cp
	}
	return s
}

func (m *mockInterventionStore) Create(_ context.Context, intervention *models.Intervention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intervention.ID == "" {
		intervention.ID = "generated"
	}
	now := time.Now().UTC()
	intervention.CreatedAt = now
	intervention.UpdatedAt = now
	cp := *intervention
	m.interventions[intervention.ID] = &cp
	return nil
}

func (m *mockInterventionStore) FindByID(_ context.Context, id string) (*models.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *iv
	return &cp, nil
}

func (m *mockInterventionStore) List(_ context.Context, filter models.InterventionFilter) ([]models.Intervention, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Intervention
	for _, iv := range m.interventions {
		if filter.ClientID != "" && iv.ClientID != filter.ClientID {
			continue
		}
		if filter.TechnicianID != "" && (iv.TechnicianID == nil || *iv.TechnicianID != filter.TechnicianID) {
			continue
		}
		if filter.Status != "" && iv.Status != filter.Status {
			continue
		}
		out = append(out, *iv)
	}
	return out, len(out), nil
}

func (m *mockInterventionStore) AdvanceStatus(_ context.Context, id string, from, to models.InterventionStatus, technicianID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || iv.Status != from || iv.TechnicianID == nil || *iv.TechnicianID != technicianID {
		return false, nil
	}
	iv.Status = to
	return true, nil
}

func (m *mockInterventionStore) RefusePending(_ context.Context, id string, reason models.RefusalReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || iv.Status != models.StatusPending || iv.TechnicianID != nil {
		return false, nil
	}
	iv.Status = models.StatusRefused
	iv.RefusalReason = &reason
	return true, nil
}

func (m *mockInterventionStore) RefuseAssigned(_ context.Context, id string, reason models.RefusalReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || (iv.Status != models.StatusAccepted && iv.Status != models.StatusInProgress) {
		return false, nil
	}
	iv.Status = models.StatusRefused
	iv.RefusalReason = &reason
	return true, nil
}

func assignedIntervention(id string, status models.InterventionStatus, technicianID string) *models.Intervention {
	iv := pendingIntervention(id)
	iv.Status = status
	if technicianID != "" {
		iv.TechnicianID = &technicianID
	}
	return iv
}

func TestLifecycleCreateStartsPending(t *testing.T) {
	store := newMockInterventionStore()
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	intervention, err := svc.Create(context.Background(), "client-1", CreateInterventionRequest{
		Kind:        models.KindCorrective,
		Domain:      "plumbing",
		Address:     "1 rue A",
		Zone:        "75",
		DesiredDate: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, intervention.Status)
	assert.Nil(t, intervention.TechnicianID)
}

func TestLifecycleCreateRejectsUnknownKind(t *testing.T) {
	svc := NewLifecycleService(newMockInterventionStore(), &mockDispatcher{}, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), "client-1", CreateInterventionRequest{
		Kind:        "demolition",
		Domain:      "plumbing",
		Address:     "1 rue A",
		Zone:        "75",
		DesiredDate: time.Now(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestLifecycleStartRequiresAssignedTechnician(t *testing.T) {
	store := newMockInterventionStore(assignedIntervention("iv-1", models.StatusAccepted, "tech-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	_, err := svc.Start(context.Background(), "iv-1", "tech-2")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))

	intervention, err := svc.Start(context.Background(), "iv-1", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, intervention.Status)
}

func TestLifecycleIllegalTransitions(t *testing.T) {
	cases := []struct {
		name   string
		status models.InterventionStatus
		action func(*LifecycleService) error
	}{
		{"start pending", models.StatusPending, func(s *LifecycleService) error {
			_, err := s.Start(context.Background(), "iv-1", "tech-1")
			return err
		}},
		{"complete accepted", models.StatusAccepted, func(s *LifecycleService) error {
			_, err := s.Complete(context.Background(), "iv-1", "tech-1")
			return err
		}},
		{"start completed", models.StatusCompleted, func(s *LifecycleService) error {
			_, err := s.Start(context.Background(), "iv-1", "tech-1")
			return err
		}},
		{"complete refused", models.StatusRefused, func(s *LifecycleService) error {
			_, err := s.Complete(context.Background(), "iv-1", "tech-1")
			return err
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tech := "tech-1"
			if tc.status == models.StatusPending {
				tech = ""
			}
			store := newMockInterventionStore(assignedIntervention("iv-1", tc.status, tech))
			svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

			err := tc.action(svc)
			require.Error(t, err)
			code := appErrors.HasCode(err, appErrors.ErrIllegalTransition) || appErrors.HasCode(err, appErrors.ErrForbidden)
			assert.True(t, code, "unexpected error: %v", err)
		})
	}
}

func TestLifecycleCompleteNotifiesClient(t *testing.T) {
	store := newMockInterventionStore(assignedIntervention("iv-1", models.StatusInProgress, "tech-1"))
	dispatcher := &mockDispatcher{}
	svc := NewLifecycleService(store, dispatcher, validator.New(), zap.NewNop())

	intervention, err := svc.Complete(context.Background(), "iv-1", "tech-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, intervention.Status)

	require.Len(t, dispatcher.payloads, 1)
	assert.Equal(t, models.NotifyCompleted, dispatcher.payloads[0].Kind())
}

func TestLifecycleClientCancelsOwnPending(t *testing.T) {
	store := newMockInterventionStore(pendingIntervention("iv-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "client-1", Role: models.RoleClient}
	intervention, err := svc.Cancel(context.Background(), "iv-1", claims)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, intervention.Status)
	require.NotNil(t, intervention.RefusalReason)
	assert.Equal(t, models.RefusalCancelled, *intervention.RefusalReason)
}

func TestLifecycleClientCannotCancelOthersRequest(t *testing.T) {
	store := newMockInterventionStore(pendingIntervention("iv-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "client-2", Role: models.RoleClient}
	_, err := svc.Cancel(context.Background(), "iv-1", claims)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestLifecycleClientCannotCancelAssigned(t *testing.T) {
	store := newMockInterventionStore(assignedIntervention("iv-1", models.StatusAccepted, "tech-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "client-1", Role: models.RoleClient}
	_, err := svc.Cancel(context.Background(), "iv-1", claims)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden))
}

func TestLifecycleAdminOverridesAssigned(t *testing.T) {
	store := newMockInterventionStore(assignedIntervention("iv-1", models.StatusInProgress, "tech-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	intervention, err := svc.Cancel(context.Background(), "iv-1", claims)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefused, intervention.Status)
	require.NotNil(t, intervention.RefusalReason)
	assert.Equal(t, models.RefusalAdmin, *intervention.RefusalReason)
}

func TestLifecycleCancelTerminalFails(t *testing.T) {
	store := newMockInterventionStore(assignedIntervention("iv-1", models.StatusCompleted, "tech-1"))
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err := svc.Cancel(context.Background(), "iv-1", claims)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrIllegalTransition))
}

func TestLifecycleListScopesByRole(t *testing.T) {
	other := pendingIntervention("iv-2")
	other.ClientID = "client-2"
	store := newMockInterventionStore(pendingIntervention("iv-1"), other)
	svc := NewLifecycleService(store, &mockDispatcher{}, validator.New(), zap.NewNop())

	claims := &models.JWTClaims{UserID: "client-1", Role: models.RoleClient}
	interventions, _, err := svc.List(context.Background(), models.InterventionFilter{}, claims)
	require.NoError(t, err)
	require.Len(t, interventions, 1)
	assert.Equal(t, "iv-1", interventions[0].ID)
}
