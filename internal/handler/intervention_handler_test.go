package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rofex/intervention-api/internal/middleware"
	"github.com/rofex/intervention-api/internal/models"
	"github.com/rofex/intervention-api/internal/service"
	"github.com/rofex/intervention-api/pkg/response"
)

// interventionStoreMock backs the real services in handler tests with the
// same guarded-write behaviour as the SQL layer.
type interventionStoreMock struct {
	mu            sync.Mutex
	interventions map[string]*models.Intervention
}

func newInterventionStoreMock(interventions ...*models.Intervention) *interventionStoreMock {
	s := &interventionStoreMock{interventions: make(map[string]*models.Intervention)}
	for _, iv := range interventions {
		cp := *iv
		s.interventions[iv.ID] = &cp
	}
	return s
}

func (m *interventionStoreMock) Create(_ context.Context, intervention *models.Intervention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intervention.ID == "" {
		intervention.ID = "iv-created"
	}
	cp := *intervention
	m.interventions[intervention.ID] = &cp
	return nil
}

func (m *interventionStoreMock) FindByID(_ context.Context, id string) (*models.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *iv
	return &cp, nil
}

func (m *interventionStoreMock) List(_ context.Context, _ models.InterventionFilter) ([]models.Intervention, int, error) {
	return nil, 0, nil
}

func (m *interventionStoreMock) AdvanceStatus(_ context.Context, id string, from, to models.InterventionStatus, technicianID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interventions[id]
	if !ok || iv.Status != from || iv.TechnicianID == nil || *iv.TechnicianID != technicianID {
		return false, nil
	}
	iv.Status = to
	return true, nil
}

func (m *interventionStoreMock) AcceptPending(_ context.Context, id, technicianID string) (bool, error) {
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

func (m *interventionStoreMock) RefusePending(_ context.Context, id string, reason models.RefusalReason) (bool, error) {
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

func (m *interventionStoreMock) RefuseAssigned(_ context.Context, id string, reason models.RefusalReason) (bool, error) {
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

func (m *interventionStoreMock) RecordResponse(_ context.Context, _, _ string, _ models.ResponseDecision) error {
	return nil
}

func (m *interventionStoreMock) AllCandidatesDeclined(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (m *interventionStoreMock) ListExpiredPending(_ context.Context, _ time.Time) ([]models.Intervention, error) {
	return nil, nil
}

func newInterventionHandlerFixture(store *interventionStoreMock) *InterventionHandler {
	lifecycle := service.NewLifecycleService(store, nil, validator.New(), zap.NewNop())
	arbiter := service.NewArbiterService(store, nil, nil, zap.NewNop(), 0, 0)
	return NewInterventionHandler(lifecycle, arbiter, nil)
}

func TestInterventionHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newInterventionStoreMock()
	handler := newInterventionHandlerFixture(store)

	body, _ := json.Marshal(map[string]interface{}{
		"kind":         "corrective",
		"domain":       "plumbing",
		"address":      "1 rue A",
		"zone":         "75",
		"desired_date": time.Now().Add(24 * time.Hour).Format(time.RFC3339),
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/interventions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "client-1", data["client_id"])
}

func TestInterventionHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newInterventionHandlerFixture(newInterventionStoreMock())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/interventions", bytes.NewBufferString(`{"kind":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "client-1", Role: models.RoleClient})

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterventionHandlerRespondAccept(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newInterventionStoreMock(&models.Intervention{
		ID:       "iv-1",
		ClientID: "client-1",
		Status:   models.StatusPending,
	})
	handler := newInterventionHandlerFixture(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/interventions/iv-1/respond", bytes.NewBufferString(`{"decision":"accept"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "iv-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tech-1", Role: models.RoleTechnician})

	handler.Respond(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	data := envelope.Data.(map[string]interface{})
	assert.Equal(t, true, data["won"])
	assert.Equal(t, "accepted", data["status"])
}

func TestInterventionHandlerRespondConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tech := "tech-0"
	store := newInterventionStoreMock(&models.Intervention{
		ID:           "iv-1",
		ClientID:     "client-1",
		Status:       models.StatusCompleted,
		TechnicianID: &tech,
	})
	handler := newInterventionHandlerFixture(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/interventions/iv-1/respond", bytes.NewBufferString(`{"decision":"accept"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "iv-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "tech-1", Role: models.RoleTechnician})

	handler.Respond(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}
