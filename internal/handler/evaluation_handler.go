package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rofex/intervention-api/internal/service"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
	"github.com/rofex/intervention-api/pkg/response"
)

// EvaluationHandler handles evaluation and rating endpoints.
type EvaluationHandler struct {
	service *service.RatingService
}

// NewEvaluationHandler constructs an evaluation handler.
func NewEvaluationHandler(svc *service.RatingService) *EvaluationHandler {
	return &EvaluationHandler{service: svc}
}

// Create records the calling client's evaluation of a completed intervention.
func (h *EvaluationHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.RecordEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	evaluation, err := h.service.RecordEvaluation(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, evaluation)
}

// ListForTechnician returns a technician's evaluations.
func (h *EvaluationHandler) ListForTechnician(c *gin.Context) {
	evaluations, err := h.service.ListEvaluations(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, evaluations, nil)
}

// Rating returns a technician's running rating snapshot.
func (h *EvaluationHandler) Rating(c *gin.Context) {
	snapshot, err := h.service.SnapshotFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// Recompute rebuilds a technician's snapshot from the evaluation set.
func (h *EvaluationHandler) Recompute(c *gin.Context) {
	snapshot, err := h.service.Recompute(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
