package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rofex/intervention-api/internal/models"
	"github.com/rofex/intervention-api/internal/service"
	appErrors "github.com/rofex/intervention-api/pkg/errors"
	"github.com/rofex/intervention-api/pkg/response"
)

// InterventionHandler handles the request lifecycle and assignment endpoints.
type InterventionHandler struct {
	lifecycle *service.LifecycleService
	arbiter   *service.ArbiterService
	matcher   *service.MatchingService
}

// NewInterventionHandler constructs an intervention handler.
func NewInterventionHandler(lifecycle *service.LifecycleService, arbiter *service.ArbiterService, matcher *service.MatchingService) *InterventionHandler {
	return &InterventionHandler{lifecycle: lifecycle, arbiter: arbiter, matcher: matcher}
}

// Create registers a new intervention request for the calling client.
func (h *InterventionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateInterventionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	intervention, err := h.lifecycle.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, intervention)
}

// List returns interventions visible to the caller.
func (h *InterventionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var filter models.InterventionFilter
	filter.Status = models.InterventionStatus(c.Query("status"))
	if raw := c.Query("urgent"); raw != "" {
		if urgent, err := strconv.ParseBool(raw); err == nil {
			filter.Urgent = &urgent
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	interventions, pagination, err := h.lifecycle.List(c.Request.Context(), filter, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, interventions, pagination)
}

// Get returns one intervention.
func (h *InterventionHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	intervention, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intervention, nil)
}

// Candidates returns the ranked technicians for a pending request. Passing
// notify=true also dispatches a new-request notification to each candidate.
func (h *InterventionHandler) Candidates(c *gin.Context) {
	notify, _ := strconv.ParseBool(c.DefaultQuery("notify", "false"))
	candidates, err := h.matcher.FindCandidates(c.Request.Context(), c.Param("id"), notify)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, candidates, nil)
}

type respondRequest struct {
	Decision models.ResponseDecision `json:"decision" binding:"required"`
}

// Respond records the calling technician's accept or decline.
func (h *InterventionHandler) Respond(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	result, err := h.arbiter.Respond(c.Request.Context(), c.Param("id"), claims.UserID, req.Decision)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Start moves an accepted intervention to in_progress.
func (h *InterventionHandler) Start(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	intervention, err := h.lifecycle.Start(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intervention, nil)
}

// Complete moves an in-progress intervention to completed.
func (h *InterventionHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	intervention, err := h.lifecycle.Complete(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intervention, nil)
}

// Cancel refuses a request on behalf of its client or an administrator.
func (h *InterventionHandler) Cancel(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	intervention, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, intervention, nil)
}
