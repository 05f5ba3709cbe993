package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rofex/intervention-api/internal/models"
	"github.com/rofex/intervention-api/internal/service"
	"github.com/rofex/intervention-api/pkg/response"
)

// TechnicianHandler exposes the technician directory.
type TechnicianHandler struct {
	service *service.MatchingService
}

// NewTechnicianHandler constructs a technician handler.
func NewTechnicianHandler(svc *service.MatchingService) *TechnicianHandler {
	return &TechnicianHandler{service: svc}
}

// List returns technician profiles matching the filters.
func (h *TechnicianHandler) List(c *gin.Context) {
	var filter models.TechnicianFilter
	filter.Domain = strings.TrimSpace(c.Query("domain"))
	filter.Zone = strings.TrimSpace(c.Query("zone"))
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}

	profiles, pagination, err := h.service.ListTechnicians(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profiles, pagination)
}

// Get returns one technician profile.
func (h *TechnicianHandler) Get(c *gin.Context) {
	profile, err := h.service.GetTechnician(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}
