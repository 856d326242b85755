package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/response"
)

type planGroupManager interface {
	planGroupGetter
	Create(ctx context.Context, req dto.CreatePlanGroupRequest) (*models.PlanGroup, error)
	Transition(ctx context.Context, id string, req dto.PlanGroupTransitionRequest) (*models.PlanGroup, error)
	Delete(ctx context.Context, id string) (*models.PlanGroup, error)
	Restore(ctx context.Context, id string) (*models.PlanGroup, error)
	History(ctx context.Context, id string, limit int) ([]models.RescheduleLog, error)
}

// PlanGroupHandler exposes plan group lifecycle endpoints.
type PlanGroupHandler struct {
	service planGroupManager
}

// NewPlanGroupHandler constructs the handler.
func NewPlanGroupHandler(svc planGroupManager) *PlanGroupHandler {
	return &PlanGroupHandler{service: svc}
}

// Create godoc
// @Summary Create a draft plan group
// @Tags PlanGroups
// @Accept json
// @Produce json
// @Param payload body dto.CreatePlanGroupRequest true "Plan group"
// @Success 201 {object} response.Envelope
// @Router /plan-groups [post]
func (h *PlanGroupHandler) Create(c *gin.Context) {
	var req dto.CreatePlanGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid plan group payload"))
		return
	}
	if !authorizeStudent(c, req.StudentID) {
		return
	}
	group, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, group)
}

// Get godoc
// @Summary Get a plan group
// @Tags PlanGroups
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id} [get]
func (h *PlanGroupHandler) Get(c *gin.Context) {
	group, ok := authorizeGroup(c, h.service)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// Transition returns a handler applying a fixed lifecycle action.
// @Summary Pause, resume, archive, complete or activate a plan group
// @Tags PlanGroups
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /plan-groups/{id}/pause [post]
// @Router /plan-groups/{id}/resume [post]
// @Router /plan-groups/{id}/archive [post]
// @Router /plan-groups/{id}/complete [post]
// @Router /plan-groups/{id}/activate [post]
func (h *PlanGroupHandler) Transition(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := authorizeGroup(c, h.service); !ok {
			return
		}
		group, err := h.service.Transition(c.Request.Context(), c.Param("id"), dto.PlanGroupTransitionRequest{Action: action})
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, group, nil)
	}
}

// Delete godoc
// @Summary Soft delete a plan group
// @Description The group is purged after the retention window unless restored.
// @Tags PlanGroups
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id} [delete]
func (h *PlanGroupHandler) Delete(c *gin.Context) {
	if _, ok := authorizeGroup(c, h.service); !ok {
		return
	}
	group, err := h.service.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// Restore godoc
// @Summary Restore a soft deleted plan group
// @Tags PlanGroups
// @Produce json
// @Param id path string true "Plan group ID"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/restore [post]
func (h *PlanGroupHandler) Restore(c *gin.Context) {
	if _, ok := authorizeGroup(c, h.service); !ok {
		return
	}
	group, err := h.service.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, group, nil)
}

// History godoc
// @Summary List reschedule logs of a plan group
// @Tags PlanGroups
// @Produce json
// @Param id path string true "Plan group ID"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/history [get]
func (h *PlanGroupHandler) History(c *gin.Context) {
	if _, ok := authorizeGroup(c, h.service); !ok {
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	logs, err := h.service.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}
