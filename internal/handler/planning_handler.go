package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/middleware"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/response"
)

type timelinePreviewer interface {
	Preview(ctx context.Context, req dto.PreviewRequest) (*dto.PreviewResponse, error)
	CheckConflicts(ctx context.Context, req dto.ConflictCheckRequest) (*dto.ConflictCheckResponse, error)
}

type planRescheduler interface {
	Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.RescheduleResponse, error)
}

type batchScheduler interface {
	Submit(ctx context.Context, req dto.BatchRescheduleRequest, actorID string) (*dto.BatchRescheduleResponse, error)
	Status(ctx context.Context, batchID string) (*dto.BatchRescheduleResponse, error)
}

// PlanningHandler exposes preview, conflict checks and rescheduling.
type PlanningHandler struct {
	groups     planGroupGetter
	preview    timelinePreviewer
	reschedule planRescheduler
	batch      batchScheduler
}

// NewPlanningHandler constructs the handler.
func NewPlanningHandler(groups planGroupGetter, preview timelinePreviewer, reschedule planRescheduler, batch batchScheduler) *PlanningHandler {
	return &PlanningHandler{groups: groups, preview: preview, reschedule: reschedule, batch: batch}
}

// Preview godoc
// @Summary Preview a schedule without writing it
// @Tags Planning
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.PreviewRequest true "Contents to schedule"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/preview [post]
func (h *PlanningHandler) Preview(c *gin.Context) {
	group, ok := authorizeGroup(c, h.groups)
	if !ok {
		return
	}
	var req dto.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid preview payload"))
		return
	}
	req.PlanGroupID = group.ID
	resp, err := h.preview.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, resp.Cached)
	response.JSON(c, http.StatusOK, resp, nil, middleware.ExtractMeta(c))
}

// Conflicts godoc
// @Summary Detect conflicts for candidate plans
// @Tags Planning
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.ConflictCheckRequest true "Candidate plans"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/{id}/conflicts [post]
func (h *PlanningHandler) Conflicts(c *gin.Context) {
	group, ok := authorizeGroup(c, h.groups)
	if !ok {
		return
	}
	var req dto.ConflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid conflict payload"))
		return
	}
	req.PlanGroupID = group.ID
	resp, err := h.preview.CheckConflicts(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Reschedule godoc
// @Summary Reschedule a plan group atomically
// @Description Fails fast with 409 LOCK_CONTENTION while another reschedule holds the group.
// @Tags Planning
// @Accept json
// @Produce json
// @Param id path string true "Plan group ID"
// @Param payload body dto.RescheduleRequest true "Reschedule request"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /plan-groups/{id}/reschedule [post]
func (h *PlanningHandler) Reschedule(c *gin.Context) {
	group, ok := authorizeGroup(c, h.groups)
	if !ok {
		return
	}
	var req dto.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reschedule payload"))
		return
	}
	req.PlanGroupID = group.ID
	req.ActorID = actorID(c)
	resp, err := h.reschedule.Reschedule(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// SubmitBatch godoc
// @Summary Queue reschedules for many plan groups
// @Tags Planning
// @Accept json
// @Produce json
// @Param payload body dto.BatchRescheduleRequest true "Batch"
// @Success 202 {object} response.Envelope
// @Router /plan-groups/reschedule/batch [post]
func (h *PlanningHandler) SubmitBatch(c *gin.Context) {
	var req dto.BatchRescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
		return
	}
	resp, err := h.batch.Submit(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// BatchStatus godoc
// @Summary Batch reschedule progress
// @Tags Planning
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /plan-groups/reschedule/batch/{id} [get]
func (h *PlanningHandler) BatchStatus(c *gin.Context) {
	resp, err := h.batch.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
