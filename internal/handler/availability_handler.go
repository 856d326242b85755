package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-planner-api/internal/dto"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/response"
)

type availabilityCalculator interface {
	Compute(ctx context.Context, req dto.AvailabilityRequest) (*dto.AvailabilityResponse, error)
}

// AvailabilityHandler exposes the availability calculator.
type AvailabilityHandler struct {
	service availabilityCalculator
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc availabilityCalculator) *AvailabilityHandler {
	return &AvailabilityHandler{service: svc}
}

// Compute godoc
// @Summary Compute available study segments
// @Tags Availability
// @Accept json
// @Produce json
// @Param payload body dto.AvailabilityRequest true "Availability request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /availability [post]
func (h *AvailabilityHandler) Compute(c *gin.Context) {
	var req dto.AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	if !authorizeStudent(c, req.StudentID) {
		return
	}
	resp, err := h.service.Compute(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}
