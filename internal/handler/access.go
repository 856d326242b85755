package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/study-planner-api/internal/middleware"
	"github.com/noah-isme/study-planner-api/internal/models"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/response"
)

type planGroupGetter interface {
	Get(ctx context.Context, id string) (*models.PlanGroup, error)
}

// authorizeStudent writes 401/403 and returns false when the caller may not
// act for the student.
func authorizeStudent(c *gin.Context, studentID string) bool {
	claims := middleware.ClaimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return false
	}
	if !claims.CanActFor(studentID) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "not allowed to manage this student's plans"))
		return false
	}
	return true
}

// authorizeGroup loads the plan group named by the :id param and checks the
// caller may act for its student.
func authorizeGroup(c *gin.Context, groups planGroupGetter) (*models.PlanGroup, bool) {
	group, err := groups.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !authorizeStudent(c, group.StudentID) {
		return nil, false
	}
	return group, true
}

func actorID(c *gin.Context) string {
	if claims := middleware.ClaimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}
