package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/middleware"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/service"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type planGroupGetterStub struct {
	groups map[string]*models.PlanGroup
}

func (s *planGroupGetterStub) Get(ctx context.Context, id string) (*models.PlanGroup, error) {
	if g, ok := s.groups[id]; ok {
		return g, nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "plan group not found")
}

type previewerStub struct {
	resp    *dto.PreviewResponse
	lastReq dto.PreviewRequest
}

func (s *previewerStub) Preview(ctx context.Context, req dto.PreviewRequest) (*dto.PreviewResponse, error) {
	s.lastReq = req
	return s.resp, nil
}

func (s *previewerStub) CheckConflicts(ctx context.Context, req dto.ConflictCheckRequest) (*dto.ConflictCheckResponse, error) {
	return &dto.ConflictCheckResponse{}, nil
}

type planReschedulerStub struct {
	lastReq dto.RescheduleRequest
	err     error
}

func (s *planReschedulerStub) Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.RescheduleResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &dto.RescheduleResponse{PlanGroupID: req.PlanGroupID, State: "committed"}, nil
}

type batchSchedulerStub struct{}

func (batchSchedulerStub) Submit(ctx context.Context, req dto.BatchRescheduleRequest, actorID string) (*dto.BatchRescheduleResponse, error) {
	return &dto.BatchRescheduleResponse{BatchID: "b-1"}, nil
}

func (batchSchedulerStub) Status(ctx context.Context, batchID string) (*dto.BatchRescheduleResponse, error) {
	return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	}
}

func studentClaims(studentID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "u-" + studentID, Role: models.RoleStudent, StudentID: studentID}
}

type planningFixture struct {
	router  *gin.Engine
	preview *previewerStub
	resched *planReschedulerStub
}

func newPlanningFixture(claims *models.JWTClaims) *planningFixture {
	gin.SetMode(gin.TestMode)
	groups := &planGroupGetterStub{groups: map[string]*models.PlanGroup{
		"pg-1": {ID: "pg-1", StudentID: "stu-1", Status: models.PlanGroupStatusActive},
	}}
	f := &planningFixture{
		preview: &previewerStub{resp: &dto.PreviewResponse{Cached: true}},
		resched: &planReschedulerStub{},
	}
	h := NewPlanningHandler(groups, f.preview, f.resched, batchSchedulerStub{})

	r := gin.New()
	r.Use(middleware.WithResponseMeta(), withClaims(claims))
	r.POST("/plan-groups/:id/preview", h.Preview)
	r.POST("/plan-groups/:id/conflicts", h.Conflicts)
	r.POST("/plan-groups/:id/reschedule", h.Reschedule)
	staff := r.Group("/plan-groups/reschedule", middleware.RequireRoles(middleware.Staff...))
	staff.POST("/batch", h.SubmitBatch)
	staff.GET("/batch/:id", h.BatchStatus)
	f.router = r
	return f
}

func (f *planningFixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestPlanningHandlerPreviewReportsCacheHit(t *testing.T) {
	f := newPlanningFixture(studentClaims("stu-1"))
	w := f.do(http.MethodPost, "/plan-groups/pg-1/preview", `{"contents":[{"contentId":"c1"}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body.Meta["cache_hit"])
	assert.Equal(t, "pg-1", f.preview.lastReq.PlanGroupID)
}

func TestPlanningHandlerRejectsOtherStudent(t *testing.T) {
	f := newPlanningFixture(studentClaims("stu-2"))
	w := f.do(http.MethodPost, "/plan-groups/pg-1/preview", `{"contents":[{"contentId":"c1"}]}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f = newPlanningFixture(nil)
	w = f.do(http.MethodPost, "/plan-groups/pg-1/reschedule", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f = newPlanningFixture(studentClaims("stu-1"))
	w = f.do(http.MethodPost, "/plan-groups/missing/reschedule", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlanningHandlerRescheduleUsesPathAndActor(t *testing.T) {
	f := newPlanningFixture(&models.JWTClaims{UserID: "parent-1", Role: models.RoleParent, Children: []string{"stu-1"}})
	w := f.do(http.MethodPost, "/plan-groups/pg-1/reschedule", `{"planGroupId":"spoofed","contents":[{"contentId":"c1"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pg-1", f.resched.lastReq.PlanGroupID)
	assert.Equal(t, "parent-1", f.resched.lastReq.ActorID)

	f.resched.err = appErrors.Clone(appErrors.ErrLockContention, "busy")
	w = f.do(http.MethodPost, "/plan-groups/pg-1/reschedule", `{"contents":[{"contentId":"c1"}]}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrLockContention.Code)

	w = f.do(http.MethodPost, "/plan-groups/pg-1/reschedule", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlanningHandlerBatchRequiresStaff(t *testing.T) {
	f := newPlanningFixture(studentClaims("stu-1"))
	w := f.do(http.MethodPost, "/plan-groups/reschedule/batch", `{"items":[]}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	f = newPlanningFixture(&models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	w = f.do(http.MethodPost, "/plan-groups/reschedule/batch", `{"items":[{"contents":[{"contentId":"c1"}]}]}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = f.do(http.MethodGet, "/plan-groups/reschedule/batch/b-9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type exporterStub struct {
	path string
}

func (s *exporterStub) Export(ctx context.Context, req dto.ExportRequest) (*dto.ExportResponse, error) {
	return &dto.ExportResponse{URL: "/api/v1/exports/download?token=t"}, nil
}

func (s *exporterStub) ResolveDownload(ctx context.Context, token string) (*service.TimetableDownload, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	return &service.TimetableDownload{File: file, Filename: filepath.Base(s.path)}, nil
}

func TestExportHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "plan.csv")
	require.NoError(t, os.WriteFile(path, []byte("Date,Day\n"), 0o600))

	h := NewExportHandler(&planGroupGetterStub{}, &exporterStub{path: path})
	r := gin.New()
	r.GET("/exports/download", h.Download)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exports/download?token=good", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "plan.csv")
	assert.Equal(t, "Date,Day\n", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exports/download?token=bad", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exports/download", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return assert.AnError }),
		"skipped":  nil,
	})
	r := gin.New()
	r.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres":"ok"`)
	assert.NotContains(t, w.Body.String(), "skipped")
}
