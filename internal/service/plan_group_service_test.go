package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type planGroupStoreStub struct {
	mu     sync.Mutex
	groups map[string]*models.PlanGroup
	purged []string
}

func newPlanGroupStoreStub(groups ...*models.PlanGroup) *planGroupStoreStub {
	stub := &planGroupStoreStub{groups: map[string]*models.PlanGroup{}}
	for _, g := range groups {
		stub.groups[g.ID] = g
	}
	return stub
}

func (s *planGroupStoreStub) Create(ctx context.Context, group *models.PlanGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group.ID == "" {
		group.ID = "pg-new"
	}
	stored := *group
	s.groups[group.ID] = &stored
	return nil
}

func (s *planGroupStoreStub) FindByID(ctx context.Context, id string) (*models.PlanGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *g
	return &clone, nil
}

func (s *planGroupStoreStub) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanGroupStatus, previous *models.PlanGroupStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return sql.ErrNoRows
	}
	g.Status = status
	g.PreviousStatus = previous
	g.PurgeAfter = nil
	return nil
}

func (s *planGroupStoreStub) MarkPendingPurge(ctx context.Context, id string, previous models.PlanGroupStatus, purgeAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.Status == models.PlanGroupStatusPendingPurge {
		return sql.ErrNoRows
	}
	g.Status = models.PlanGroupStatusPendingPurge
	g.PreviousStatus = &previous
	g.PurgeAfter = &purgeAfter
	return nil
}

func (s *planGroupStoreStub) ListPurgeable(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, g := range s.groups {
		if g.Status == models.PlanGroupStatusPendingPurge && g.PurgeAfter != nil && !g.PurgeAfter.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *planGroupStoreStub) Purge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.groups, id)
	s.purged = append(s.purged, id)
	return nil
}

type logReaderStub struct {
	logs []models.RescheduleLog
	err  error
}

func (s *logReaderStub) ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error) {
	return s.logs, s.err
}

func newPlanGroupFixture(groups ...*models.PlanGroup) (*PlanGroupService, *planGroupStoreStub) {
	store := newPlanGroupStoreStub(groups...)
	svc := NewPlanGroupService(store, &logReaderStub{}, nil, nil, PlanGroupConfig{Retention: time.Hour})
	return svc, store
}

func TestPlanGroupServiceCreate(t *testing.T) {
	svc, store := newPlanGroupFixture()
	group, err := svc.Create(context.Background(), dto.CreatePlanGroupRequest{
		StudentID:     "stu-1",
		Name:          "Midterm",
		SchedulerType: "score",
		StartDate:     "2024-03-01",
		EndDate:       "2024-03-31",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PlanGroupStatusDraft, group.Status)
	assert.Equal(t, models.PlanGroupPurposeOther, group.Purpose)
	assert.Equal(t, "medium", group.StudentLevel)
	assert.Equal(t, 9, group.MaxContents)
	assert.Contains(t, store.groups, group.ID)
}

func TestPlanGroupServiceCreateValidation(t *testing.T) {
	svc, _ := newPlanGroupFixture()
	_, err := svc.Create(context.Background(), dto.CreatePlanGroupRequest{
		StudentID: "stu-1", Name: "x", SchedulerType: "random", StartDate: "2024-03-01", EndDate: "2024-03-31",
	})
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = svc.Create(context.Background(), dto.CreatePlanGroupRequest{
		StudentID: "stu-1", Name: "x", SchedulerType: "score", StartDate: "2024-03-31", EndDate: "2024-03-01",
	})
	assertAppError(t, err, appErrors.ErrValidation.Code)
}

func TestPlanGroupServiceTransitions(t *testing.T) {
	svc, store := newPlanGroupFixture(&models.PlanGroup{ID: "pg-1", Status: models.PlanGroupStatusActive})

	group, err := svc.Transition(context.Background(), "pg-1", dto.PlanGroupTransitionRequest{Action: "pause"})
	require.NoError(t, err)
	assert.Equal(t, models.PlanGroupStatusPaused, group.Status)
	assert.Equal(t, models.PlanGroupStatusPaused, store.groups["pg-1"].Status)

	_, err = svc.Transition(context.Background(), "pg-1", dto.PlanGroupTransitionRequest{Action: "pause"})
	assertAppError(t, err, appErrors.ErrInvalidState.Code)

	_, err = svc.Transition(context.Background(), "missing", dto.PlanGroupTransitionRequest{Action: "resume"})
	assertAppError(t, err, appErrors.ErrNotFound.Code)
}

func TestPlanGroupServiceSoftDeleteAndRestore(t *testing.T) {
	svc, store := newPlanGroupFixture(&models.PlanGroup{ID: "pg-1", Status: models.PlanGroupStatusPaused})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	group, err := svc.Delete(context.Background(), "pg-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanGroupStatusPendingPurge, group.Status)
	assert.Equal(t, now.Add(time.Hour), *group.PurgeAfter)

	_, err = svc.Delete(context.Background(), "pg-1")
	assertAppError(t, err, appErrors.ErrInvalidState.Code)

	restored, err := svc.Restore(context.Background(), "pg-1")
	require.NoError(t, err)
	assert.Equal(t, models.PlanGroupStatusPaused, restored.Status)
	assert.Nil(t, store.groups["pg-1"].PurgeAfter)
}

func TestPlanGroupServiceRestoreAfterRetention(t *testing.T) {
	svc, _ := newPlanGroupFixture(&models.PlanGroup{ID: "pg-1", Status: models.PlanGroupStatusActive})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	_, err := svc.Delete(context.Background(), "pg-1")
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = svc.Restore(context.Background(), "pg-1")
	assertAppError(t, err, appErrors.ErrInvalidState.Code)
}

func TestPlanGroupServicePurgeExpired(t *testing.T) {
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newPlanGroupFixture(
		&models.PlanGroup{ID: "old", Status: models.PlanGroupStatusPendingPurge, PurgeAfter: &past},
		&models.PlanGroup{ID: "recent", Status: models.PlanGroupStatusPendingPurge, PurgeAfter: &future},
		&models.PlanGroup{ID: "live", Status: models.PlanGroupStatusActive},
	)
	svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	purged, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.Equal(t, []string{"old"}, store.purged)
	assert.Contains(t, store.groups, "recent")
}

func TestPlanGroupServiceHistory(t *testing.T) {
	store := newPlanGroupStoreStub(&models.PlanGroup{ID: "pg-1", Status: models.PlanGroupStatusActive})
	logs := &logReaderStub{logs: []models.RescheduleLog{{ID: "log-1", Outcome: models.RescheduleOutcomeCommitted}}}
	svc := NewPlanGroupService(store, logs, nil, nil, PlanGroupConfig{})

	history, err := svc.History(context.Background(), "pg-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	logs.err = errors.New("boom")
	_, err = svc.History(context.Background(), "pg-1", 10)
	assertAppError(t, err, appErrors.ErrInternal.Code)
}
