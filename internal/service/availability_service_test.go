package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type blockSetStub struct {
	sets      map[string]*models.BlockSet
	active    map[string]string
	templates map[string]string
	blocks    map[string][]models.TimeBlock
}

func (s *blockSetStub) FindByID(ctx context.Context, id string) (*models.BlockSet, error) {
	if set, ok := s.sets[id]; ok {
		return set, nil
	}
	return nil, sql.ErrNoRows
}

func (s *blockSetStub) FindActiveByStudent(ctx context.Context, studentID string) (*models.BlockSet, error) {
	if id, ok := s.active[studentID]; ok {
		return s.sets[id], nil
	}
	return nil, sql.ErrNoRows
}

func (s *blockSetStub) FindByCampTemplate(ctx context.Context, templateID string) (*models.BlockSet, error) {
	if id, ok := s.templates[templateID]; ok {
		return s.sets[id], nil
	}
	return nil, sql.ErrNoRows
}

func (s *blockSetStub) ListBlocks(ctx context.Context, blockSetID string) ([]models.TimeBlock, error) {
	return s.blocks[blockSetID], nil
}

type exclusionStub struct {
	rows []models.Exclusion
}

func (s *exclusionStub) ListInRange(ctx context.Context, studentID string, from, to time.Time) ([]models.Exclusion, error) {
	return s.rows, nil
}

func weekdayRows(setID, start, end string) []models.TimeBlock {
	rows := make([]models.TimeBlock, 0, 5)
	for dow := 1; dow <= 5; dow++ {
		rows = append(rows, models.TimeBlock{BlockSetID: setID, DayOfWeek: dow, StartTime: start, EndTime: end})
	}
	return rows
}

func newAvailabilityFixture() (*AvailabilityService, *blockSetStub, *exclusionStub) {
	sets := &blockSetStub{
		sets: map[string]*models.BlockSet{
			"own":  {ID: "own"},
			"camp": {ID: "camp"},
		},
		active:    map[string]string{"stu-1": "own"},
		templates: map[string]string{"tpl-1": "camp"},
		blocks: map[string][]models.TimeBlock{
			"own":  weekdayRows("own", "18:00:00", "20:00:00"),
			"camp": append(weekdayRows("camp", "09:00", "12:00"), models.TimeBlock{BlockSetID: "camp", DayOfWeek: 6, StartTime: "09:00", EndTime: "10:00"}),
		},
	}
	exclusions := &exclusionStub{}
	return NewAvailabilityService(sets, exclusions, nil, nil), sets, exclusions
}

func TestAvailabilityServiceComputeUsesActiveSet(t *testing.T) {
	svc, _, exclusions := newAvailabilityFixture()
	exclusions.rows = []models.Exclusion{
		{ID: "ex-1", ExclusionDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), ExclusionType: "휴가"},
		{ID: "ex-2", ExclusionDate: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), ExclusionType: "unknown"},
	}

	resp, err := svc.Compute(context.Background(), dto.AvailabilityRequest{StudentID: "stu-1", StartDate: "2024-01-01", EndDate: "2024-01-07"})
	require.NoError(t, err)
	require.Len(t, resp.Days, 7)
	assert.True(t, resp.Days[1].Dropped)
	assert.Equal(t, 120, resp.Days[2].Capacity())
	assert.Equal(t, 4*120, resp.TotalMinutes)
}

func TestAvailabilityServiceCampMergesOverrides(t *testing.T) {
	svc, _, _ := newAvailabilityFixture()
	tpl := "tpl-1"
	group := &models.PlanGroup{StudentID: "stu-1", CampTemplateID: &tpl}
	rng, err := scheduler.NewDateRange("2024-01-01", "2024-01-07")
	require.NoError(t, err)

	avail, err := svc.ForPlanGroup(context.Background(), group, rng)
	require.NoError(t, err)
	monday, ok := avail.Day("2024-01-01")
	require.True(t, ok)
	assert.Equal(t, 120, monday.Capacity(), "student override replaces the template weekday")
	saturday, _ := avail.Day("2024-01-06")
	assert.Equal(t, 60, saturday.Capacity(), "template weekday without override is kept")
}

func TestAvailabilityServiceNoBlockSetMeansNoCapacity(t *testing.T) {
	svc, _, _ := newAvailabilityFixture()
	resp, err := svc.Compute(context.Background(), dto.AvailabilityRequest{StudentID: "stu-2", StartDate: "2024-01-01", EndDate: "2024-01-03"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.TotalMinutes)
	assert.Len(t, resp.Days, 3)
}

func TestAvailabilityServiceErrors(t *testing.T) {
	svc, sets, _ := newAvailabilityFixture()

	_, err := svc.Compute(context.Background(), dto.AvailabilityRequest{StudentID: "stu-1", StartDate: "2024-01-05", EndDate: "2024-01-01"})
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = svc.Compute(context.Background(), dto.AvailabilityRequest{StudentID: "stu-1", StartDate: "2024-01-01", EndDate: "2024-01-02", BlockSetID: "nope"})
	assertAppError(t, err, appErrors.ErrNotFound.Code)

	sets.blocks["own"] = []models.TimeBlock{{ID: "bad", DayOfWeek: 1, StartTime: "12:00", EndTime: "11:00"}}
	_, err = svc.Compute(context.Background(), dto.AvailabilityRequest{StudentID: "stu-1", StartDate: "2024-01-01", EndDate: "2024-01-02"})
	assertAppError(t, err, appErrors.ErrInvalidTimeBlock.Code)
}

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code, appErr.Code)
}
