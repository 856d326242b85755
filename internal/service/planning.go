package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type planGroupReader interface {
	FindByID(ctx context.Context, id string) (*models.PlanGroup, error)
}

type planLister interface {
	List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error)
}

type contentResolver interface {
	Resolve(ctx context.Context, studentID string, refs []models.ContentRef, level scheduler.StudentLevel, opts ResolveOptions) (*ResolvedContents, error)
}

type availabilityProvider interface {
	ForPlanGroup(ctx context.Context, group *models.PlanGroup, rng scheduler.DateRange) (scheduler.Availability, error)
}

func loadPlanGroup(ctx context.Context, groups planGroupReader, id string) (*models.PlanGroup, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "plan group id is required")
	}
	group, err := groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan group")
	}
	if group.Status == models.PlanGroupStatusPendingPurge {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "plan group not found")
	}
	return group, nil
}

func groupRange(group *models.PlanGroup) scheduler.DateRange {
	return scheduler.DateRange{Start: group.PeriodStart, End: group.PeriodEnd}
}

// narrowRange clamps an optional YYYY-MM-DD window to the group period.
func narrowRange(group *models.PlanGroup, start, end string) (scheduler.DateRange, error) {
	rng := groupRange(group)
	if start != "" {
		d, err := scheduler.ParseDate(start)
		if err != nil {
			return rng, err
		}
		if d.After(rng.Start) {
			rng.Start = d
		}
	}
	if end != "" {
		d, err := scheduler.ParseDate(end)
		if err != nil {
			return rng, err
		}
		if d.Before(rng.End) {
			rng.End = d
		}
	}
	if err := rng.Validate(); err != nil {
		return rng, fmt.Errorf("window outside plan group period: %w", err)
	}
	return rng, nil
}

func groupLevel(group *models.PlanGroup) scheduler.StudentLevel {
	level, err := scheduler.ParseStudentLevel(group.StudentLevel)
	if err != nil {
		return scheduler.LevelMedium
	}
	return level
}

func groupOptions(group *models.PlanGroup) scheduler.Options {
	return scheduler.Options{
		Type:                scheduler.SchedulerType(group.SchedulerType),
		StudentLevel:        groupLevel(group),
		MaxContentsPerGroup: group.MaxContents,
		SubjectTargets:      map[string]int(group.SubjectTargets),
		SubjectRisk:         map[string]float64(group.SubjectRisk),
	}
}

// splitPlans separates plans a reschedule may replace from plans it must keep.
func splitPlans(plans []models.Plan) (open, kept []models.Plan) {
	for _, p := range plans {
		if p.Reschedulable() {
			open = append(open, p)
		} else {
			kept = append(kept, p)
		}
	}
	return open, kept
}

func toEnginePlans(plans []models.Plan) ([]scheduler.Plan, error) {
	out := make([]scheduler.Plan, 0, len(plans))
	for _, p := range plans {
		start, err := scheduler.ParseClock(p.StartTime)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.ID, err)
		}
		end, err := scheduler.ParseClock(p.EndTime)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.ID, err)
		}
		out = append(out, scheduler.Plan{
			ID:              p.ID,
			ContentID:       p.ContentID,
			Subject:         p.Subject,
			Date:            scheduler.FormatDate(p.PlanDate),
			Start:           start,
			End:             end,
			DurationMinutes: p.Duration,
			DayType:         scheduler.DayType(p.DayType),
			PlanNumber:      p.PlanNumber,
			CycleNumber:     p.CycleNumber,
			CycleDayNumber:  p.CycleDayNumber,
		})
	}
	return out, nil
}

func toModelPlans(group *models.PlanGroup, plans []scheduler.Plan) ([]models.Plan, error) {
	out := make([]models.Plan, 0, len(plans))
	for _, p := range plans {
		date, err := scheduler.ParseDate(p.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Plan{
			ID:             p.ID,
			PlanGroupID:    group.ID,
			StudentID:      group.StudentID,
			ContentID:      p.ContentID,
			Subject:        p.Subject,
			PlanDate:       date,
			StartTime:      p.Start.String(),
			EndTime:        p.End.String(),
			Duration:       p.DurationMinutes,
			DayType:        string(p.DayType),
			PlanNumber:     p.PlanNumber,
			CycleNumber:    p.CycleNumber,
			CycleDayNumber: p.CycleDayNumber,
		})
	}
	return out, nil
}

// mapCustomEntries rewrites custom entries that name a reference key (for
// example "master:<id>") to the resolved student content id.
func mapCustomEntries(entries []scheduler.CustomEntry, idMap map[string]string) []scheduler.CustomEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]scheduler.CustomEntry, len(entries))
	for i, e := range entries {
		if mapped, ok := idMap[e.ContentID]; ok {
			e.ContentID = mapped
		}
		out[i] = e
	}
	return out
}

func allocationError(err error) error {
	if errors.Is(err, scheduler.ErrInvalidInput) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "allocation failed")
}

func rangeFilter(groupID string, rng scheduler.DateRange) models.PlanFilter {
	from, to := rng.Start, rng.End
	return models.PlanFilter{PlanGroupID: groupID, From: &from, To: &to}
}

func sumMinutes(plans []models.Plan) int {
	total := 0
	for _, p := range plans {
		total += p.Duration
	}
	return total
}
