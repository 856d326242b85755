package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-planner-api/internal/models"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var planColumns = []string{
	"id", "plan_group_id", "student_id", "content_id", "subject", "plan_date", "start_time", "end_time",
	"duration_minutes", "day_type", "plan_number", "cycle_number", "cycle_day_number", "progress",
	"actual_end_time", "is_archived", "created_at", "updated_at",
}

// PlanRepository persists plans.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// List returns plans matching the filter ordered by date, start time and plan number.
func (r *PlanRepository) List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error) {
	builder := psql.Select(planColumns...).From("plans").Where(squirrel.Eq{"plan_group_id": filter.PlanGroupID})
	if filter.From != nil {
		builder = builder.Where(squirrel.GtOrEq{"plan_date": *filter.From})
	}
	if filter.To != nil {
		builder = builder.Where(squirrel.LtOrEq{"plan_date": *filter.To})
	}
	if len(filter.ContentIDs) > 0 {
		builder = builder.Where(squirrel.Eq{"content_id": filter.ContentIDs})
	}
	if filter.OnlyOpen {
		builder = builder.Where(squirrel.And{
			squirrel.Lt{"progress": 100},
			squirrel.Eq{"actual_end_time": nil},
			squirrel.Eq{"is_archived": false},
		})
	}
	query, args, err := builder.OrderBy("plan_date", "start_time", "plan_number").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build plan list query: %w", err)
	}

	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// ReplaceInRange atomically deletes the reschedulable plans of a group inside
// [from, to] and inserts the given plans. Completed or archived plans are
// never touched. Plans that already carry ids and timestamps, such as a
// restored snapshot, keep them.
func (r *PlanRepository) ReplaceInRange(ctx context.Context, groupID string, from, to time.Time, plans []models.Plan) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin plan replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const deleteQuery = `DELETE FROM plans WHERE plan_group_id = $1 AND plan_date BETWEEN $2 AND $3
AND progress < 100 AND actual_end_time IS NULL AND is_archived = FALSE`
	if _, err = tx.ExecContext(ctx, deleteQuery, groupID, from, to); err != nil {
		return fmt.Errorf("delete plans in range: %w", err)
	}

	if len(plans) > 0 {
		now := time.Now().UTC()
		for i := range plans {
			if plans[i].ID == "" {
				plans[i].ID = uuid.NewString()
			}
			plans[i].PlanGroupID = groupID
			if plans[i].CreatedAt.IsZero() {
				plans[i].CreatedAt = now
			}
			if plans[i].UpdatedAt.IsZero() {
				plans[i].UpdatedAt = now
			}
		}
		const insertQuery = `
INSERT INTO plans (id, plan_group_id, student_id, content_id, subject, plan_date, start_time, end_time, duration_minutes,
	day_type, plan_number, cycle_number, cycle_day_number, progress, actual_end_time, is_archived, created_at, updated_at)
VALUES (:id, :plan_group_id, :student_id, :content_id, :subject, :plan_date, :start_time, :end_time, :duration_minutes,
	:day_type, :plan_number, :cycle_number, :cycle_day_number, :progress, :actual_end_time, :is_archived, :created_at, :updated_at)`
		if _, err = tx.NamedExecContext(ctx, insertQuery, plans); err != nil {
			return fmt.Errorf("insert plans: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit plan replace: %w", err)
	}
	return nil
}
