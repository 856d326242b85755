package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/study-planner-api/internal/models"
)

const planGroupColumns = `id, student_id, name, purpose, scheduler_type, student_level, period_start, period_end, max_contents,
subject_targets, subject_risk, block_set_id, camp_template_id, status, previous_status, purge_after, created_at, updated_at`

// PlanGroupRepository persists plan groups.
type PlanGroupRepository struct {
	db *sqlx.DB
}

// NewPlanGroupRepository constructs the repository.
func NewPlanGroupRepository(db *sqlx.DB) *PlanGroupRepository {
	return &PlanGroupRepository{db: db}
}

func (r *PlanGroupRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a plan group in draft status.
func (r *PlanGroupRepository) Create(ctx context.Context, group *models.PlanGroup) error {
	if group == nil {
		return fmt.Errorf("plan group payload is nil")
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.Status == "" {
		group.Status = models.PlanGroupStatusDraft
	}
	if group.SubjectTargets == nil {
		group.SubjectTargets = models.SubjectMinutes{}
	}
	if group.SubjectRisk == nil {
		group.SubjectRisk = models.SubjectScores{}
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now

	const query = `
INSERT INTO plan_groups (id, student_id, name, purpose, scheduler_type, student_level, period_start, period_end, max_contents,
	subject_targets, subject_risk, block_set_id, camp_template_id, status, created_at, updated_at)
VALUES (:id, :student_id, :name, :purpose, :scheduler_type, :student_level, :period_start, :period_end, :max_contents,
	:subject_targets, :subject_risk, :block_set_id, :camp_template_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, group); err != nil {
		return fmt.Errorf("insert plan group: %w", err)
	}
	return nil
}

// FindByID loads a plan group.
func (r *PlanGroupRepository) FindByID(ctx context.Context, id string) (*models.PlanGroup, error) {
	query := `SELECT ` + planGroupColumns + ` FROM plan_groups WHERE id = $1`
	var group models.PlanGroup
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateStatus moves a plan group to a new status, remembering the previous one.
func (r *PlanGroupRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanGroupStatus, previous *models.PlanGroupStatus) error {
	const query = `UPDATE plan_groups SET status = $1, previous_status = $2, purge_after = NULL, updated_at = $3 WHERE id = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, status, previous, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update plan group status: %w", err)
	}
	return requireAffected(result, "plan group status")
}

// MarkPendingPurge soft deletes a plan group until purgeAfter.
func (r *PlanGroupRepository) MarkPendingPurge(ctx context.Context, id string, previous models.PlanGroupStatus, purgeAfter time.Time) error {
	const query = `UPDATE plan_groups SET status = $1, previous_status = $2, purge_after = $3, updated_at = $4 WHERE id = $5 AND status <> $1`
	result, err := r.db.ExecContext(ctx, query, models.PlanGroupStatusPendingPurge, previous, purgeAfter, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete plan group: %w", err)
	}
	return requireAffected(result, "plan group soft delete")
}

// ListPurgeable returns soft deleted groups whose retention window elapsed.
func (r *PlanGroupRepository) ListPurgeable(ctx context.Context, now time.Time) ([]string, error) {
	const query = `SELECT id FROM plan_groups WHERE status = $1 AND purge_after <= $2 ORDER BY purge_after`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.PlanGroupStatusPendingPurge, now); err != nil {
		return nil, fmt.Errorf("list purgeable plan groups: %w", err)
	}
	return ids, nil
}

// Purge hard deletes a soft deleted plan group; plans cascade.
func (r *PlanGroupRepository) Purge(ctx context.Context, id string) error {
	const query = `DELETE FROM plan_groups WHERE id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, id, models.PlanGroupStatusPendingPurge)
	if err != nil {
		return fmt.Errorf("purge plan group: %w", err)
	}
	return requireAffected(result, "plan group purge")
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
