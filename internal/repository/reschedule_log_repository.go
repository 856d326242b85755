package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/study-planner-api/internal/models"
)

// RescheduleLogRepository stores reschedule transaction records.
type RescheduleLogRepository struct {
	db *sqlx.DB
}

// NewRescheduleLogRepository constructs the repository.
func NewRescheduleLogRepository(db *sqlx.DB) *RescheduleLogRepository {
	return &RescheduleLogRepository{db: db}
}

// Create inserts a log entry.
func (r *RescheduleLogRepository) Create(ctx context.Context, log *models.RescheduleLog) error {
	if log == nil {
		return fmt.Errorf("reschedule log payload is nil")
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	for _, field := range []*types.JSONText{&log.StateTrace, &log.BeforeSnapshot, &log.AfterSnapshot, &log.Conflicts} {
		if len(*field) == 0 {
			*field = types.JSONText(`[]`)
		}
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO reschedule_logs (id, plan_group_id, actor_id, outcome, state_trace, before_snapshot, after_snapshot, conflicts, error_message, created_at)
VALUES (:id, :plan_group_id, :actor_id, :outcome, :state_trace, :before_snapshot, :after_snapshot, :conflicts, :error_message, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("insert reschedule log: %w", err)
	}
	return nil
}

// ListByGroup returns the most recent logs of a plan group.
func (r *RescheduleLogRepository) ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, plan_group_id, actor_id, outcome, state_trace, before_snapshot, after_snapshot, conflicts, error_message, created_at
FROM reschedule_logs WHERE plan_group_id = $1 ORDER BY created_at DESC LIMIT $2`
	var logs []models.RescheduleLog
	if err := r.db.SelectContext(ctx, &logs, query, groupID, limit); err != nil {
		return nil, fmt.Errorf("list reschedule logs: %w", err)
	}
	return logs, nil
}
