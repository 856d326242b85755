package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RescheduleOutcome is the terminal result of a reschedule transaction.
type RescheduleOutcome string

const (
	RescheduleOutcomeCommitted    RescheduleOutcome = "committed"
	RescheduleOutcomeRolledBack   RescheduleOutcome = "rolled_back"
	RescheduleOutcomeManualReview RescheduleOutcome = "manual_review"
)

// RescheduleLog records one reschedule transaction with before/after
// snapshots for recovery.
type RescheduleLog struct {
	ID             string            `db:"id" json:"id"`
	PlanGroupID    string            `db:"plan_group_id" json:"plan_group_id"`
	ActorID        string            `db:"actor_id" json:"actor_id"`
	Outcome        RescheduleOutcome `db:"outcome" json:"outcome"`
	StateTrace     types.JSONText    `db:"state_trace" json:"state_trace"`
	BeforeSnapshot types.JSONText    `db:"before_snapshot" json:"before_snapshot"`
	AfterSnapshot  types.JSONText    `db:"after_snapshot" json:"after_snapshot"`
	Conflicts      types.JSONText    `db:"conflicts" json:"conflicts"`
	ErrorMessage   *string           `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}
