package models

import "time"

// Plan is one persisted study session.
type Plan struct {
	ID             string     `db:"id" json:"id"`
	PlanGroupID    string     `db:"plan_group_id" json:"plan_group_id"`
	StudentID      string     `db:"student_id" json:"student_id"`
	ContentID      string     `db:"content_id" json:"content_id"`
	Subject        string     `db:"subject" json:"subject"`
	PlanDate       time.Time  `db:"plan_date" json:"plan_date"`
	StartTime      string     `db:"start_time" json:"start_time"`
	EndTime        string     `db:"end_time" json:"end_time"`
	Duration       int        `db:"duration_minutes" json:"duration_minutes"`
	DayType        string     `db:"day_type" json:"day_type"`
	PlanNumber     int        `db:"plan_number" json:"plan_number"`
	CycleNumber    int        `db:"cycle_number" json:"cycle_number"`
	CycleDayNumber int        `db:"cycle_day_number" json:"cycle_day_number"`
	Progress       int        `db:"progress" json:"progress"`
	ActualEndTime  *time.Time `db:"actual_end_time" json:"actual_end_time,omitempty"`
	IsArchived     bool       `db:"is_archived" json:"is_archived"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Completed reports whether the student finished the plan.
func (p *Plan) Completed() bool {
	return p.Progress >= 100 || p.ActualEndTime != nil
}

// Reschedulable reports whether the plan may be replaced by a reschedule.
func (p *Plan) Reschedulable() bool {
	return !p.Completed() && !p.IsArchived
}

// PlanFilter narrows plan listings.
type PlanFilter struct {
	PlanGroupID string
	From        *time.Time
	To          *time.Time
	ContentIDs  []string
	OnlyOpen    bool
}
