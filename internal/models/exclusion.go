package models

import "time"

// Exclusion restricts availability on a calendar date.
type Exclusion struct {
	ID            string    `db:"id" json:"id"`
	StudentID     string    `db:"student_id" json:"student_id"`
	ExclusionDate time.Time `db:"exclusion_date" json:"exclusion_date"`
	ExclusionType string    `db:"exclusion_type" json:"exclusion_type"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	CreatedBy     string    `db:"created_by" json:"created_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
