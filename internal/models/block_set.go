package models

import "time"

// BlockSet is a named collection of weekly availability windows.
type BlockSet struct {
	ID             string    `db:"id" json:"id"`
	StudentID      *string   `db:"student_id" json:"student_id,omitempty"`
	CampTemplateID *string   `db:"camp_template_id" json:"camp_template_id,omitempty"`
	Name           string    `db:"name" json:"name"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// TimeBlock is a recurring weekly window inside a block set.
type TimeBlock struct {
	ID         string `db:"id" json:"id"`
	BlockSetID string `db:"block_set_id" json:"block_set_id"`
	DayOfWeek  int    `db:"day_of_week" json:"day_of_week"`
	StartTime  string `db:"start_time" json:"start_time"`
	EndTime    string `db:"end_time" json:"end_time"`
}
