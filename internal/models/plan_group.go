package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PlanGroupStatus captures the plan group lifecycle.
type PlanGroupStatus string

const (
	PlanGroupStatusDraft        PlanGroupStatus = "draft"
	PlanGroupStatusActive       PlanGroupStatus = "active"
	PlanGroupStatusPaused       PlanGroupStatus = "paused"
	PlanGroupStatusArchived     PlanGroupStatus = "archived"
	PlanGroupStatusCompleted    PlanGroupStatus = "completed"
	PlanGroupStatusPendingPurge PlanGroupStatus = "archived_pending_purge"
)

// PlanGroupPurpose is the reason the plan group was created.
type PlanGroupPurpose string

const (
	PlanGroupPurposeSchoolExam PlanGroupPurpose = "내신대비"
	PlanGroupPurposeMockExam   PlanGroupPurpose = "모의고사"
	PlanGroupPurposeOther      PlanGroupPurpose = "기타"
)

// PlanGroup is the planning unit owning a set of plans.
type PlanGroup struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	Name           string           `db:"name" json:"name"`
	Purpose        PlanGroupPurpose `db:"purpose" json:"purpose"`
	SchedulerType  string           `db:"scheduler_type" json:"scheduler_type"`
	StudentLevel   string           `db:"student_level" json:"student_level"`
	PeriodStart    time.Time        `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time        `db:"period_end" json:"period_end"`
	MaxContents    int              `db:"max_contents" json:"max_contents"`
	SubjectTargets SubjectMinutes   `db:"subject_targets" json:"subject_targets"`
	SubjectRisk    SubjectScores    `db:"subject_risk" json:"subject_risk"`
	BlockSetID     *string          `db:"block_set_id" json:"block_set_id,omitempty"`
	CampTemplateID *string          `db:"camp_template_id" json:"camp_template_id,omitempty"`
	Status         PlanGroupStatus  `db:"status" json:"status"`
	PreviousStatus *PlanGroupStatus `db:"previous_status" json:"previous_status,omitempty"`
	PurgeAfter     *time.Time       `db:"purge_after" json:"purge_after,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// Mutable reports whether plans of the group may be rescheduled.
func (g *PlanGroup) Mutable() bool {
	switch g.Status {
	case PlanGroupStatusDraft, PlanGroupStatusActive, PlanGroupStatusPaused:
		return true
	}
	return false
}

// SubjectMinutes maps a subject to a minute figure, persisted as JSONB.
type SubjectMinutes map[string]int

// Value marshals the map to JSON for persistence.
func (m SubjectMinutes) Value() (driver.Value, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(map[string]int(m))
	if err != nil {
		return nil, fmt.Errorf("marshal subject minutes: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into the map.
func (m *SubjectMinutes) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan subject minutes: %w", err)
	}
	out := SubjectMinutes{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("unmarshal subject minutes: %w", err)
		}
	}
	*m = out
	return nil
}

// SubjectScores maps a subject to a 0..100 risk index, persisted as JSONB.
type SubjectScores map[string]float64

// Value marshals the map to JSON for persistence.
func (m SubjectScores) Value() (driver.Value, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(map[string]float64(m))
	if err != nil {
		return nil, fmt.Errorf("marshal subject scores: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into the map.
func (m *SubjectScores) Scan(value interface{}) error {
	data, err := jsonBytes(value)
	if err != nil {
		return fmt.Errorf("scan subject scores: %w", err)
	}
	out := SubjectScores{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("unmarshal subject scores: %w", err)
		}
	}
	*m = out
	return nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}
