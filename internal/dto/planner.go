package dto

import (
	"time"

	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
)

// AvailabilityRequest asks for the available segments of a student over a range.
type AvailabilityRequest struct {
	StudentID      string `json:"studentId" validate:"required"`
	StartDate      string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string `json:"endDate" validate:"required,datetime=2006-01-02"`
	BlockSetID     string `json:"blockSetId"`
	CampTemplateID string `json:"campTemplateId"`
}

// AvailabilityResponse lists per-date segments.
type AvailabilityResponse struct {
	StartDate    string                      `json:"startDate"`
	EndDate      string                      `json:"endDate"`
	TotalMinutes int                         `json:"totalMinutes"`
	Days         []scheduler.DayAvailability `json:"days"`
}

// CreatePlanGroupRequest creates a draft plan group.
type CreatePlanGroupRequest struct {
	StudentID      string             `json:"studentId" validate:"required"`
	Name           string             `json:"name" validate:"required,max=120"`
	Purpose        string             `json:"purpose" validate:"omitempty,oneof=내신대비 모의고사 기타"`
	SchedulerType  string             `json:"schedulerType" validate:"required,oneof=score fixed-cycle weak-subject custom"`
	StudentLevel   string             `json:"studentLevel" validate:"omitempty,oneof=high medium low"`
	StartDate      string             `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate        string             `json:"endDate" validate:"required,datetime=2006-01-02"`
	MaxContents    int                `json:"maxContents" validate:"omitempty,min=1,max=50"`
	SubjectTargets map[string]int     `json:"subjectTargets" validate:"omitempty,dive,min=0"`
	SubjectRisk    map[string]float64 `json:"subjectRisk" validate:"omitempty,dive,min=0,max=100"`
	BlockSetID     *string            `json:"blockSetId"`
	CampTemplateID *string            `json:"campTemplateId"`
}

// PreviewRequest renders a what-if schedule for a plan group.
type PreviewRequest struct {
	PlanGroupID string                  `json:"-"`
	Contents    []models.ContentRef     `json:"contents" validate:"required,min=1"`
	Custom      []scheduler.CustomEntry `json:"custom"`
}

// PreviewResponse wraps the timeline plus resolution diagnostics.
type PreviewResponse struct {
	Timeline    scheduler.Timeline     `json:"timeline"`
	Diagnostics []ResolutionDiagnostic `json:"diagnostics"`
	Cached      bool                   `json:"cached"`
}

// ResolutionDiagnostic reports a content reference excluded from scheduling.
type ResolutionDiagnostic struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// AdjustmentType enumerates per-content reschedule adjustments.
type AdjustmentType string

const (
	AdjustmentRangeChange      AdjustmentType = "range_change"
	AdjustmentReplace          AdjustmentType = "replace"
	AdjustmentFullRegeneration AdjustmentType = "full_regeneration"
)

// ContentAdjustment modifies one content before re-planning.
type ContentAdjustment struct {
	ContentID   string             `json:"contentId" validate:"required"`
	Type        AdjustmentType     `json:"type" validate:"required,oneof=range_change replace full_regeneration"`
	StartRange  *int               `json:"startRange" validate:"omitempty,min=0"`
	EndRange    *int               `json:"endRange" validate:"omitempty,min=0"`
	Replacement *models.ContentRef `json:"replacement"`
}

// RescheduleRequest re-plans a plan group under its lock.
type RescheduleRequest struct {
	PlanGroupID   string                  `json:"planGroupId"`
	ActorID       string                  `json:"-"`
	Contents      []models.ContentRef     `json:"contents" validate:"required,min=1"`
	Adjustments   []ContentAdjustment     `json:"adjustments" validate:"omitempty,dive"`
	Custom        []scheduler.CustomEntry `json:"custom"`
	StartDate     string                  `json:"startDate" validate:"omitempty,datetime=2006-01-02"`
	EndDate       string                  `json:"endDate" validate:"omitempty,datetime=2006-01-02"`
	AllowWarnings bool                    `json:"allowWarnings"`
}

// RescheduleDiff summarises what a reschedule changed.
type RescheduleDiff struct {
	RemovedPlans  int `json:"removedPlans"`
	AddedPlans    int `json:"addedPlans"`
	KeptPlans     int `json:"keptPlans"`
	BeforeMinutes int `json:"beforeMinutes"`
	AfterMinutes  int `json:"afterMinutes"`
}

// RescheduleResponse reports the transaction outcome.
type RescheduleResponse struct {
	PlanGroupID string                 `json:"planGroupId"`
	LogID       string                 `json:"logId"`
	State       string                 `json:"state"`
	Trace       []string               `json:"trace"`
	Diff        RescheduleDiff         `json:"diff"`
	Result      scheduler.Result       `json:"result"`
	Diagnostics []ResolutionDiagnostic `json:"diagnostics"`
}

// ConflictCheckRequest runs the detector over caller supplied plans.
type ConflictCheckRequest struct {
	PlanGroupID string           `json:"-"`
	Plans       []scheduler.Plan `json:"plans" validate:"required,min=1"`
}

// ConflictCheckResponse lists detected conflicts.
type ConflictCheckResponse struct {
	Conflicts []scheduler.ConflictDetail `json:"conflicts"`
	Blocking  bool                       `json:"blocking"`
}

// BatchRescheduleRequest queues reschedules for many plan groups.
type BatchRescheduleRequest struct {
	Items []RescheduleRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

// BatchItemStatus tracks one queued reschedule.
type BatchItemStatus struct {
	PlanGroupID string `json:"planGroupId"`
	Status      string `json:"status"`
	LogID       string `json:"logId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BatchRescheduleResponse reports batch progress.
type BatchRescheduleResponse struct {
	BatchID   string            `json:"batchId"`
	CreatedAt time.Time         `json:"createdAt"`
	Items     []BatchItemStatus `json:"items"`
}

// ExportRequest selects a timetable export format.
type ExportRequest struct {
	PlanGroupID string `json:"-"`
	Format      string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportResponse returns a signed download link.
type ExportResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PlanGroupTransitionRequest moves a plan group through its lifecycle.
type PlanGroupTransitionRequest struct {
	Action string `json:"action" validate:"required,oneof=activate pause resume archive complete"`
}
