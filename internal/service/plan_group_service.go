package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type planGroupStore interface {
	Create(ctx context.Context, group *models.PlanGroup) error
	FindByID(ctx context.Context, id string) (*models.PlanGroup, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanGroupStatus, previous *models.PlanGroupStatus) error
	MarkPendingPurge(ctx context.Context, id string, previous models.PlanGroupStatus, purgeAfter time.Time) error
	ListPurgeable(ctx context.Context, now time.Time) ([]string, error)
	Purge(ctx context.Context, id string) error
}

type rescheduleLogReader interface {
	ListByGroup(ctx context.Context, groupID string, limit int) ([]models.RescheduleLog, error)
}

type statusTransition struct {
	from []models.PlanGroupStatus
	to   models.PlanGroupStatus
}

var planGroupTransitions = map[string]statusTransition{
	"activate": {from: []models.PlanGroupStatus{models.PlanGroupStatusDraft}, to: models.PlanGroupStatusActive},
	"pause":    {from: []models.PlanGroupStatus{models.PlanGroupStatusActive}, to: models.PlanGroupStatusPaused},
	"resume":   {from: []models.PlanGroupStatus{models.PlanGroupStatusPaused}, to: models.PlanGroupStatusActive},
	"complete": {from: []models.PlanGroupStatus{models.PlanGroupStatusActive, models.PlanGroupStatusPaused}, to: models.PlanGroupStatusCompleted},
	"archive": {
		from: []models.PlanGroupStatus{models.PlanGroupStatusDraft, models.PlanGroupStatusActive, models.PlanGroupStatusPaused, models.PlanGroupStatusCompleted},
		to:   models.PlanGroupStatusArchived,
	},
}

// PlanGroupConfig tunes soft delete retention.
type PlanGroupConfig struct {
	Retention     time.Duration
	SweepInterval time.Duration
	MaxContents   int
}

// PlanGroupService manages plan group lifecycle including soft delete and
// the background purge of expired groups.
type PlanGroupService struct {
	groups    planGroupStore
	logs      rescheduleLogReader
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PlanGroupConfig
	now       func() time.Time
}

// NewPlanGroupService constructs the service.
func NewPlanGroupService(groups planGroupStore, logs rescheduleLogReader, validate *validator.Validate, logger *zap.Logger, cfg PlanGroupConfig) *PlanGroupService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.MaxContents <= 0 {
		cfg.MaxContents = scheduler.DefaultConfig().MaxContentsPerGroup
	}
	return &PlanGroupService{groups: groups, logs: logs, validator: validate, logger: logger, cfg: cfg, now: time.Now}
}

// Create stores a new draft plan group.
func (s *PlanGroupService) Create(ctx context.Context, req dto.CreatePlanGroupRequest) (*models.PlanGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid plan group payload")
	}
	rng, err := scheduler.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if req.BlockSetID != nil && req.CampTemplateID != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "blockSetId and campTemplateId are mutually exclusive")
	}

	purpose := models.PlanGroupPurpose(req.Purpose)
	if purpose == "" {
		purpose = models.PlanGroupPurposeOther
	}
	level, err := scheduler.ParseStudentLevel(req.StudentLevel)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	maxContents := req.MaxContents
	if maxContents <= 0 {
		maxContents = s.cfg.MaxContents
	}

	group := &models.PlanGroup{
		StudentID:      req.StudentID,
		Name:           req.Name,
		Purpose:        purpose,
		SchedulerType:  req.SchedulerType,
		StudentLevel:   string(level),
		PeriodStart:    rng.Start,
		PeriodEnd:      rng.End,
		MaxContents:    maxContents,
		SubjectTargets: models.SubjectMinutes(req.SubjectTargets),
		SubjectRisk:    models.SubjectScores(req.SubjectRisk),
		BlockSetID:     req.BlockSetID,
		CampTemplateID: req.CampTemplateID,
		Status:         models.PlanGroupStatusDraft,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan group")
	}
	s.logger.Info("plan group created", zap.String("plan_group_id", group.ID), zap.String("student_id", group.StudentID))
	return group, nil
}

// Get loads a plan group.
func (s *PlanGroupService) Get(ctx context.Context, id string) (*models.PlanGroup, error) {
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "plan group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan group")
	}
	return group, nil
}

// Transition applies a lifecycle action such as pause or archive.
func (s *PlanGroupService) Transition(ctx context.Context, id string, req dto.PlanGroupTransitionRequest) (*models.PlanGroup, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	group, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rule := planGroupTransitions[req.Action]
	if !statusIn(group.Status, rule.from) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot %s a plan group in status %s", req.Action, group.Status))
	}
	previous := group.Status
	if err := s.groups.UpdateStatus(ctx, nil, id, rule.to, &previous); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update plan group status")
	}
	group.PreviousStatus = &previous
	group.Status = rule.to
	s.logger.Info("plan group status changed",
		zap.String("plan_group_id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(rule.to)),
	)
	return group, nil
}

// Delete soft deletes a plan group. It stays restorable until the retention
// window elapses.
func (s *PlanGroupService) Delete(ctx context.Context, id string) (*models.PlanGroup, error) {
	group, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if group.Status == models.PlanGroupStatusPendingPurge {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "plan group is already deleted")
	}
	purgeAfter := s.now().UTC().Add(s.cfg.Retention)
	if err := s.groups.MarkPendingPurge(ctx, id, group.Status, purgeAfter); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "plan group is already deleted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete plan group")
	}
	previous := group.Status
	group.PreviousStatus = &previous
	group.Status = models.PlanGroupStatusPendingPurge
	group.PurgeAfter = &purgeAfter
	return group, nil
}

// Restore reverts a soft delete while the retention window is open.
func (s *PlanGroupService) Restore(ctx context.Context, id string) (*models.PlanGroup, error) {
	group, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if group.Status != models.PlanGroupStatusPendingPurge {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "plan group is not deleted")
	}
	if group.PurgeAfter != nil && !s.now().Before(*group.PurgeAfter) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "retention window elapsed")
	}
	target := models.PlanGroupStatusDraft
	if group.PreviousStatus != nil {
		target = *group.PreviousStatus
	}
	if err := s.groups.UpdateStatus(ctx, nil, id, target, nil); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore plan group")
	}
	group.Status = target
	group.PreviousStatus = nil
	group.PurgeAfter = nil
	return group, nil
}

// History lists recent reschedule transactions of a plan group.
func (s *PlanGroupService) History(ctx context.Context, id string, limit int) ([]models.RescheduleLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	logs, err := s.logs.ListByGroup(ctx, id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reschedule history")
	}
	return logs, nil
}

// PurgeExpired hard deletes every soft deleted group past its retention.
func (s *PlanGroupService) PurgeExpired(ctx context.Context) (int, error) {
	ids, err := s.groups.ListPurgeable(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.groups.Purge(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			s.logger.Warn("plan group purge failed", zap.String("plan_group_id", id), zap.Error(err))
			continue
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("purged expired plan groups", zap.Int("count", purged))
	}
	return purged, nil
}

// StartPurgeSweeper boots a goroutine that purges expired groups periodically.
func (s *PlanGroupService) StartPurgeSweeper(ctx context.Context) {
	if s.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("plan group sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

func statusIn(status models.PlanGroupStatus, set []models.PlanGroupStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
