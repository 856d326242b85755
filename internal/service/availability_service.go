package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type blockSetReader interface {
	FindByID(ctx context.Context, id string) (*models.BlockSet, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.BlockSet, error)
	FindByCampTemplate(ctx context.Context, templateID string) (*models.BlockSet, error)
	ListBlocks(ctx context.Context, blockSetID string) ([]models.TimeBlock, error)
}

type exclusionReader interface {
	ListInRange(ctx context.Context, studentID string, from, to time.Time) ([]models.Exclusion, error)
}

// AvailabilityService expands block sets and exclusions into per-date
// availability.
type AvailabilityService struct {
	blockSets  blockSetReader
	exclusions exclusionReader
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewAvailabilityService constructs the service.
func NewAvailabilityService(blockSets blockSetReader, exclusions exclusionReader, validate *validator.Validate, logger *zap.Logger) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilityService{blockSets: blockSets, exclusions: exclusions, validator: validate, logger: logger}
}

// Compute answers an availability query for a student.
func (s *AvailabilityService) Compute(ctx context.Context, req dto.AvailabilityRequest) (*dto.AvailabilityResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	rng, err := scheduler.NewDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	avail, err := s.forStudent(ctx, req.StudentID, optional(req.BlockSetID), optional(req.CampTemplateID), rng)
	if err != nil {
		return nil, err
	}
	return &dto.AvailabilityResponse{
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		TotalMinutes: avail.TotalCapacity(),
		Days:         avail.Days,
	}, nil
}

// ForPlanGroup computes availability for a plan group over rng.
func (s *AvailabilityService) ForPlanGroup(ctx context.Context, group *models.PlanGroup, rng scheduler.DateRange) (scheduler.Availability, error) {
	return s.forStudent(ctx, group.StudentID, group.BlockSetID, group.CampTemplateID, rng)
}

func (s *AvailabilityService) forStudent(ctx context.Context, studentID string, blockSetID, campTemplateID *string, rng scheduler.DateRange) (scheduler.Availability, error) {
	blocks, err := s.resolveBlocks(ctx, studentID, blockSetID, campTemplateID)
	if err != nil {
		return scheduler.Availability{}, err
	}

	rows, err := s.exclusions.ListInRange(ctx, studentID, rng.Start, rng.End)
	if err != nil {
		return scheduler.Availability{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exclusions")
	}
	exclusions := make([]scheduler.Exclusion, 0, len(rows))
	for _, row := range rows {
		typ, err := scheduler.ParseExclusionType(row.ExclusionType)
		if err != nil {
			s.logger.Warn("skipping exclusion with unknown type",
				zap.String("exclusion_id", row.ID),
				zap.String("type", row.ExclusionType),
			)
			continue
		}
		exclusions = append(exclusions, scheduler.Exclusion{Date: row.ExclusionDate, Type: typ})
	}

	avail, err := scheduler.ComputeAvailability(rng, blocks, exclusions)
	if err != nil {
		return scheduler.Availability{}, appErrors.Wrap(err, appErrors.ErrInvalidTimeBlock.Code, appErrors.ErrInvalidTimeBlock.Status, err.Error())
	}
	return avail, nil
}

// resolveBlocks picks the weekly blocks for a student. A camp template is
// overlaid with the student's active set; otherwise the explicit or active
// set is used. A student without any set has no capacity.
func (s *AvailabilityService) resolveBlocks(ctx context.Context, studentID string, blockSetID, campTemplateID *string) ([]scheduler.TimeBlock, error) {
	if campTemplateID != nil {
		template, err := s.blockSets.FindByCampTemplate(ctx, *campTemplateID)
		if err != nil {
			return nil, s.mapBlockSetError(err, "camp template block set not found")
		}
		base, err := s.loadBlocks(ctx, template.ID)
		if err != nil {
			return nil, err
		}
		var overrides []scheduler.TimeBlock
		if own, err := s.blockSets.FindActiveByStudent(ctx, studentID); err == nil {
			if overrides, err = s.loadBlocks(ctx, own.ID); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.mapBlockSetError(err, "")
		}
		return scheduler.MergeBlockSets(base, overrides), nil
	}

	var set *models.BlockSet
	var err error
	if blockSetID != nil {
		set, err = s.blockSets.FindByID(ctx, *blockSetID)
		if err != nil {
			return nil, s.mapBlockSetError(err, "block set not found")
		}
	} else {
		set, err = s.blockSets.FindActiveByStudent(ctx, studentID)
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Info("student has no active block set", zap.String("student_id", studentID))
			return nil, nil
		}
		if err != nil {
			return nil, s.mapBlockSetError(err, "")
		}
	}
	return s.loadBlocks(ctx, set.ID)
}

func (s *AvailabilityService) loadBlocks(ctx context.Context, blockSetID string) ([]scheduler.TimeBlock, error) {
	rows, err := s.blockSets.ListBlocks(ctx, blockSetID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time blocks")
	}
	blocks := make([]scheduler.TimeBlock, 0, len(rows))
	for _, row := range rows {
		block, err := scheduler.NewTimeBlock(row.DayOfWeek, row.StartTime, row.EndTime)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidTimeBlock.Code, appErrors.ErrInvalidTimeBlock.Status,
				fmt.Sprintf("time block %s: %v", row.ID, err))
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (s *AvailabilityService) mapBlockSetError(err error, notFound string) error {
	if errors.Is(err, sql.ErrNoRows) && notFound != "" {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load block set")
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
