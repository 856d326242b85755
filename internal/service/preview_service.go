package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

const previewCachePrefix = "preview"

// PreviewConfig toggles preview caching.
type PreviewConfig struct {
	CacheTTL time.Duration
}

// PreviewService renders what-if timelines and runs conflict checks. It never
// writes plans.
type PreviewService struct {
	groups       planGroupReader
	plans        planLister
	resolver     contentResolver
	availability availabilityProvider
	allocator    *scheduler.Allocator
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	cfg          PreviewConfig
}

// NewPreviewService constructs the preview service. A nil cache disables caching.
func NewPreviewService(
	groups planGroupReader,
	plans planLister,
	resolver contentResolver,
	availability availabilityProvider,
	allocator *scheduler.Allocator,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg PreviewConfig,
) *PreviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if allocator == nil {
		allocator = scheduler.NewAllocator(scheduler.DefaultConfig(), nil, logger)
	}
	return &PreviewService{
		groups:       groups,
		plans:        plans,
		resolver:     resolver,
		availability: availability,
		allocator:    allocator,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cfg:          cfg,
	}
}

type previewContentKey struct {
	ID         string                `json:"id"`
	Subject    string                `json:"subject"`
	Difficulty scheduler.Difficulty  `json:"difficulty"`
	Kind       scheduler.ContentKind `json:"kind"`
	Measure    scheduler.Measure     `json:"measure"`
}

type previewKey struct {
	GroupID  string                      `json:"groupId"`
	Options  scheduler.Options           `json:"options"`
	Contents []previewContentKey         `json:"contents"`
	Days     []scheduler.DayAvailability `json:"days"`
	Existing []scheduler.Plan            `json:"existing"`
	Custom   []scheduler.CustomEntry     `json:"custom"`
}

// Preview allocates the requested contents over the plan group period and
// returns the grouped timeline. The result equals what a reschedule would
// commit for the same inputs, except that masters without a student copy
// appear under their "master:<id>" key instead of a new copy's id.
func (s *PreviewService) Preview(ctx context.Context, req dto.PreviewRequest) (*dto.PreviewResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preview payload")
	}
	group, err := loadPlanGroup(ctx, s.groups, req.PlanGroupID)
	if err != nil {
		return nil, err
	}
	rng := groupRange(group)

	resolved, err := s.resolver.Resolve(ctx, group.StudentID, req.Contents, groupLevel(group), ResolveOptions{DryRun: true})
	if err != nil {
		return nil, err
	}
	avail, err := s.availability.ForPlanGroup(ctx, group, rng)
	if err != nil {
		return nil, err
	}
	current, err := s.plans.List(ctx, rangeFilter(group.ID, rng))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plans")
	}
	_, kept := splitPlans(current)
	existing, err := toEnginePlans(kept)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored plan is malformed")
	}

	in := scheduler.Input{
		Contents:     resolved.Contents,
		Availability: avail,
		Options:      groupOptions(group),
		Existing:     existing,
		Custom:       mapCustomEntries(req.Custom, resolved.IDMap),
	}

	render := func() (*dto.PreviewResponse, error) {
		start := time.Now()
		timeline, err := scheduler.Preview(s.allocator, in)
		if err != nil {
			return nil, allocationError(err)
		}
		s.metrics.ObserveAllocation(string(in.Options.Type), time.Since(start), timeline.Result.UnplacedMinutes())
		return &dto.PreviewResponse{Timeline: timeline, Diagnostics: resolved.Diagnostics}, nil
	}

	key, err := s.cacheKey(group.ID, in)
	if err != nil {
		s.logger.Warn("preview cache key failed", zap.String("plan_group_id", group.ID), zap.Error(err))
		return render()
	}
	resp, hit, err := Remember(ctx, s.cache, key, s.cfg.CacheTTL, render)
	if err != nil {
		return nil, err
	}
	if hit {
		cached := *resp
		cached.Cached = true
		return &cached, nil
	}
	return resp, nil
}

// CheckConflicts runs the detector over caller supplied plans against the
// stored plans of the group that are not being replaced.
func (s *PreviewService) CheckConflicts(ctx context.Context, req dto.ConflictCheckRequest) (*dto.ConflictCheckResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict check payload")
	}
	group, err := loadPlanGroup(ctx, s.groups, req.PlanGroupID)
	if err != nil {
		return nil, err
	}
	rng := groupRange(group)
	avail, err := s.availability.ForPlanGroup(ctx, group, rng)
	if err != nil {
		return nil, err
	}
	stored, err := s.plans.List(ctx, models.PlanFilter{PlanGroupID: group.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plans")
	}

	replaced := make(map[string]bool, len(req.Plans))
	for _, p := range req.Plans {
		if p.ID != "" {
			replaced[p.ID] = true
		}
	}
	others := make([]models.Plan, 0, len(stored))
	for _, p := range stored {
		if !replaced[p.ID] && !p.IsArchived {
			others = append(others, p)
		}
	}
	existing, err := toEnginePlans(others)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored plan is malformed")
	}

	conflicts := scheduler.DetectConflicts(req.Plans, existing, avail)
	return &dto.ConflictCheckResponse{
		Conflicts: conflicts,
		Blocking:  scheduler.HasBlocking(conflicts, false),
	}, nil
}

func (s *PreviewService) cacheKey(groupID string, in scheduler.Input) (string, error) {
	contents := make([]previewContentKey, 0, len(in.Contents))
	for _, c := range in.Contents {
		key := previewContentKey{ID: c.ID, Subject: c.Subject, Difficulty: c.Difficulty, Measure: c.Measure}
		if c.Measure != nil {
			key.Kind = c.Measure.Kind()
		}
		contents = append(contents, key)
	}
	return GroupKey(previewCachePrefix, groupID, previewKey{
		GroupID:  groupID,
		Options:  in.Options,
		Contents: contents,
		Days:     in.Availability.Days,
		Existing: in.Existing,
		Custom:   in.Custom,
	})
}
