package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/lock"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

// TxState is a step of the reschedule state machine.
type TxState string

const (
	TxIdle       TxState = "idle"
	TxLocked     TxState = "locked"
	TxValidating TxState = "validating"
	TxApplying   TxState = "applying"
	TxCommitted  TxState = "committed"
	TxRolledBack TxState = "rolled_back"
)

var txTransitions = map[TxState][]TxState{
	TxIdle:       {TxLocked},
	TxLocked:     {TxValidating, TxRolledBack},
	TxValidating: {TxApplying, TxRolledBack},
	TxApplying:   {TxCommitted, TxRolledBack},
}

const lockReleaseTimeout = 5 * time.Second

type planStore interface {
	List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error)
	ReplaceInRange(ctx context.Context, groupID string, from, to time.Time, plans []models.Plan) error
}

type planGroupActivator interface {
	FindByID(ctx context.Context, id string) (*models.PlanGroup, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.PlanGroupStatus, previous *models.PlanGroupStatus) error
}

type rescheduleLogWriter interface {
	Create(ctx context.Context, log *models.RescheduleLog) error
}

// transaction records the state trace of one reschedule.
type transaction struct {
	state TxState
	trace []TxState
}

func newTransaction() *transaction {
	return &transaction{state: TxIdle, trace: []TxState{TxIdle}}
}

func (t *transaction) advance(next TxState) error {
	for _, allowed := range txTransitions[t.state] {
		if allowed == next {
			t.state = next
			t.trace = append(t.trace, next)
			return nil
		}
	}
	return fmt.Errorf("illegal reschedule transition %s -> %s", t.state, next)
}

func (t *transaction) traceStrings() []string {
	out := make([]string, len(t.trace))
	for i, s := range t.trace {
		out[i] = string(s)
	}
	return out
}

// RescheduleService re-plans a plan group under its exclusive lock and
// commits atomically, restoring the pre-transaction snapshot on failure.
type RescheduleService struct {
	groups       planGroupActivator
	plans        planStore
	logs         rescheduleLogWriter
	resolver     contentResolver
	availability availabilityProvider
	allocator    *scheduler.Allocator
	locker       lock.Locker
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewRescheduleService constructs the transaction manager.
func NewRescheduleService(
	groups planGroupActivator,
	plans planStore,
	logs rescheduleLogWriter,
	resolver contentResolver,
	availability availabilityProvider,
	allocator *scheduler.Allocator,
	locker lock.Locker,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
) *RescheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if allocator == nil {
		allocator = scheduler.NewAllocator(scheduler.DefaultConfig(), nil, logger)
	}
	return &RescheduleService{
		groups:       groups,
		plans:        plans,
		logs:         logs,
		resolver:     resolver,
		availability: availability,
		allocator:    allocator,
		locker:       locker,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
	}
}

// rescheduleRun carries the data gathered while a transaction progresses.
type rescheduleRun struct {
	req        dto.RescheduleRequest
	group      *models.PlanGroup
	rng        scheduler.DateRange
	tx         *transaction
	snapshot   []models.Plan
	open       []models.Plan
	kept       []models.Plan
	candidates []models.Plan
	result     scheduler.Result
	resolved   *ResolvedContents
	wrote      bool
}

// Reschedule runs the idle -> locked -> validating -> applying -> committed
// state machine for one plan group. Lock contention fails immediately.
func (s *RescheduleService) Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.RescheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	group, err := loadPlanGroup(ctx, s.groups, req.PlanGroupID)
	if err != nil {
		return nil, err
	}
	if !group.Mutable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("plan group in status %s cannot be rescheduled", group.Status))
	}
	rng, err := narrowRange(group, req.StartDate, req.EndDate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	refs, err := applyAdjustments(req.Contents, req.Adjustments)
	if err != nil {
		return nil, err
	}

	run := &rescheduleRun{req: req, group: group, rng: rng, tx: newTransaction()}

	token, err := s.locker.Acquire(ctx, group.ID)
	if err != nil {
		if errors.Is(err, lock.ErrContention) {
			s.metrics.RecordLockContention()
			s.logger.Info("plan group lock contention", zap.String("plan_group_id", group.ID))
			return nil, appErrors.Clone(appErrors.ErrLockContention, "plan group is being rescheduled; retry later")
		}
		return nil, mapCause(err)
	}
	defer s.release(ctx, token)
	if err := run.tx.advance(TxLocked); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reschedule state error")
	}

	if err := s.validate(ctx, run, refs); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	if err := s.apply(ctx, run); err != nil {
		return nil, s.fail(ctx, run, err)
	}
	return s.commit(ctx, run)
}

// validate snapshots current plans, allocates and runs the conflict detector.
func (s *RescheduleService) validate(ctx context.Context, run *rescheduleRun, refs []models.ContentRef) error {
	if err := run.tx.advance(TxValidating); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot, err := s.plans.List(ctx, rangeFilter(run.group.ID, run.rng))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to snapshot plans")
	}
	run.snapshot = snapshot
	run.open, run.kept = splitPlans(snapshot)

	resolved, err := s.resolver.Resolve(ctx, run.group.StudentID, refs, groupLevel(run.group), ResolveOptions{})
	if err != nil {
		return err
	}
	run.resolved = resolved
	avail, err := s.availability.ForPlanGroup(ctx, run.group, run.rng)
	if err != nil {
		return err
	}
	existing, err := toEnginePlans(run.kept)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "stored plan is malformed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	in := scheduler.Input{
		Contents:     resolved.Contents,
		Availability: avail,
		Options:      groupOptions(run.group),
		Existing:     existing,
		Custom:       mapCustomEntries(run.req.Custom, resolved.IDMap),
	}
	start := time.Now()
	result, err := s.allocator.Allocate(in)
	if err != nil {
		return allocationError(err)
	}
	s.metrics.ObserveAllocation(string(in.Options.Type), time.Since(start), result.UnplacedMinutes())
	run.result = result

	if scheduler.HasBlocking(result.Conflicts, run.req.AllowWarnings) {
		return appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrScheduleConflict, fmt.Sprintf("%d conflicts block the reschedule", len(result.Conflicts))),
			result.Conflicts,
		)
	}

	candidates, err := toModelPlans(run.group, result.Plans)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "allocator produced an invalid plan")
	}
	run.candidates = candidates
	return nil
}

// apply writes the candidates atomically and verifies the stored result.
func (s *RescheduleService) apply(ctx context.Context, run *rescheduleRun) error {
	if err := run.tx.advance(TxApplying); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	run.wrote = true
	if err := s.plans.ReplaceInRange(ctx, run.group.ID, run.rng.Start, run.rng.End, run.candidates); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to write plans")
	}

	after, err := s.plans.List(ctx, rangeFilter(run.group.ID, run.rng))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to read back plans")
	}
	return verifyApplied(run, after)
}

// verifyApplied checks the post-conditions of a write: every candidate is
// stored, nothing else changed, and no stored plans overlap.
func verifyApplied(run *rescheduleRun, after []models.Plan) error {
	want := len(run.kept) + len(run.candidates)
	if len(after) != want {
		return appErrors.Clone(appErrors.ErrPersistence, fmt.Sprintf("post-write check found %d plans, expected %d", len(after), want))
	}
	written := make(map[string]bool, len(run.candidates))
	for _, p := range run.candidates {
		written[p.ID] = true
	}
	var fresh, others []models.Plan
	for _, p := range after {
		if written[p.ID] {
			fresh = append(fresh, p)
		} else {
			others = append(others, p)
		}
	}
	if len(fresh) != len(run.candidates) {
		return appErrors.Clone(appErrors.ErrPersistence, "post-write check is missing written plans")
	}
	freshPlans, err := toEnginePlans(fresh)
	if err != nil {
		return err
	}
	otherPlans, err := toEnginePlans(others)
	if err != nil {
		return err
	}
	for _, c := range scheduler.DetectConflicts(freshPlans, otherPlans, scheduler.Availability{}) {
		if c.Type == scheduler.ConflictTimeOverlap {
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrScheduleConflict, "written plans overlap stored plans"), []scheduler.ConflictDetail{c})
		}
	}
	return nil
}

func (s *RescheduleService) commit(ctx context.Context, run *rescheduleRun) (*dto.RescheduleResponse, error) {
	if err := run.tx.advance(TxCommitted); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reschedule state error")
	}
	if run.group.Status == models.PlanGroupStatusDraft {
		previous := run.group.Status
		if err := s.groups.UpdateStatus(ctx, nil, run.group.ID, models.PlanGroupStatusActive, &previous); err != nil {
			s.logger.Warn("failed to activate plan group", zap.String("plan_group_id", run.group.ID), zap.Error(err))
		}
	}
	_ = s.cache.InvalidateGroup(ctx, previewCachePrefix, run.group.ID)

	logID := s.writeLog(ctx, run, models.RescheduleOutcomeCommitted, run.candidates, nil)
	s.metrics.RecordReschedule(string(models.RescheduleOutcomeCommitted))
	s.logger.Info("reschedule committed",
		zap.String("plan_group_id", run.group.ID),
		zap.Int("removed", len(run.open)),
		zap.Int("added", len(run.candidates)),
	)

	diagnostics := []dto.ResolutionDiagnostic{}
	if run.resolved != nil {
		diagnostics = run.resolved.Diagnostics
	}
	return &dto.RescheduleResponse{
		PlanGroupID: run.group.ID,
		LogID:       logID,
		State:       string(run.tx.state),
		Trace:       run.tx.traceStrings(),
		Diff: dto.RescheduleDiff{
			RemovedPlans:  len(run.open),
			AddedPlans:    len(run.candidates),
			KeptPlans:     len(run.kept),
			BeforeMinutes: sumMinutes(run.snapshot),
			AfterMinutes:  sumMinutes(run.kept) + sumMinutes(run.candidates),
		},
		Result:      run.result,
		Diagnostics: diagnostics,
	}, nil
}

// fail moves the transaction to rolled_back and restores the snapshot when a
// write happened. A plan completed since the snapshot blocks the restore and
// is flagged for manual review instead.
func (s *RescheduleService) fail(ctx context.Context, run *rescheduleRun, cause error) error {
	if err := run.tx.advance(TxRolledBack); err != nil {
		s.logger.Error("reschedule state error", zap.String("plan_group_id", run.group.ID), zap.Error(err))
	}
	// restore work must survive caller cancellation
	bg := context.WithoutCancel(ctx)

	if !run.wrote {
		s.writeLog(bg, run, models.RescheduleOutcomeRolledBack, nil, cause)
		s.metrics.RecordReschedule(string(models.RescheduleOutcomeRolledBack))
		s.logger.Info("reschedule abandoned before write", zap.String("plan_group_id", run.group.ID), zap.Error(cause))
		return mapCause(cause)
	}

	current, err := s.plans.List(bg, rangeFilter(run.group.ID, run.rng))
	if err != nil {
		return s.manualReview(bg, run, cause, nil, err)
	}
	if completed := completedSinceSnapshot(run.snapshot, current); len(completed) > 0 {
		return s.manualReview(bg, run, cause, completed, nil)
	}
	restore := make([]models.Plan, len(run.open))
	copy(restore, run.open)
	if err := s.plans.ReplaceInRange(bg, run.group.ID, run.rng.Start, run.rng.End, restore); err != nil {
		return s.manualReview(bg, run, cause, nil, err)
	}

	s.writeLog(bg, run, models.RescheduleOutcomeRolledBack, run.candidates, cause)
	s.metrics.RecordReschedule(string(models.RescheduleOutcomeRolledBack))
	s.logger.Error("reschedule rolled back",
		zap.String("plan_group_id", run.group.ID),
		zap.Int("restored", len(restore)),
		zap.Error(cause),
	)
	return mapCause(cause)
}

func (s *RescheduleService) manualReview(ctx context.Context, run *rescheduleRun, cause error, completed []string, restoreErr error) error {
	s.writeLog(ctx, run, models.RescheduleOutcomeManualReview, run.candidates, cause)
	s.metrics.RecordReschedule(string(models.RescheduleOutcomeManualReview))
	s.logger.Error("reschedule rollback skipped, manual review required",
		zap.String("plan_group_id", run.group.ID),
		zap.Strings("completed_plan_ids", completed),
		zap.NamedError("restore_error", restoreErr),
		zap.Error(cause),
	)
	if restoreErr != nil {
		return appErrors.Wrap(restoreErr, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "rollback failed; manual review required")
	}
	return appErrors.WithDetails(appErrors.Wrap(cause, appErrors.ErrRollbackConflict.Code, appErrors.ErrRollbackConflict.Status,
		appErrors.ErrRollbackConflict.Message), map[string]interface{}{"completedPlanIds": completed})
}

func (s *RescheduleService) release(ctx context.Context, token *lock.Token) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if err := s.locker.Release(releaseCtx, token); err != nil {
		s.logger.Warn("plan group lock release failed", zap.String("key", token.Key), zap.Error(err))
	}
}

func (s *RescheduleService) writeLog(ctx context.Context, run *rescheduleRun, outcome models.RescheduleOutcome, after []models.Plan, cause error) string {
	entry := &models.RescheduleLog{
		PlanGroupID:    run.group.ID,
		ActorID:        run.req.ActorID,
		Outcome:        outcome,
		StateTrace:     mustJSON(run.tx.traceStrings()),
		BeforeSnapshot: mustJSON(run.snapshot),
		AfterSnapshot:  mustJSON(after),
		Conflicts:      mustJSON(run.result.Conflicts),
	}
	if cause != nil {
		msg := cause.Error()
		entry.ErrorMessage = &msg
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write reschedule log", zap.String("plan_group_id", run.group.ID), zap.Error(err))
		return ""
	}
	return entry.ID
}

// completedSinceSnapshot lists plans that were open in the snapshot but are
// completed now, plus completed plans that did not exist before.
func completedSinceSnapshot(snapshot, current []models.Plan) []string {
	before := make(map[string]models.Plan, len(snapshot))
	for _, p := range snapshot {
		before[p.ID] = p
	}
	var ids []string
	for _, p := range current {
		if !p.Completed() {
			continue
		}
		prev, existed := before[p.ID]
		if !existed || !prev.Completed() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// applyAdjustments rewrites content references per the requested
// adjustments. Contents without an adjustment are regenerated as-is.
func applyAdjustments(refs []models.ContentRef, adjustments []dto.ContentAdjustment) ([]models.ContentRef, error) {
	out := make([]models.ContentRef, len(refs))
	copy(out, refs)
	for _, adj := range adjustments {
		idx := -1
		for i, ref := range out {
			if ref.ContentID == adj.ContentID || ref.MasterContentID == adj.ContentID || ref.Key() == adj.ContentID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("adjustment references unknown content %s", adj.ContentID))
		}
		switch adj.Type {
		case dto.AdjustmentRangeChange:
			if adj.StartRange == nil || adj.EndRange == nil || *adj.EndRange < *adj.StartRange {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range change for %s needs startRange <= endRange", adj.ContentID))
			}
			out[idx].StartRange = adj.StartRange
			out[idx].EndRange = adj.EndRange
		case dto.AdjustmentReplace:
			if adj.Replacement == nil || (adj.Replacement.ContentID == "" && adj.Replacement.MasterContentID == "") {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("replace for %s needs a replacement", adj.ContentID))
			}
			out[idx] = *adj.Replacement
		case dto.AdjustmentFullRegeneration:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown adjustment type %s", adj.Type))
		}
	}
	return out, nil
}

func mapCause(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "reschedule cancelled")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "reschedule failed")
}

func mustJSON(v interface{}) types.JSONText {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return types.JSONText("[]")
	}
	return types.JSONText(data)
}
