package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/study-planner-api/internal/dto"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
	"github.com/noah-isme/study-planner-api/pkg/jobs"
)

// Batch item statuses.
const (
	BatchItemQueued    = "queued"
	BatchItemRunning   = "running"
	BatchItemRetrying  = "retrying"
	BatchItemCommitted = "committed"
	BatchItemFailed    = "failed"
)

const batchJobType = "reschedule"

type rescheduler interface {
	Reschedule(ctx context.Context, req dto.RescheduleRequest) (*dto.RescheduleResponse, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// BatchConfig governs how long finished batches stay queryable.
type BatchConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

type batchJobPayload struct {
	BatchID string
	Index   int
	Request dto.RescheduleRequest
}

type batchRecord struct {
	createdAt  time.Time
	finishedAt time.Time
	items      []dto.BatchItemStatus
}

func (b *batchRecord) done() bool {
	for _, item := range b.items {
		if item.Status != BatchItemCommitted && item.Status != BatchItemFailed {
			return false
		}
	}
	return true
}

// BatchRescheduleService fans reschedules for many plan groups out to the job
// queue. Lock contention is retried with backoff; other failures are final.
type BatchRescheduleService struct {
	rescheduler rescheduler
	queue       jobDispatcher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         BatchConfig
	now         func() time.Time

	mu      sync.RWMutex
	batches map[string]*batchRecord
}

// NewBatchRescheduleService constructs the batch service. The queue is wired
// separately so its handler can call back into ProcessJob.
func NewBatchRescheduleService(r rescheduler, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg BatchConfig) *BatchRescheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &BatchRescheduleService{
		rescheduler: r,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
		batches:     make(map[string]*batchRecord),
	}
}

// AttachQueue sets the dispatcher used by Submit.
func (s *BatchRescheduleService) AttachQueue(queue jobDispatcher) {
	s.queue = queue
}

// Retryable reports whether a reschedule failure is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, appErrors.ErrLockContention)
}

// Submit validates the batch and enqueues one job per plan group.
func (s *BatchRescheduleService) Submit(ctx context.Context, req dto.BatchRescheduleRequest, actorID string) (*dto.BatchRescheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "batch queue is not configured")
	}
	seen := make(map[string]bool, len(req.Items))
	for i, item := range req.Items {
		if item.PlanGroupID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d has no planGroupId", i))
		}
		if seen[item.PlanGroupID] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("plan group %s appears twice", item.PlanGroupID))
		}
		seen[item.PlanGroupID] = true
	}

	batchID := uuid.NewString()
	record := &batchRecord{createdAt: s.now().UTC(), items: make([]dto.BatchItemStatus, len(req.Items))}
	for i, item := range req.Items {
		record.items[i] = dto.BatchItemStatus{PlanGroupID: item.PlanGroupID, Status: BatchItemQueued}
	}
	s.mu.Lock()
	s.batches[batchID] = record
	s.mu.Unlock()

	for i, item := range req.Items {
		item.ActorID = actorID
		job := jobs.Job{
			ID:      fmt.Sprintf("%s:%d", batchID, i),
			Type:    batchJobType,
			Payload: batchJobPayload{BatchID: batchID, Index: i, Request: item},
		}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("failed to enqueue batch item", zap.String("batch_id", batchID), zap.String("plan_group_id", item.PlanGroupID), zap.Error(err))
			s.update(batchID, i, BatchItemFailed, "", err.Error())
		}
	}
	s.logger.Info("batch reschedule submitted", zap.String("batch_id", batchID), zap.Int("items", len(req.Items)))
	return s.Status(ctx, batchID)
}

// Status returns a copy of the batch progress.
func (s *BatchRescheduleService) Status(ctx context.Context, batchID string) (*dto.BatchRescheduleResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.batches[batchID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
	}
	items := make([]dto.BatchItemStatus, len(record.items))
	copy(items, record.items)
	return &dto.BatchRescheduleResponse{BatchID: batchID, CreatedAt: record.createdAt, Items: items}, nil
}

// ProcessJob is the queue handler for one batch item.
func (s *BatchRescheduleService) ProcessJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(batchJobPayload)
	if !ok {
		return fmt.Errorf("unexpected batch payload %T", job.Payload)
	}
	s.update(payload.BatchID, payload.Index, BatchItemRunning, "", "")

	resp, err := s.rescheduler.Reschedule(ctx, payload.Request)
	if err != nil {
		if Retryable(err) {
			s.update(payload.BatchID, payload.Index, BatchItemRetrying, "", err.Error())
		}
		return err
	}
	s.update(payload.BatchID, payload.Index, BatchItemCommitted, resp.LogID, "")
	return nil
}

// HandleExhausted marks an item failed once the queue gives up on it.
func (s *BatchRescheduleService) HandleExhausted(job jobs.Job, err error) {
	payload, ok := job.Payload.(batchJobPayload)
	if !ok {
		s.logger.Error("exhausted job without batch payload", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	s.update(payload.BatchID, payload.Index, BatchItemFailed, "", err.Error())
}

func (s *BatchRescheduleService) update(batchID string, index int, status, logID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.batches[batchID]
	if !ok || index < 0 || index >= len(record.items) {
		return
	}
	item := &record.items[index]
	item.Status = status
	item.LogID = logID
	item.Error = message
	if status == BatchItemCommitted || status == BatchItemFailed {
		s.metrics.RecordBatchItem(status)
	}
	if record.done() {
		record.finishedAt = s.now().UTC()
	}
}

// PruneFinished drops batches that finished before the retention window.
func (s *BatchRescheduleService) PruneFinished() int {
	cutoff := s.now().UTC().Add(-s.cfg.ResultTTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, record := range s.batches {
		if !record.finishedAt.IsZero() && record.finishedAt.Before(cutoff) {
			delete(s.batches, id)
			pruned++
		}
	}
	return pruned
}

// StartCleanup prunes finished batches periodically until ctx ends.
func (s *BatchRescheduleService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.PruneFinished(); n > 0 {
					s.logger.Info("pruned finished batches", zap.Int("count", n))
				}
			}
		}
	}()
}
