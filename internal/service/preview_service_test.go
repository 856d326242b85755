package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type memCacheRepo struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func (r *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = raw
	r.sets++
	return nil
}

func (r *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.entries {
		if strings.HasPrefix(key, prefix) {
			delete(r.entries, key)
		}
	}
	return nil
}

type previewFixture struct {
	svc      *PreviewService
	groups   *planGroupStoreStub
	cache    *memCacheRepo
	resolver *resolverStub
}

func newPreviewFixture(t *testing.T) *previewFixture {
	t.Helper()
	f := newRescheduleFixture(t, models.PlanGroupStatusActive)
	repo := &memCacheRepo{entries: map[string][]byte{}}
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	svc := NewPreviewService(f.groups, f.plans, f.resolver, availabilityStub{}, nil, cache, nil, nil, nil, PreviewConfig{CacheTTL: time.Minute})
	return &previewFixture{svc: svc, groups: f.groups, cache: repo, resolver: f.resolver}
}

func previewRequest(entries ...scheduler.CustomEntry) dto.PreviewRequest {
	return dto.PreviewRequest{
		PlanGroupID: "pg-1",
		Contents:    []models.ContentRef{{ContentID: "c1"}},
		Custom:      entries,
	}
}

func TestPreviewServiceCachesIdenticalInputs(t *testing.T) {
	f := newPreviewFixture(t)
	req := previewRequest(customEntry("2024-01-04", "10:00", "11:00"))

	first, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Len(t, first.Timeline.Result.Plans, 1)
	assert.Equal(t, "2024-01-04", first.Timeline.Result.Plans[0].Date)
	assert.Equal(t, 1, f.cache.sets)

	second, err := f.svc.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Timeline.Result.Plans, second.Timeline.Result.Plans)
	assert.Equal(t, 1, f.cache.sets)

	moved, err := f.svc.Preview(context.Background(), previewRequest(customEntry("2024-01-05", "10:00", "11:00")))
	require.NoError(t, err)
	assert.False(t, moved.Cached, "different inputs never share a cache entry")
	assert.Equal(t, 2, f.cache.sets)
}

func TestPreviewServiceDoesNotWritePlans(t *testing.T) {
	f := newRescheduleFixture(t, models.PlanGroupStatusActive)
	svc := NewPreviewService(f.groups, f.plans, f.resolver, availabilityStub{}, nil, nil, nil, nil, nil, PreviewConfig{})
	before := snapshotOf(t, f.plans)

	resp, err := svc.Preview(context.Background(), previewRequest(customEntry("2024-01-04", "10:00", "11:00")))
	require.NoError(t, err)
	assert.False(t, resp.Cached)
	assert.Equal(t, before, snapshotOf(t, f.plans))
	assert.Zero(t, f.plans.writes)
	assert.True(t, f.resolver.lastOpts.DryRun)
}

func TestPreviewServiceNeverCreatesContentMirrors(t *testing.T) {
	f := newRescheduleFixture(t, models.PlanGroupStatusActive)
	store := newContentStoreStub()
	store.masters["m-book"] = models.MasterContent{ID: "m-book", ContentType: models.ContentTypeCustom, Subject: "math", PageOrTime: intPtr(60)}
	svc := NewPreviewService(f.groups, f.plans, NewContentResolverService(store, nil, nil), availabilityStub{}, nil, nil, nil, nil, nil, PreviewConfig{})

	resp, err := svc.Preview(context.Background(), dto.PreviewRequest{
		PlanGroupID: "pg-1",
		Contents:    []models.ContentRef{{MasterContentID: "m-book"}},
		Custom: []scheduler.CustomEntry{{
			ContentID: "master:m-book", Date: "2024-01-04",
			Start: scheduler.MustClock("10:00"), End: scheduler.MustClock("11:00"),
		}},
	})
	require.NoError(t, err)

	assert.Zero(t, store.calls["create"])
	assert.Empty(t, store.created)
	assert.Zero(t, f.plans.writes)
	require.Len(t, resp.Timeline.Result.Plans, 1)
	assert.Equal(t, "master:m-book", resp.Timeline.Result.Plans[0].ContentID)
	assert.Equal(t, "math", resp.Timeline.Result.Plans[0].Subject)
	assert.Empty(t, resp.Timeline.Result.Unplaced)
}

func TestPreviewServiceErrors(t *testing.T) {
	f := newPreviewFixture(t)

	_, err := f.svc.Preview(context.Background(), dto.PreviewRequest{PlanGroupID: "pg-1"})
	assertAppError(t, err, appErrors.ErrValidation.Code)

	_, err = f.svc.Preview(context.Background(), dto.PreviewRequest{PlanGroupID: "missing", Contents: []models.ContentRef{{ContentID: "c1"}}})
	assertAppError(t, err, appErrors.ErrNotFound.Code)

	f.resolver.err = appErrors.Clone(appErrors.ErrInternal, "content store down")
	_, err = f.svc.Preview(context.Background(), previewRequest(customEntry("2024-01-04", "10:00", "11:00")))
	assertAppError(t, err, appErrors.ErrInternal.Code)
	f.resolver.err = nil

	f.groups.groups["pg-1"].Status = models.PlanGroupStatusPendingPurge
	_, err = f.svc.Preview(context.Background(), previewRequest(customEntry("2024-01-04", "10:00", "11:00")))
	assertAppError(t, err, appErrors.ErrNotFound.Code)
}

func TestPreviewServiceCheckConflicts(t *testing.T) {
	f := newPreviewFixture(t)

	overlapping := scheduler.Plan{
		ContentID:       "c1",
		Subject:         "math",
		Date:            "2024-01-03",
		Start:           scheduler.MustClock("10:30"),
		End:             scheduler.MustClock("11:30"),
		DurationMinutes: 60,
		DayType:         scheduler.DayType("study"),
	}
	resp, err := f.svc.CheckConflicts(context.Background(), dto.ConflictCheckRequest{PlanGroupID: "pg-1", Plans: []scheduler.Plan{overlapping}})
	require.NoError(t, err)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, scheduler.ConflictTimeOverlap, resp.Conflicts[0].Type)
	assert.Equal(t, []string{"candidate:0", "p-done"}, resp.Conflicts[0].PlanIDs)
	assert.True(t, resp.Blocking)

	// Moving the stored plan itself is not a conflict with its old slot.
	moved := overlapping
	moved.ID = "p-done"
	resp, err = f.svc.CheckConflicts(context.Background(), dto.ConflictCheckRequest{PlanGroupID: "pg-1", Plans: []scheduler.Plan{moved}})
	require.NoError(t, err)
	assert.Empty(t, resp.Conflicts)
	assert.False(t, resp.Blocking)

	_, err = f.svc.CheckConflicts(context.Background(), dto.ConflictCheckRequest{PlanGroupID: "pg-1"})
	assertAppError(t, err, appErrors.ErrValidation.Code)
}
