package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type contentStoreStub struct {
	mu        sync.Mutex
	students  map[string]models.StudentContent
	masters   map[string]models.MasterContent
	episodes  []models.Episode
	mirrorErr error
	listErr   error
	calls     map[string]int
	created   []string
}

func newContentStoreStub() *contentStoreStub {
	return &contentStoreStub{
		students: map[string]models.StudentContent{},
		masters:  map[string]models.MasterContent{},
		calls:    map[string]int{},
	}
}

func (s *contentStoreStub) count(name string) {
	s.mu.Lock()
	s.calls[name]++
	s.mu.Unlock()
}

func (s *contentStoreStub) ListStudentContents(ctx context.Context, studentID string, ids []string) ([]models.StudentContent, error) {
	s.count("students")
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StudentContent
	for _, id := range ids {
		if c, ok := s.students[id]; ok && c.StudentID == studentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *contentStoreStub) ListMirrors(ctx context.Context, studentID string, masterIDs []string) ([]models.StudentContent, error) {
	s.count("mirrors")
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StudentContent
	for _, c := range s.students {
		if c.StudentID != studentID || c.MasterContentID == nil {
			continue
		}
		for _, id := range masterIDs {
			if *c.MasterContentID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *contentStoreStub) ListMasterContents(ctx context.Context, ids []string) ([]models.MasterContent, error) {
	s.count("masters")
	var out []models.MasterContent
	for _, id := range ids {
		if m, ok := s.masters[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *contentStoreStub) CreateMirror(ctx context.Context, studentID string, master models.MasterContent) (*models.StudentContent, error) {
	s.count("create")
	if s.mirrorErr != nil {
		return nil, s.mirrorErr
	}
	mirror := models.NewMirror("mirror-"+master.ID, studentID, master, time.Time{})
	s.mu.Lock()
	s.students[mirror.ID] = mirror
	s.created = append(s.created, mirror.ID)
	s.mu.Unlock()
	return &mirror, nil
}

func (s *contentStoreStub) ListEpisodes(ctx context.Context, contentIDs []string) ([]models.Episode, error) {
	s.count("episodes")
	var out []models.Episode
	for _, ep := range s.episodes {
		for _, id := range contentIDs {
			if ep.ContentID == id {
				out = append(out, ep)
			}
		}
	}
	return out, nil
}

func intPtr(v int) *int { return &v }

func TestContentResolverResolvesStudentAndMasterRefs(t *testing.T) {
	store := newContentStoreStub()
	store.students["book-1"] = models.StudentContent{
		ID: "book-1", StudentID: "stu-1", ContentType: models.ContentTypeBook,
		Subject: "math", Difficulty: "기본", TotalPages: intPtr(100),
	}
	store.masters["m-lec"] = models.MasterContent{
		ID: "m-lec", ContentType: models.ContentTypeLecture, Subject: "eng",
		TotalDuration: intPtr(300), TotalEpisodes: intPtr(10),
	}
	store.episodes = []models.Episode{
		{ContentID: "m-lec", EpisodeNumber: 1, Duration: intPtr(25)},
		{ContentID: "m-lec", EpisodeNumber: 2, Duration: intPtr(35)},
		{ContentID: "m-lec", EpisodeNumber: 3, Duration: intPtr(40)},
	}

	svc := NewContentResolverService(store, nil, nil)
	resolved, err := svc.Resolve(context.Background(), "stu-1", []models.ContentRef{
		{ContentID: "book-1", StartRange: intPtr(10), EndRange: intPtr(30)},
		{MasterContentID: "m-lec", AssignedEpisodes: []int{1, 2}},
		{ContentID: "missing"},
	}, scheduler.LevelMedium, ResolveOptions{})
	require.NoError(t, err)

	require.Len(t, resolved.Contents, 2)
	assert.Equal(t, "book-1", resolved.Contents[0].ID)
	assert.Equal(t, scheduler.BookMeasure{TotalPages: 100, StartPage: 10, EndPage: 30}, resolved.Contents[0].Measure)
	assert.Equal(t, 120, resolved.Durations["book-1"].Minutes)

	assert.Equal(t, "mirror-m-lec", resolved.IDMap["master:m-lec"])
	assert.Equal(t, []int{25, 35}, resolved.Contents[1].Measure.(scheduler.LectureMeasure).EpisodeDurations)
	assert.Equal(t, 60, resolved.Durations["mirror-m-lec"].Minutes)
	assert.Equal(t, "eng", resolved.Subjects["mirror-m-lec"])

	require.Len(t, resolved.Diagnostics, 1)
	assert.Equal(t, "missing", resolved.Diagnostics[0].Ref)
	assert.Equal(t, reasonNotFound, resolved.Diagnostics[0].Reason)
}

func TestContentResolverBatchesLookups(t *testing.T) {
	store := newContentStoreStub()
	refs := make([]models.ContentRef, 0, 20)
	for i := 0; i < 20; i++ {
		id := "lec-" + string(rune('a'+i))
		store.students[id] = models.StudentContent{ID: id, StudentID: "stu-1", ContentType: models.ContentTypeLecture, Subject: "sci"}
		store.episodes = append(store.episodes, models.Episode{ContentID: id, EpisodeNumber: 1, Duration: intPtr(30)})
		refs = append(refs, models.ContentRef{ContentID: id})
	}

	resolved, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", refs, scheduler.LevelMedium, ResolveOptions{})
	require.NoError(t, err)
	assert.Len(t, resolved.Contents, 20)
	assert.Equal(t, 1, store.calls["episodes"])
	assert.Equal(t, 1, store.calls["students"])
	assert.Equal(t, 1, store.calls["masters"])
}

func TestContentResolverReusesExistingMirror(t *testing.T) {
	store := newContentStoreStub()
	master := "m-1"
	store.masters[master] = models.MasterContent{ID: master, ContentType: models.ContentTypeBook, TotalPages: intPtr(40)}
	store.students["copy-1"] = models.StudentContent{ID: "copy-1", StudentID: "stu-1", MasterContentID: &master, ContentType: models.ContentTypeBook}

	resolved, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", []models.ContentRef{
		{MasterContentID: master},
		{ContentID: "copy-1"},
	}, scheduler.LevelMedium, ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, resolved.Contents, 1)
	assert.Equal(t, "copy-1", resolved.Contents[0].ID)
	assert.Equal(t, 40, resolved.Contents[0].Measure.(scheduler.BookMeasure).TotalPages)
	assert.Empty(t, store.created)
	require.Len(t, resolved.Diagnostics, 1)
	assert.Equal(t, reasonDuplicate, resolved.Diagnostics[0].Reason)
}

func TestContentResolverMirrorFailureBecomesDiagnostic(t *testing.T) {
	store := newContentStoreStub()
	store.masters["m-1"] = models.MasterContent{ID: "m-1", ContentType: models.ContentTypeBook}
	store.mirrorErr = errors.New("unique violation")

	resolved, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", []models.ContentRef{
		{MasterContentID: "m-1"},
		{MasterContentID: "m-404"},
	}, scheduler.LevelMedium, ResolveOptions{})
	require.NoError(t, err)
	assert.Empty(t, resolved.Contents)
	require.Len(t, resolved.Diagnostics, 2)
	assert.Equal(t, reasonMirrorFailed, resolved.Diagnostics[0].Reason)
	assert.Equal(t, reasonMasterAbsent, resolved.Diagnostics[1].Reason)
}

func TestContentResolverStorageFailure(t *testing.T) {
	store := newContentStoreStub()
	store.listErr = errors.New("connection reset")

	_, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", []models.ContentRef{{ContentID: "x"}}, scheduler.LevelMedium, ResolveOptions{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPersistence.Code, appErr.Code)
}

func TestContentResolverDegradesUnknownType(t *testing.T) {
	store := newContentStoreStub()
	store.students["legacy"] = models.StudentContent{ID: "legacy", StudentID: "stu-1", ContentType: "worksheet"}

	resolved, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", []models.ContentRef{{ContentID: "legacy"}}, scheduler.LevelMedium, ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, scheduler.Estimate{Minutes: 60, Degraded: true}, resolved.Durations["legacy"])
}

func TestContentResolverDryRunSkipsMirrorCreation(t *testing.T) {
	store := newContentStoreStub()
	store.masters["m-lec"] = models.MasterContent{
		ID: "m-lec", ContentType: models.ContentTypeLecture, Subject: "eng",
		TotalDuration: intPtr(300), TotalEpisodes: intPtr(10),
	}
	store.episodes = []models.Episode{{ContentID: "m-lec", EpisodeNumber: 1, Duration: intPtr(25)}}

	resolved, err := NewContentResolverService(store, nil, nil).Resolve(context.Background(), "stu-1", []models.ContentRef{
		{MasterContentID: "m-lec", AssignedEpisodes: []int{1, 2}},
		{MasterContentID: "m-lec"},
	}, scheduler.LevelMedium, ResolveOptions{DryRun: true})
	require.NoError(t, err)

	assert.Zero(t, store.calls["create"])
	assert.Empty(t, store.created)
	require.Len(t, resolved.Contents, 1)
	assert.Equal(t, "master:m-lec", resolved.IDMap["master:m-lec"])
	assert.Equal(t, "eng", resolved.Subjects["master:m-lec"])
	// episode 2 has no stored duration and takes the lecture average
	assert.Equal(t, 55, resolved.Durations["master:m-lec"].Minutes)

	require.Len(t, resolved.Diagnostics, 1)
	assert.Equal(t, reasonDuplicate, resolved.Diagnostics[0].Reason)
}
