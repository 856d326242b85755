package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/study-planner-api/internal/dto"
	"github.com/noah-isme/study-planner-api/internal/models"
	"github.com/noah-isme/study-planner-api/internal/scheduler"
	appErrors "github.com/noah-isme/study-planner-api/pkg/errors"
)

type contentStore interface {
	ListStudentContents(ctx context.Context, studentID string, ids []string) ([]models.StudentContent, error)
	ListMirrors(ctx context.Context, studentID string, masterIDs []string) ([]models.StudentContent, error)
	ListMasterContents(ctx context.Context, ids []string) ([]models.MasterContent, error)
	CreateMirror(ctx context.Context, studentID string, master models.MasterContent) (*models.StudentContent, error)
	ListEpisodes(ctx context.Context, contentIDs []string) ([]models.Episode, error)
}

// Resolution reasons reported for references left out of a run.
const (
	reasonNotFound     = "content_not_found"
	reasonMasterAbsent = "master_content_not_found"
	reasonDuplicate    = "duplicate_reference"
	reasonMirrorFailed = "mirror_creation_failed"
)

// ResolveOptions tunes one resolution.
type ResolveOptions struct {
	// DryRun never creates student copies. A master without one resolves to
	// an in-memory copy identified by the reference key ("master:<id>").
	DryRun bool
}

// ResolvedContents is the outcome of resolving a list of content references.
// Contents keeps the order of the resolvable references.
type ResolvedContents struct {
	Contents    []scheduler.Content
	IDMap       map[string]string
	Metadata    map[string]models.StudentContent
	Subjects    map[string]string
	Durations   map[string]scheduler.Estimate
	Diagnostics []dto.ResolutionDiagnostic
}

// ContentResolverService turns master or student content references into
// engine contents. Lookups are batched so a run issues a fixed number of
// queries regardless of how many references it carries.
type ContentResolverService struct {
	store     contentStore
	estimator *scheduler.DurationEstimator
	logger    *zap.Logger
}

// NewContentResolverService constructs the resolver.
func NewContentResolverService(store contentStore, estimator *scheduler.DurationEstimator, logger *zap.Logger) *ContentResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if estimator == nil {
		estimator = scheduler.NewDurationEstimator(scheduler.DefaultConfig(), logger)
	}
	return &ContentResolverService{store: store, estimator: estimator, logger: logger}
}

// Resolve loads every referenced content for the student. Missing references
// become diagnostics; only storage failures are returned as errors. Master
// references without a student copy get one created on the fly unless
// opts.DryRun is set.
func (s *ContentResolverService) Resolve(ctx context.Context, studentID string, refs []models.ContentRef, level scheduler.StudentLevel, opts ResolveOptions) (*ResolvedContents, error) {
	out := &ResolvedContents{
		Contents:    make([]scheduler.Content, 0, len(refs)),
		IDMap:       make(map[string]string, len(refs)),
		Metadata:    make(map[string]models.StudentContent, len(refs)),
		Subjects:    make(map[string]string, len(refs)),
		Durations:   make(map[string]scheduler.Estimate, len(refs)),
		Diagnostics: []dto.ResolutionDiagnostic{},
	}
	if len(refs) == 0 {
		return out, nil
	}

	directIDs, masterIDs := partitionRefs(refs)

	var direct, mirrors []models.StudentContent
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		direct, err = s.store.ListStudentContents(gctx, studentID, directIDs)
		return err
	})
	g.Go(func() error {
		var err error
		mirrors, err = s.store.ListMirrors(gctx, studentID, masterIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load student contents")
	}

	byID := make(map[string]models.StudentContent, len(direct)+len(mirrors))
	mirrorByMaster := make(map[string]models.StudentContent, len(mirrors))
	for _, c := range direct {
		byID[c.ID] = c
	}
	for _, c := range mirrors {
		byID[c.ID] = c
		if c.MasterContentID != nil {
			mirrorByMaster[*c.MasterContentID] = c
		}
	}

	allMasters := uniqueStrings(masterIDs)
	for _, c := range direct {
		if c.MasterContentID != nil {
			allMasters = appendUnique(allMasters, *c.MasterContentID)
		}
	}
	episodeOwners := make([]string, 0, len(byID)+len(allMasters))
	for id, c := range byID {
		if c.ContentType == models.ContentTypeLecture {
			episodeOwners = append(episodeOwners, id)
		}
	}
	sort.Strings(episodeOwners)
	episodeOwners = append(episodeOwners, allMasters...)

	var masters []models.MasterContent
	var episodes []models.Episode
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		masters, err = s.store.ListMasterContents(gctx, allMasters)
		return err
	})
	g.Go(func() error {
		var err error
		episodes, err = s.store.ListEpisodes(gctx, episodeOwners)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to load catalog contents")
	}

	masterByID := make(map[string]models.MasterContent, len(masters))
	for _, m := range masters {
		masterByID[m.ID] = m
	}
	episodesByOwner := make(map[string][]models.Episode)
	for _, ep := range episodes {
		episodesByOwner[ep.ContentID] = append(episodesByOwner[ep.ContentID], ep)
	}

	durations := scheduler.NewDurationCache(s.estimator, level)
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		content, ok, err := s.studentContentFor(ctx, studentID, ref, opts, byID, mirrorByMaster, masterByID, out)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if seen[content.ID] {
			out.Diagnostics = append(out.Diagnostics, dto.ResolutionDiagnostic{Ref: ref.Key(), Reason: reasonDuplicate})
			continue
		}
		seen[content.ID] = true

		var master *models.MasterContent
		if content.MasterContentID != nil {
			if m, found := masterByID[*content.MasterContentID]; found {
				master = &m
			}
		}
		eps := episodesByOwner[content.ID]
		if len(eps) == 0 && master != nil {
			eps = episodesByOwner[master.ID]
		}

		engine := s.toEngineContent(content, master, eps, ref)
		out.Contents = append(out.Contents, engine)
		out.IDMap[ref.Key()] = content.ID
		out.Metadata[content.ID] = content
		out.Subjects[content.ID] = engine.Subject
		out.Durations[content.ID] = durations.Get(engine, scheduler.DayTypeStudy)
	}
	return out, nil
}

func (s *ContentResolverService) studentContentFor(
	ctx context.Context,
	studentID string,
	ref models.ContentRef,
	opts ResolveOptions,
	byID map[string]models.StudentContent,
	mirrorByMaster map[string]models.StudentContent,
	masterByID map[string]models.MasterContent,
	out *ResolvedContents,
) (models.StudentContent, bool, error) {
	if ref.ContentID != "" {
		content, ok := byID[ref.ContentID]
		if !ok {
			out.Diagnostics = append(out.Diagnostics, dto.ResolutionDiagnostic{Ref: ref.Key(), Reason: reasonNotFound})
		}
		return content, ok, nil
	}
	if ref.MasterContentID == "" {
		out.Diagnostics = append(out.Diagnostics, dto.ResolutionDiagnostic{Ref: ref.Key(), Reason: reasonNotFound})
		return models.StudentContent{}, false, nil
	}
	if mirror, ok := mirrorByMaster[ref.MasterContentID]; ok {
		return mirror, true, nil
	}
	master, ok := masterByID[ref.MasterContentID]
	if !ok {
		out.Diagnostics = append(out.Diagnostics, dto.ResolutionDiagnostic{Ref: ref.Key(), Reason: reasonMasterAbsent})
		return models.StudentContent{}, false, nil
	}
	if opts.DryRun {
		mirror := models.NewMirror(ref.Key(), studentID, master, time.Time{})
		mirrorByMaster[master.ID] = mirror
		byID[mirror.ID] = mirror
		return mirror, true, nil
	}
	mirror, err := s.store.CreateMirror(ctx, studentID, master)
	if err != nil {
		if ctx.Err() != nil {
			return models.StudentContent{}, false, ctx.Err()
		}
		s.logger.Warn("mirror creation failed",
			zap.String("student_id", studentID),
			zap.String("master_content_id", master.ID),
			zap.Error(err),
		)
		out.Diagnostics = append(out.Diagnostics, dto.ResolutionDiagnostic{Ref: ref.Key(), Reason: reasonMirrorFailed})
		return models.StudentContent{}, false, nil
	}
	mirrorByMaster[master.ID] = *mirror
	byID[mirror.ID] = *mirror
	return *mirror, true, nil
}

func (s *ContentResolverService) toEngineContent(c models.StudentContent, master *models.MasterContent, episodes []models.Episode, ref models.ContentRef) scheduler.Content {
	subject := c.Subject
	rawDifficulty := c.Difficulty
	if master != nil {
		if subject == "" {
			subject = master.Subject
		}
		if rawDifficulty == "" {
			rawDifficulty = master.Difficulty
		}
	}
	difficulty, err := scheduler.ParseDifficulty(rawDifficulty)
	if err != nil {
		s.logger.Warn("unknown content difficulty, using default", zap.String("content_id", c.ID), zap.String("difficulty", rawDifficulty))
		difficulty = scheduler.DifficultyUnspecified
	}

	engine := scheduler.Content{ID: c.ID, Subject: subject, Difficulty: difficulty}
	switch c.ContentType {
	case models.ContentTypeBook:
		m := scheduler.BookMeasure{
			TotalPages: firstInt(c.TotalPages, masterInt(master, func(mc *models.MasterContent) *int { return mc.TotalPages })),
			StartPage:  intValue(c.StartPage),
			EndPage:    intValue(c.EndPage),
		}
		if ref.StartRange != nil && ref.EndRange != nil {
			m.StartPage, m.EndPage = *ref.StartRange, *ref.EndRange
		}
		engine.Measure = m
	case models.ContentTypeLecture:
		engine.Measure = lectureMeasure(c, master, episodes, ref)
	case models.ContentTypeCustom:
		engine.Measure = scheduler.CustomMeasure{
			PageOrTime: firstInt(c.PageOrTime, masterInt(master, func(mc *models.MasterContent) *int { return mc.PageOrTime })),
		}
	default:
		// unknown legacy type; the estimator falls back to the base unit
	}
	return engine
}

func lectureMeasure(c models.StudentContent, master *models.MasterContent, episodes []models.Episode, ref models.ContentRef) scheduler.LectureMeasure {
	m := scheduler.LectureMeasure{
		TotalDuration: firstInt(c.TotalDuration, masterInt(master, func(mc *models.MasterContent) *int { return mc.TotalDuration })),
		TotalEpisodes: firstInt(c.TotalEpisodes, masterInt(master, func(mc *models.MasterContent) *int { return mc.TotalEpisodes })),
	}

	wanted := selectedEpisodes(ref)
	if len(wanted) > 0 {
		m.AssignedEpisodes = len(wanted)
	}
	if len(episodes) == 0 {
		return m
	}
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber })
	for _, ep := range episodes {
		if len(wanted) > 0 && !wanted[ep.EpisodeNumber] {
			continue
		}
		if ep.Duration != nil && *ep.Duration > 0 {
			m.EpisodeDurations = append(m.EpisodeDurations, *ep.Duration)
		}
	}
	return m
}

func selectedEpisodes(ref models.ContentRef) map[int]bool {
	if len(ref.AssignedEpisodes) > 0 {
		out := make(map[int]bool, len(ref.AssignedEpisodes))
		for _, n := range ref.AssignedEpisodes {
			out[n] = true
		}
		return out
	}
	if ref.StartRange != nil && ref.EndRange != nil && *ref.EndRange >= *ref.StartRange {
		out := make(map[int]bool, *ref.EndRange-*ref.StartRange+1)
		for n := *ref.StartRange; n <= *ref.EndRange; n++ {
			out[n] = true
		}
		return out
	}
	return nil
}

func partitionRefs(refs []models.ContentRef) (directIDs, masterIDs []string) {
	for _, ref := range refs {
		switch {
		case ref.ContentID != "":
			directIDs = appendUnique(directIDs, ref.ContentID)
		case ref.MasterContentID != "":
			masterIDs = appendUnique(masterIDs, ref.MasterContentID)
		}
	}
	return directIDs, masterIDs
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func uniqueStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = appendUnique(out, v)
	}
	return out
}

func masterInt(master *models.MasterContent, pick func(*models.MasterContent) *int) *int {
	if master == nil {
		return nil
	}
	return pick(master)
}

func firstInt(values ...*int) int {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

