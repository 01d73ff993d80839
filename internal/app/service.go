package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"strata/api/internal/export"
	"strata/api/internal/locker"
	"strata/api/internal/pipeline"
	"strata/api/internal/search"
	"strata/api/internal/storage"
	"strata/api/internal/store"
	"strata/api/internal/timeline"
)

type Service struct {
	repo    store.Repository
	locker  locker.Locker
	blobs   storage.BlobStore
	search  *search.Service
	publish *export.Publisher
	dataDir string
	now     func() time.Time
	report  func(context.Context, timeline.Stats, time.Time) (*export.Result, error)
}

// Options configures a Service. Locker and Search default to in-process
// implementations; a nil Publisher disables publishing.
type Options struct {
	Repo      store.Repository
	Locker    locker.Locker
	Blobs     storage.BlobStore
	Search    *search.Service
	Publisher *export.Publisher
	DataDir   string
}

func New(opts Options) *Service {
	lock := opts.Locker
	if lock == nil {
		lock = locker.NewMemoryLocker()
	}
	searchService := opts.Search
	if searchService == nil {
		searchService = search.NewService(nil, search.NewLocal(Snapshot(opts.Repo)))
	}
	return &Service{
		repo:    opts.Repo,
		locker:  lock,
		blobs:   opts.Blobs,
		search:  searchService,
		publish: opts.Publisher,
		dataDir: opts.DataDir,
		now:     time.Now,
		report:  export.ReportPDF,
	}
}

// Snapshot loads every source and story concurrently.
func Snapshot(repo store.Repository) search.Snapshot {
	return func(ctx context.Context) ([]store.Source, []store.Story, error) {
		var (
			sources []store.Source
			stories []store.Story
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			sources, err = repo.ListSources(gctx, store.SourceFilter{Sort: "id"})
			return err
		})
		g.Go(func() error {
			var err error
			stories, err = repo.ListStories(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
		return sources, stories, nil
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Sources

func (s *Service) ListSources(ctx context.Context, filter store.SourceFilter) ([]store.Source, error) {
	items, err := s.repo.ListSources(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Source{}
	}
	return items, nil
}

func (s *Service) GetSource(ctx context.Context, id int64) (store.SourceWithFiles, error) {
	item, err := s.repo.GetSource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.SourceWithFiles{}, notFound("Source not found")
	}
	return item, err
}

func (s *Service) CreateSource(ctx context.Context, input store.Source) (store.Source, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return store.Source{}, validationError("Name is required")
	}
	if input.SourceType == "" {
		input.SourceType = store.SourceTypeMapOverlay
	}
	if input.Era == "" {
		input.Era = store.EraModern
	}
	if input.Stage == 0 {
		input.Stage = pipeline.MinStage
	}
	input.Tiles = store.NormalizeTiles(input.Tiles)

	violations, err := pipeline.Evaluate(input, input.Stage)
	if err != nil {
		return store.Source{}, invalidStage(err)
	}
	if len(violations) > 0 {
		return store.Source{}, stageGateError(pipeline.MinStage, input.Stage, violations)
	}

	created, err := s.repo.CreateSource(ctx, input)
	if err != nil {
		return store.Source{}, err
	}
	s.search.IndexSource(created)
	return created, nil
}

// UpdateSource merges patch into the stored record. A stage change is checked
// against the gate while the source is locked.
func (s *Service) UpdateSource(ctx context.Context, id int64, patch map[string]json.RawMessage) (store.Source, error) {
	return s.withSourceLock(ctx, id, func(existing store.Source) (store.Source, error) {
		merged, err := mergeRecord(existing, patch)
		if err != nil {
			return store.Source{}, err
		}
		merged.ID = existing.ID
		merged.CreatedAt = existing.CreatedAt
		merged.Name = strings.TrimSpace(merged.Name)
		if merged.Name == "" {
			return store.Source{}, validationError("Name is required")
		}
		merged.Tiles = store.NormalizeTiles(merged.Tiles)
		if err := checkStageChange(existing.Stage, merged); err != nil {
			return store.Source{}, err
		}
		return merged, nil
	})
}

func (s *Service) AdvanceStage(ctx context.Context, id int64) (store.Source, error) {
	return s.withSourceLock(ctx, id, func(existing store.Source) (store.Source, error) {
		if existing.Stage >= pipeline.MaxStage {
			return store.Source{}, domainError(http.StatusConflict, "STAGE_LIMIT", "Source is already at the final stage", nil)
		}
		next := existing
		next.Stage = existing.Stage + 1
		if err := checkStageChange(existing.Stage, next); err != nil {
			return store.Source{}, err
		}
		return next, nil
	})
}

func (s *Service) RevertStage(ctx context.Context, id int64) (store.Source, error) {
	return s.withSourceLock(ctx, id, func(existing store.Source) (store.Source, error) {
		if existing.Stage <= pipeline.MinStage {
			return store.Source{}, domainError(http.StatusConflict, "STAGE_LIMIT", "Source is already at the first stage", nil)
		}
		next := existing
		next.Stage = existing.Stage - 1
		if err := checkStageChange(existing.Stage, next); err != nil {
			return store.Source{}, err
		}
		return next, nil
	})
}

// withSourceLock runs read, mutate and write for one source under its lock.
func (s *Service) withSourceLock(ctx context.Context, id int64, mutate func(store.Source) (store.Source, error)) (store.Source, error) {
	unlock, err := s.locker.Lock(ctx, id)
	if err != nil {
		return store.Source{}, err
	}
	defer unlock()

	existing, err := s.GetSource(ctx, id)
	if err != nil {
		return store.Source{}, err
	}
	next, err := mutate(existing.Source)
	if err != nil {
		return store.Source{}, err
	}
	updated, err := s.repo.UpdateSource(ctx, next)
	if err != nil {
		return store.Source{}, err
	}
	if updated.Stage != existing.Stage {
		slog.InfoContext(ctx, "source stage changed", "source_id", id, "from", existing.Stage, "to", updated.Stage)
	}
	s.search.IndexSource(updated)
	return updated, nil
}

func checkStageChange(current int, next store.Source) error {
	if next.Stage == current {
		return nil
	}
	candidate := next
	candidate.Stage = current
	_, violations, err := pipeline.CheckTransition(candidate, next.Stage)
	switch {
	case errors.Is(err, pipeline.ErrStageSkip):
		return domainError(http.StatusUnprocessableEntity, "STAGE_SKIP",
			fmt.Sprintf("Stage can only move one step at a time (from %d to %d)", current, next.Stage),
			map[string]any{"from": current, "to": next.Stage})
	case err != nil:
		return invalidStage(err)
	case len(violations) > 0:
		return stageGateError(current, next.Stage, violations)
	}
	return nil
}

func invalidStage(err error) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_STAGE", err.Error(), nil)
}

func stageGateError(from, to int, violations []string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "STAGE_GATE",
		fmt.Sprintf("Stage %d requirements are not met", to),
		map[string]any{"from": from, "to": to, "violations": violations})
}

type StageHints struct {
	Stage      int      `json:"stage"`
	StageName  string   `json:"stageName"`
	NextStage  *int     `json:"nextStage"`
	Violations []string `json:"violations"`
}

func (s *Service) StageHints(ctx context.Context, id int64) (StageHints, error) {
	item, err := s.GetSource(ctx, id)
	if err != nil {
		return StageHints{}, err
	}
	hints := StageHints{
		Stage:      item.Stage,
		StageName:  pipeline.StageName(item.Stage),
		Violations: []string{},
	}
	if item.Stage < pipeline.MaxStage {
		next := item.Stage + 1
		hints.NextStage = &next
		if v := pipeline.NextStageHints(item.Source); v != nil {
			hints.Violations = v
		}
	}
	return hints, nil
}

type GateCheck struct {
	Stage      int      `json:"stage"`
	Target     int      `json:"target"`
	Transition string   `json:"transition"`
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations"`
}

// CheckGate reports what target requires of the source and whether a direct
// move there would be accepted.
func (s *Service) CheckGate(ctx context.Context, id int64, target int) (GateCheck, error) {
	if !pipeline.ValidStage(target) {
		return GateCheck{}, invalidStage(fmt.Errorf("%w: target %d", pipeline.ErrInvalidStage, target))
	}
	item, err := s.GetSource(ctx, id)
	if err != nil {
		return GateCheck{}, err
	}
	violations, err := pipeline.Evaluate(item.Source, target)
	if err != nil {
		return GateCheck{}, invalidStage(err)
	}
	check := GateCheck{Stage: item.Stage, Target: target, Violations: violations}
	transition, blocking, err := pipeline.CheckTransition(item.Source, target)
	switch {
	case errors.Is(err, pipeline.ErrStageSkip):
		check.Transition = "skip"
	case err != nil:
		return GateCheck{}, invalidStage(err)
	default:
		check.Transition = transition.String()
		check.Allowed = len(blocking) == 0
	}
	return check, nil
}

// DeleteSource removes the record and then its attachment blobs.
func (s *Service) DeleteSource(ctx context.Context, id int64) error {
	deleted, err := s.repo.DeleteSource(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Source not found")
	}
	if err != nil {
		return err
	}
	for _, file := range deleted.Files {
		s.removeBlob(ctx, file)
	}
	s.search.DeleteSource(id)
	return nil
}

// Attachments

func (s *Service) UploadFile(ctx context.Context, sourceID int64, filename, filetype string, body io.Reader, size int64) (store.SourceFile, error) {
	if strings.TrimSpace(filename) == "" {
		return store.SourceFile{}, validationError("No file provided")
	}
	if _, err := s.GetSource(ctx, sourceID); err != nil {
		return store.SourceFile{}, err
	}
	if filetype == "" {
		filetype = string(store.FileTypeOther)
	}

	key := storage.Key(sourceID, filename)
	if err := s.blobs.Put(ctx, key, body, size, contentTypeFor(store.FileType(filetype))); err != nil {
		return store.SourceFile{}, fmt.Errorf("store attachment: %w", err)
	}
	file, err := s.repo.AddFile(ctx, sourceID, store.SourceFile{
		Filename: filename,
		Filepath: key,
		Filetype: store.FileType(filetype),
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			slog.WarnContext(ctx, "remove orphaned attachment", "key", key, "err", delErr)
		}
		if errors.Is(err, store.ErrNotFound) {
			return store.SourceFile{}, notFound("Source not found")
		}
		return store.SourceFile{}, err
	}
	return file, nil
}

func (s *Service) DeleteFile(ctx context.Context, fileID int64) error {
	file, err := s.repo.DeleteFile(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("File not found")
	}
	if err != nil {
		return err
	}
	s.removeBlob(ctx, file)
	return nil
}

func (s *Service) removeBlob(ctx context.Context, file store.SourceFile) {
	if s.blobs == nil || file.Filepath == "" {
		return
	}
	if err := s.blobs.Delete(ctx, file.Filepath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.WarnContext(ctx, "remove attachment", "key", file.Filepath, "err", err)
	}
}

func contentTypeFor(ft store.FileType) string {
	switch ft {
	case store.FileTypeCZML:
		return "application/json"
	case store.FileTypeGeoJSON:
		return "application/geo+json"
	}
	return "application/octet-stream"
}

// Stories

func (s *Service) ListStories(ctx context.Context) ([]store.Story, error) {
	items, err := s.repo.ListStories(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Story{}
	}
	return items, nil
}

func (s *Service) GetStory(ctx context.Context, id int64) (store.StoryWithContent, error) {
	item, err := s.repo.GetStory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.StoryWithContent{}, notFound("Story not found")
	}
	if err != nil {
		return store.StoryWithContent{}, err
	}
	return store.ResolveStoryContent(s.dataDir, item)
}

func (s *Service) CreateStory(ctx context.Context, input store.Story) (store.Story, error) {
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return store.Story{}, validationError("Title is required")
	}
	if input.Era == "" {
		input.Era = store.EraModern
	}
	if input.SourceIDs == nil {
		input.SourceIDs = []int64{}
	}
	created, err := s.repo.CreateStory(ctx, input)
	if err != nil {
		return store.Story{}, err
	}
	s.search.IndexStory(created)
	return created, nil
}

func (s *Service) UpdateStory(ctx context.Context, id int64, patch map[string]json.RawMessage) (store.Story, error) {
	existing, err := s.repo.GetStory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Story{}, notFound("Story not found")
	}
	if err != nil {
		return store.Story{}, err
	}
	merged, err := mergeRecord(existing, patch)
	if err != nil {
		return store.Story{}, err
	}
	merged.ID = existing.ID
	merged.CreatedAt = existing.CreatedAt
	merged.Title = strings.TrimSpace(merged.Title)
	if merged.Title == "" {
		return store.Story{}, validationError("Title is required")
	}
	if merged.SourceIDs == nil {
		merged.SourceIDs = []int64{}
	}
	updated, err := s.repo.UpdateStory(ctx, merged)
	if errors.Is(err, store.ErrNotFound) {
		return store.Story{}, notFound("Story not found")
	}
	if err != nil {
		return store.Story{}, err
	}
	s.search.IndexStory(updated)
	return updated, nil
}

func (s *Service) DeleteStory(ctx context.Context, id int64) error {
	err := s.repo.DeleteStory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Story not found")
	}
	if err != nil {
		return err
	}
	s.search.DeleteStory(id)
	return nil
}

// Periods

func (s *Service) GetPeriods(ctx context.Context) (store.Periods, error) {
	return s.repo.GetPeriods(ctx)
}

func (s *Service) SetPeriods(ctx context.Context, periods json.RawMessage) (store.Periods, error) {
	trimmed := strings.TrimSpace(string(periods))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
	}
	if err := s.repo.SetPeriods(ctx, store.Periods(trimmed)); err != nil {
		return nil, err
	}
	return store.Periods(trimmed), nil
}

// Stats and search

func (s *Service) Stats(ctx context.Context) (timeline.Stats, error) {
	sources, stories, err := Snapshot(s.repo)(ctx)
	if err != nil {
		return timeline.Stats{}, err
	}
	return timeline.ComputeStats(sources, stories), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

// ReindexSearch pushes every record to the search backend.
func (s *Service) ReindexSearch(ctx context.Context) {
	s.search.ReindexAll(ctx)
}

// Export

func (s *Service) ExportConfig(ctx context.Context) (export.ImageryConfig, error) {
	sources, err := s.repo.ListSources(ctx, store.SourceFilter{Sort: "id"})
	if err != nil {
		return export.ImageryConfig{}, err
	}
	return export.Config(sources, s.now()), nil
}

func (s *Service) ExportCZML(ctx context.Context) ([]any, error) {
	detailed, err := s.sourcesWithFiles(ctx)
	if err != nil {
		return nil, err
	}
	sources := make([]store.Source, 0, len(detailed))
	files := make(map[int64][]store.SourceFile, len(detailed))
	for _, item := range detailed {
		sources = append(sources, item.Source)
		files[item.ID] = item.Files
	}
	return export.CZML(sources, files), nil
}

func (s *Service) ExportGeoJSON(ctx context.Context) (any, error) {
	sources, err := s.repo.ListSources(ctx, store.SourceFilter{Sort: "id"})
	if err != nil {
		return nil, err
	}
	return export.GeoJSON(sources), nil
}

func (s *Service) ExportReport(ctx context.Context) (*export.Result, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, stats, s.now())
}

// Bundle builds the static export written by the prebuild step.
func (s *Service) Bundle(ctx context.Context) (export.Bundle, error) {
	sources, err := s.sourcesWithFiles(ctx)
	if err != nil {
		return export.Bundle{}, err
	}
	stories, err := s.repo.ListStories(ctx)
	if err != nil {
		return export.Bundle{}, err
	}
	resolved := make([]store.StoryWithContent, 0, len(stories))
	for _, story := range stories {
		item, err := store.ResolveStoryContent(s.dataDir, story)
		if err != nil {
			return export.Bundle{}, fmt.Errorf("resolve story %d: %w", story.ID, err)
		}
		resolved = append(resolved, item)
	}
	return export.BuildBundle(sources, resolved, s.now())
}

// Publish commits the current bundle into the publish repository.
func (s *Service) Publish(ctx context.Context, message string) (export.Commit, error) {
	if s.publish == nil {
		return export.Commit{}, domainError(http.StatusServiceUnavailable, "PUBLISH_DISABLED", "No publish repository is configured", nil)
	}
	bundle, err := s.Bundle(ctx)
	if err != nil {
		return export.Commit{}, err
	}
	if strings.TrimSpace(message) == "" {
		message = "Update static export " + s.now().UTC().Format(time.RFC3339)
	}
	commit, err := s.publish.Publish(bundle, message)
	if errors.Is(err, export.ErrNothingToPublish) {
		return export.Commit{}, domainError(http.StatusConflict, "NOTHING_TO_PUBLISH", "Export is unchanged since the last publish", nil)
	}
	if err != nil {
		return export.Commit{}, err
	}
	slog.InfoContext(ctx, "export published", "commit", commit.Hash)
	return commit, nil
}

func (s *Service) PublishHistory(limit int) ([]export.Commit, error) {
	if s.publish == nil {
		return []export.Commit{}, nil
	}
	return s.publish.History(limit)
}

func (s *Service) sourcesWithFiles(ctx context.Context) ([]store.SourceWithFiles, error) {
	sources, err := s.repo.ListSources(ctx, store.SourceFilter{Sort: "id"})
	if err != nil {
		return nil, err
	}
	out := make([]store.SourceWithFiles, 0, len(sources))
	for _, src := range sources {
		item, err := s.repo.GetSource(ctx, src.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

var immutableFields = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"files":      {},
}

// mergeRecord overlays the JSON fields in patch onto existing. Explicit nulls clear a field.
func mergeRecord[T any](existing T, patch map[string]json.RawMessage) (T, error) {
	var zero T
	base, err := json.Marshal(existing)
	if err != nil {
		return zero, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return zero, err
	}
	for key, value := range patch {
		if _, locked := immutableFields[key]; locked {
			continue
		}
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return zero, validationError(fmt.Sprintf("Invalid value for %s", typeErr.Field))
		}
		return zero, validationError("Invalid request body")
	}
	return out, nil
}
