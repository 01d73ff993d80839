package search

import (
	"context"
	"log/slog"

	"strata/api/internal/store"
)

// Service tries Meilisearch first and falls back to the in-memory scan.
type Service struct {
	meili *Meili
	local *Local
}

// NewService creates a search service. meili may be nil when Meilisearch is not configured.
func NewService(meili *Meili, local *Local) *Service {
	return &Service{meili: meili, local: local}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("meilisearch failed, falling back to local search", "err", err)
	}

	if s.local == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.local.Search(ctx, q)
	if err != nil {
		slog.Error("local search failed", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexSource pushes a source to Meilisearch without blocking the caller.
func (s *Service) IndexSource(src store.Source) {
	if !s.meiliReady() {
		return
	}
	record := SourceRecordFrom(src)
	go func() {
		if err := s.meili.IndexSources([]SourceRecord{record}); err != nil {
			slog.Warn("index source", "id", record.ID, "err", err)
		}
	}()
}

func (s *Service) IndexStory(story store.Story) {
	if !s.meiliReady() {
		return
	}
	record := StoryRecordFrom(story)
	go func() {
		if err := s.meili.IndexStories([]StoryRecord{record}); err != nil {
			slog.Warn("index story", "id", record.ID, "err", err)
		}
	}()
}

func (s *Service) DeleteSource(id int64) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteSource(id); err != nil {
			slog.Warn("delete source from index", "id", id, "err", err)
		}
	}()
}

func (s *Service) DeleteStory(id int64) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteStory(id); err != nil {
			slog.Warn("delete story from index", "id", id, "err", err)
		}
	}()
}

// ReindexAll pushes the full snapshot to Meilisearch. Called at startup.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.meiliReady() || s.local == nil {
		return
	}
	sources, stories, err := s.local.load(ctx)
	if err != nil {
		slog.Error("reindex load failed", "err", err)
		return
	}
	sourceRecords := make([]SourceRecord, 0, len(sources))
	for _, src := range sources {
		sourceRecords = append(sourceRecords, SourceRecordFrom(src))
	}
	storyRecords := make([]StoryRecord, 0, len(stories))
	for _, story := range stories {
		storyRecords = append(storyRecords, StoryRecordFrom(story))
	}
	if err := s.meili.IndexSources(sourceRecords); err != nil {
		slog.Warn("reindex sources", "err", err)
	}
	if err := s.meili.IndexStories(storyRecords); err != nil {
		slog.Warn("reindex stories", "err", err)
	}
	slog.Info("search reindexed", "sources", len(sourceRecords), "stories", len(storyRecords))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
