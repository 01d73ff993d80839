package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxSources = "strata_sources"
	idxStories = "strata_stories"
)

// Meili implements full-text search via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a client and configures indexes. A failed first health
// check leaves it unhealthy; the background loop keeps probing.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		slog.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		filterable []string
		searchable []string
		sortable   []string
	}{
		{
			uid:        idxSources,
			filterable: []string{"era", "stage", "source_type"},
			searchable: []string{"name", "description", "notes"},
			sortable:   []string{"year_start"},
		},
		{
			uid:        idxStories,
			filterable: []string{"era"},
			searchable: []string{"title", "description"},
			sortable:   []string{"year_start"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			slog.Debug("create index (may already exist)", "index", idx.uid, "err", err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			slog.Warn("update filterable attributes", "index", idx.uid, "err", err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			slog.Warn("update searchable attributes", "index", idx.uid, "err", err)
		}
		if _, err := index.UpdateSortableAttributes(&idx.sortable); err != nil {
			slog.Warn("update sortable attributes", "index", idx.uid, "err", err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search across the selected indexes and merges the hits.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxSources, ResultSource},
		{idxStories, ResultStory},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 int64(q.limit()),
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.Era != "" {
			sr.Filter = []string{fmt.Sprintf("era = %q", q.Era)}
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			r, ok := hitToResult(hit, rtyp)
			if !ok {
				slog.Warn("skipping malformed search hit", "index", sr.IndexUID)
				continue
			}
			results = append(results, r)
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxSources:
		return ResultSource
	case idxStories:
		return ResultStory
	default:
		return ""
	}
}

// hitToResult reports false when the hit has no usable id.
func hitToResult(hit meili.Hit, rtyp ResultType) (Result, bool) {
	r := Result{Type: rtyp}
	if !decodeInto(hit, "id", &r.ID) || r.ID == 0 {
		return Result{}, false
	}
	decodeInto(hit, "era", &r.Era)
	decodeInto(hit, "year_start", &r.YearStart)

	switch rtyp {
	case ResultSource:
		decodeInto(hit, "stage", &r.Stage)
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.Snippet = firstNonBlank(
			decodeFormattedString(hit, "description"),
			decodeFormattedString(hit, "notes"),
			decodeString(hit, "description"),
		)
	case ResultStory:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	}
	return r, true
}

// decodeInto reports whether key was present and decoded into target.
func decodeInto(hit meili.Hit, key string, target any) bool {
	raw, ok := hit[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, target); err != nil {
		slog.Debug("search hit field has unexpected type", "field", key, "error", err)
		return false
	}
	return true
}

func decodeString(hit meili.Hit, key string) string {
	var s string
	decodeInto(hit, key, &s)
	return s
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexSources(records []SourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSources).AddDocuments(records, nil)
	return err
}

func (m *Meili) IndexStories(records []StoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxStories).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteSource(id int64) error {
	_, err := m.client.Index(idxSources).DeleteDocument(idString(id), nil)
	return err
}

func (m *Meili) DeleteStory(id int64) error {
	_, err := m.client.Index(idxStories).DeleteDocument(idString(id), nil)
	return err
}
