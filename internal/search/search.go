package search

import (
	"strconv"

	"strata/api/internal/store"
)

// ResultType identifies the kind of record in a search result.
type ResultType string

const (
	ResultSource ResultType = "source"
	ResultStory  ResultType = "story"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Era       string     `json:"era"`
	YearStart *int       `json:"year_start"`
	Stage     int        `json:"stage,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Era        string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// SourceRecord is the data we index for a source.
type SourceRecord struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
	Era         string `json:"era"`
	Stage       int    `json:"stage"`
	SourceType  string `json:"source_type"`
	YearStart   *int   `json:"year_start"`
}

// StoryRecord is the data we index for a story.
type StoryRecord struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Era         string `json:"era"`
	YearStart   int    `json:"year_start"`
}

func SourceRecordFrom(s store.Source) SourceRecord {
	return SourceRecord{
		ID:          s.ID,
		Name:        s.Name,
		Description: deref(s.Description),
		Notes:       deref(s.Notes),
		Era:         string(s.Era),
		Stage:       s.Stage,
		SourceType:  string(s.SourceType),
		YearStart:   s.YearStart,
	}
}

func StoryRecordFrom(s store.Story) StoryRecord {
	return StoryRecord{
		ID:          s.ID,
		Title:       s.Title,
		Description: deref(s.Description),
		Era:         string(s.Era),
		YearStart:   s.YearStart,
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
