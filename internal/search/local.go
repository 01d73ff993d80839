package search

import (
	"context"
	"strings"

	"strata/api/internal/store"
)

// Snapshot loads the current records for the in-memory fallback.
type Snapshot func(ctx context.Context) ([]store.Source, []store.Story, error)

// Local answers queries with a case-insensitive substring scan over a snapshot.
type Local struct {
	load Snapshot
}

func NewLocal(load Snapshot) *Local {
	return &Local{load: load}
}

func (l *Local) Search(ctx context.Context, q Query) ([]Result, int, error) {
	sources, stories, err := l.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	var matches []Result
	if q.FilterType == "" || q.FilterType == ResultSource {
		for _, s := range sources {
			if q.Era != "" && string(s.Era) != q.Era {
				continue
			}
			snippet, ok := matchFields(needle, s.Name, deref(s.Description), deref(s.Notes))
			if !ok {
				continue
			}
			matches = append(matches, Result{
				Type:      ResultSource,
				ID:        s.ID,
				Title:     s.Name,
				Snippet:   snippet,
				Era:       string(s.Era),
				YearStart: s.YearStart,
				Stage:     s.Stage,
			})
		}
	}
	if q.FilterType == "" || q.FilterType == ResultStory {
		for _, s := range stories {
			if q.Era != "" && string(s.Era) != q.Era {
				continue
			}
			snippet, ok := matchFields(needle, s.Title, deref(s.Description))
			if !ok {
				continue
			}
			year := s.YearStart
			matches = append(matches, Result{
				Type:      ResultStory,
				ID:        s.ID,
				Title:     s.Title,
				Snippet:   snippet,
				Era:       string(s.Era),
				YearStart: &year,
			})
		}
	}

	total := len(matches)
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

// matchFields reports whether needle occurs in any field and returns the
// first non-title field as a snippet, falling back to the title.
func matchFields(needle string, title string, rest ...string) (string, bool) {
	fields := append([]string{title}, rest...)
	matched := needle == ""
	for _, f := range fields {
		if !matched && strings.Contains(strings.ToLower(f), needle) {
			matched = true
		}
	}
	if !matched {
		return "", false
	}
	for _, f := range rest {
		if strings.TrimSpace(f) != "" {
			return excerpt(f, 160), true
		}
	}
	return title, true
}

func excerpt(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
