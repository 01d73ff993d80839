package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// Repository is the persistence contract shared by every backend.
type Repository interface {
	ListSources(ctx context.Context, filter SourceFilter) ([]Source, error)
	GetSource(ctx context.Context, id int64) (SourceWithFiles, error)
	CreateSource(ctx context.Context, item Source) (Source, error)
	UpdateSource(ctx context.Context, item Source) (Source, error)
	DeleteSource(ctx context.Context, id int64) (SourceWithFiles, error)

	ListStories(ctx context.Context) ([]Story, error)
	GetStory(ctx context.Context, id int64) (Story, error)
	CreateStory(ctx context.Context, item Story) (Story, error)
	UpdateStory(ctx context.Context, item Story) (Story, error)
	DeleteStory(ctx context.Context, id int64) error

	AddFile(ctx context.Context, sourceID int64, file SourceFile) (SourceFile, error)
	DeleteFile(ctx context.Context, fileID int64) (SourceFile, error)

	GetPeriods(ctx context.Context) (Periods, error)
	SetPeriods(ctx context.Context, periods Periods) error

	Ping(ctx context.Context) error
}

type SourceFilter struct {
	Era        string
	Stage      int
	SourceType string
	HasTiles   *bool
	Sort       string
	Order      string
}

var sortableFields = map[string]struct{}{
	"id":          {},
	"name":        {},
	"year_start":  {},
	"year_end":    {},
	"stage":       {},
	"era":         {},
	"source_type": {},
	"created_at":  {},
	"updated_at":  {},
}

// SortField returns the requested sort key, falling back to year_start.
func (f SourceFilter) SortField() string {
	if _, ok := sortableFields[f.Sort]; ok {
		return f.Sort
	}
	return "year_start"
}

func (f SourceFilter) Descending() bool {
	return strings.EqualFold(f.Order, "desc")
}

// ApplyFilter filters and sorts sources in place of a query engine.
// Null values always sort last regardless of direction.
func ApplyFilter(items []Source, filter SourceFilter) []Source {
	out := make([]Source, 0, len(items))
	for _, item := range items {
		if filter.Era != "" && string(item.Era) != filter.Era {
			continue
		}
		if filter.Stage != 0 && item.Stage != filter.Stage {
			continue
		}
		if filter.SourceType != "" && string(item.SourceType) != filter.SourceType {
			continue
		}
		if filter.HasTiles != nil && (len(item.Tiles) > 0) != *filter.HasTiles {
			continue
		}
		out = append(out, item)
	}

	field := filter.SortField()
	dir := 1
	if filter.Descending() {
		dir = -1
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aok := sortKey(out[i], field)
		b, bok := sortKey(out[j], field)
		switch {
		case !aok && !bok:
			return false
		case !aok:
			return false
		case !bok:
			return true
		}
		return compareKeys(a, b)*dir < 0
	})
	return out
}

func sortKey(item Source, field string) (any, bool) {
	switch field {
	case "id":
		return item.ID, true
	case "name":
		return item.Name, true
	case "year_start":
		if item.YearStart == nil {
			return nil, false
		}
		return int64(*item.YearStart), true
	case "year_end":
		if item.YearEnd == nil {
			return nil, false
		}
		return int64(*item.YearEnd), true
	case "stage":
		return int64(item.Stage), true
	case "era":
		return string(item.Era), true
	case "source_type":
		return string(item.SourceType), true
	case "created_at":
		return item.CreatedAt.Time, true
	case "updated_at":
		return item.UpdatedAt.Time, true
	}
	return nil, false
}

func compareKeys(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		return strings.Compare(av, b.(string))
	case time.Time:
		return av.Compare(b.(time.Time))
	}
	return 0
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases name, collapses non-alphanumeric runs to "-" and caps it at 60 chars.
func Slugify(name string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug
}

// RecordFilename is the on-disk name of a record: "{id}-{slug}.json".
func RecordFilename(id int64, name string) string {
	return strconv.FormatInt(id, 10) + "-" + Slugify(name) + ".json"
}

// NormalizeTiles drops tiles without a URL.
func NormalizeTiles(tiles []Tile) []Tile {
	out := make([]Tile, 0, len(tiles))
	for _, tile := range tiles {
		if strings.TrimSpace(tile.URL) == "" {
			continue
		}
		out = append(out, tile)
	}
	return out
}

func nextFileID(files []SourceFile) int64 {
	var maxID int64
	for _, f := range files {
		if f.ID > maxID {
			maxID = f.ID
		}
	}
	return maxID + 1
}

func emptyPeriods() Periods {
	return json.RawMessage(`{}`)
}
