// Package timeline aggregates sources and stories into dashboard counts and
// adaptive-width time buckets.
package timeline

import (
	"sort"

	"strata/api/internal/store"
)

type bucketRange struct {
	end   int
	width int
}

var bucketRanges = []bucketRange{
	{end: 1500, width: 100},
	{end: 1750, width: 50},
	{end: 1900, width: 25},
	{end: 2100, width: 10},
}

const fallbackWidth = 10

// BucketWidth returns the width of the first range whose end is above year.
func BucketWidth(year int) int {
	for _, r := range bucketRanges {
		if year < r.end {
			return r.width
		}
	}
	return fallbackWidth
}

// BucketStart floors year to its bucket boundary. Negative years round down.
func BucketStart(year int) int {
	width := BucketWidth(year)
	start := (year / width) * width
	if year%width != 0 && year < 0 {
		start -= width
	}
	return start
}

type StageCount struct {
	Stage int `json:"stage"`
	Count int `json:"count"`
}

type EraCount struct {
	Era   string `json:"era"`
	Count int    `json:"count"`
}

type TypeCount struct {
	SourceType string `json:"source_type"`
	Count      int    `json:"count"`
}

type SourceEntry struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	YearStart  int    `json:"year_start"`
	Era        string `json:"era"`
	Stage      int    `json:"stage"`
	SourceType string `json:"source_type"`
}

type StoryEntry struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	YearStart int    `json:"year_start"`
	Era       string `json:"era"`
}

type UndatedEntry struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Era        string `json:"era"`
	Stage      int    `json:"stage"`
	SourceType string `json:"source_type"`
}

type Bucket struct {
	Start   int           `json:"start"`
	End     int           `json:"end"`
	Sources []SourceEntry `json:"sources"`
	Stories []StoryEntry  `json:"stories"`
}

type Stats struct {
	Total      int            `json:"total"`
	StoryTotal int            `json:"storyTotal"`
	ByStage    []StageCount   `json:"byStage"`
	ByEra      []EraCount     `json:"byEra"`
	ByType     []TypeCount    `json:"byType"`
	Buckets    []Bucket       `json:"buckets"`
	Undated    []UndatedEntry `json:"undated"`
}

// ComputeStats builds the dashboard aggregate from a full snapshot.
// Stage-1 sources are counted but never placed in a bucket.
func ComputeStats(sources []store.Source, stories []store.Story) Stats {
	stats := Stats{
		Total:      len(sources),
		StoryTotal: len(stories),
		ByStage:    []StageCount{},
		ByEra:      []EraCount{},
		ByType:     []TypeCount{},
		Buckets:    []Bucket{},
		Undated:    []UndatedEntry{},
	}

	buckets := map[int]*Bucket{}
	bucketFor := func(year int) *Bucket {
		start := BucketStart(year)
		b, ok := buckets[start]
		if !ok {
			b = &Bucket{
				Start:   start,
				End:     start + BucketWidth(year),
				Sources: []SourceEntry{},
				Stories: []StoryEntry{},
			}
			buckets[start] = b
		}
		return b
	}

	stageCounts := map[int]int{}
	eraCounts := map[string]int{}
	var eraSeen []string
	typeCounts := map[string]int{}
	var typeSeen []string

	for _, src := range sources {
		stageCounts[src.Stage]++

		era := string(src.Era)
		if _, ok := eraCounts[era]; !ok {
			eraSeen = append(eraSeen, era)
		}
		eraCounts[era]++

		kind := string(src.SourceType)
		if _, ok := typeCounts[kind]; !ok {
			typeSeen = append(typeSeen, kind)
		}
		typeCounts[kind]++

		if src.YearStart == nil {
			stats.Undated = append(stats.Undated, UndatedEntry{
				ID:         src.ID,
				Name:       src.Name,
				Era:        era,
				Stage:      src.Stage,
				SourceType: kind,
			})
			continue
		}
		if src.Stage <= 1 {
			continue
		}
		b := bucketFor(*src.YearStart)
		b.Sources = append(b.Sources, SourceEntry{
			ID:         src.ID,
			Name:       src.Name,
			YearStart:  *src.YearStart,
			Era:        era,
			Stage:      src.Stage,
			SourceType: kind,
		})
	}

	for _, story := range stories {
		b := bucketFor(story.YearStart)
		b.Stories = append(b.Stories, StoryEntry{
			ID:        story.ID,
			Title:     story.Title,
			YearStart: story.YearStart,
			Era:       string(story.Era),
		})
	}

	stages := make([]int, 0, len(stageCounts))
	for stage := range stageCounts {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	for _, stage := range stages {
		stats.ByStage = append(stats.ByStage, StageCount{Stage: stage, Count: stageCounts[stage]})
	}

	for _, era := range orderEras(eraSeen) {
		stats.ByEra = append(stats.ByEra, EraCount{Era: era, Count: eraCounts[era]})
	}

	for _, kind := range typeSeen {
		stats.ByType = append(stats.ByType, TypeCount{SourceType: kind, Count: typeCounts[kind]})
	}

	starts := make([]int, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	sort.Ints(starts)
	for _, start := range starts {
		stats.Buckets = append(stats.Buckets, *buckets[start])
	}

	return stats
}

// orderEras puts unknown eras first in first-seen order, then known eras in
// chronological order.
func orderEras(seen []string) []string {
	rank := make(map[string]int, len(store.Eras))
	for i, era := range store.Eras {
		rank[string(era)] = i
	}
	out := make([]string, 0, len(seen))
	for _, era := range seen {
		if _, known := rank[era]; !known {
			out = append(out, era)
		}
	}
	present := map[string]bool{}
	for _, era := range seen {
		present[era] = true
	}
	for _, era := range store.Eras {
		if present[string(era)] {
			out = append(out, string(era))
		}
	}
	return out
}
