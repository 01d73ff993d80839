package timeline

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"strata/api/internal/store"
)

func year(v int) *int { return &v }

func TestBucketBoundaries(t *testing.T) {
	tests := []struct {
		year  int
		start int
		end   int
	}{
		{year: 79, start: 0, end: 100},
		{year: 0, start: 0, end: 100},
		{year: -1, start: -100, end: 0},
		{year: -150, start: -200, end: -100},
		{year: 1499, start: 1400, end: 1500},
		{year: 1500, start: 1500, end: 1550},
		{year: 1749, start: 1700, end: 1750},
		{year: 1750, start: 1750, end: 1775},
		{year: 1850, start: 1850, end: 1875},
		{year: 1899, start: 1875, end: 1900},
		{year: 1900, start: 1900, end: 1910},
		{year: 2099, start: 2090, end: 2100},
		{year: 2100, start: 2100, end: 2110},
		{year: 2345, start: 2340, end: 2350},
	}
	for _, tc := range tests {
		start := BucketStart(tc.year)
		end := start + BucketWidth(tc.year)
		if start != tc.start || end != tc.end {
			t.Fatalf("year %d: got [%d,%d), want [%d,%d)", tc.year, start, end, tc.start, tc.end)
		}
	}
}

func TestBucketBoundarySweep(t *testing.T) {
	for _, r := range bucketRanges {
		for y := r.end - 3*r.width; y <= r.end+r.width; y += r.width {
			for _, probe := range []int{y - 1, y, y + 1} {
				start := BucketStart(probe)
				end := start + BucketWidth(probe)
				if probe < start || probe >= end {
					t.Fatalf("year %d not inside its bucket [%d,%d)", probe, start, end)
				}
				if start%BucketWidth(probe) != 0 {
					t.Fatalf("year %d bucket start %d not aligned to width %d", probe, start, BucketWidth(probe))
				}
			}
		}
	}
}

func TestComputeStatsConcreteScenario(t *testing.T) {
	sources := []store.Source{
		{ID: 1, Name: "Tithe", YearStart: year(1850), Stage: 3, Era: store.EraVictorian, SourceType: store.SourceTypeMapOverlay},
		{ID: 2, Name: "Roads", YearStart: year(79), Stage: 4, Era: store.EraRoman, SourceType: store.SourceTypeVectorFeatures},
	}
	stats := ComputeStats(sources, nil)

	if stats.Total != 2 || stats.StoryTotal != 0 || len(stats.Undated) != 0 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if len(stats.Buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(stats.Buckets))
	}
	if stats.Buckets[0].Start != 0 || stats.Buckets[0].End != 100 {
		t.Fatalf("unexpected first bucket %+v", stats.Buckets[0])
	}
	if stats.Buckets[1].Start != 1850 || stats.Buckets[1].End != 1875 {
		t.Fatalf("unexpected second bucket %+v", stats.Buckets[1])
	}
	wantEras := []EraCount{{Era: "roman", Count: 1}, {Era: "victorian", Count: 1}}
	if !reflect.DeepEqual(stats.ByEra, wantEras) {
		t.Fatalf("byEra = %+v, want %+v", stats.ByEra, wantEras)
	}
}

func TestComputeStatsExcludesStageOneFromBuckets(t *testing.T) {
	sources := []store.Source{
		{ID: 1, Name: "provisional", YearStart: year(1600), Stage: 1, Era: store.EraMedieval, SourceType: store.SourceTypeMapOverlay},
		{ID: 2, Name: "vetted", YearStart: year(1500), Stage: 2, Era: store.EraMedieval, SourceType: store.SourceTypeMapOverlay},
	}
	stats := ComputeStats(sources, nil)

	if len(stats.Buckets) != 1 || stats.Buckets[0].Start != 1500 || stats.Buckets[0].End != 1550 {
		t.Fatalf("unexpected buckets %+v", stats.Buckets)
	}
	for _, b := range stats.Buckets {
		for _, s := range b.Sources {
			if s.ID == 1 {
				t.Fatal("stage-1 source must not appear in buckets")
			}
		}
	}
	wantStages := []StageCount{{Stage: 1, Count: 1}, {Stage: 2, Count: 1}}
	if !reflect.DeepEqual(stats.ByStage, wantStages) || stats.Total != 2 {
		t.Fatalf("byStage = %+v total=%d", stats.ByStage, stats.Total)
	}
}

func TestComputeStatsStoriesAndUndated(t *testing.T) {
	sources := []store.Source{
		{ID: 1, Name: "undated", Stage: 3, Era: store.EraModern, SourceType: store.SourceType3DModel},
	}
	stories := []store.Story{
		{ID: 5, Title: "Fire", YearStart: 1666, Era: store.EraMedieval},
		{ID: 6, Title: "Plague", YearStart: 1665, Era: store.EraMedieval},
	}
	stats := ComputeStats(sources, stories)

	if stats.StoryTotal != 2 || len(stats.Undated) != 1 || stats.Undated[0].ID != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.Buckets) != 1 {
		t.Fatalf("expected one story-only bucket, got %+v", stats.Buckets)
	}
	b := stats.Buckets[0]
	if b.Start != 1650 || b.End != 1700 || len(b.Sources) != 0 || len(b.Stories) != 2 {
		t.Fatalf("unexpected bucket %+v", b)
	}
	if len(stats.ByStage) != 1 || stats.ByStage[0].Stage != 3 {
		t.Fatalf("undated source should still count by stage: %+v", stats.ByStage)
	}
}

func TestComputeStatsEraOrdering(t *testing.T) {
	sources := []store.Source{
		{ID: 1, Era: store.EraModern, Stage: 1, SourceType: "b"},
		{ID: 2, Era: "bronze_age", Stage: 1, SourceType: "a"},
		{ID: 3, Era: store.EraRoman, Stage: 1, SourceType: "b"},
		{ID: 4, Era: store.EraIndustrial, Stage: 1, SourceType: "c"},
		{ID: 5, Era: "atlantis", Stage: 1, SourceType: "a"},
		{ID: 6, Era: store.EraModern, Stage: 1, SourceType: "a"},
	}
	stats := ComputeStats(sources, nil)

	var eras []string
	for _, e := range stats.ByEra {
		eras = append(eras, e.Era)
	}
	want := []string{"bronze_age", "atlantis", "roman", "industrial", "modern"}
	if !reflect.DeepEqual(eras, want) {
		t.Fatalf("byEra order = %v, want %v", eras, want)
	}
	if stats.ByEra[4].Count != 2 {
		t.Fatalf("expected two modern sources, got %d", stats.ByEra[4].Count)
	}

	wantTypes := []TypeCount{{SourceType: "b", Count: 2}, {SourceType: "a", Count: 3}, {SourceType: "c", Count: 1}}
	if !reflect.DeepEqual(stats.ByType, wantTypes) {
		t.Fatalf("byType = %+v, want %+v", stats.ByType, wantTypes)
	}
}

func TestComputeStatsEmptyListsEncodeAsArrays(t *testing.T) {
	payload, err := json.Marshal(ComputeStats(nil, nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(payload), "null") {
		t.Fatalf("expected no null lists, got %s", payload)
	}

	payload, err = json.Marshal(ComputeStats(nil, []store.Story{{ID: 1, Title: "t", YearStart: 10}}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(payload), `"sources":[]`) {
		t.Fatalf("expected empty sources array in bucket, got %s", payload)
	}
}

func TestComputeStatsBucketCoverage(t *testing.T) {
	var sources []store.Source
	for y := -250; y <= 2150; y += 7 {
		sources = append(sources, store.Source{ID: int64(len(sources) + 1), YearStart: year(y), Stage: 2 + (y & 1)})
	}
	stats := ComputeStats(sources, nil)

	seen := map[int64]int{}
	prev := -1 << 31
	for _, b := range stats.Buckets {
		if b.Start <= prev {
			t.Fatalf("buckets not sorted: %d after %d", b.Start, prev)
		}
		prev = b.Start
		for _, s := range b.Sources {
			if s.YearStart < b.Start || s.YearStart >= b.End {
				t.Fatalf("source year %d outside [%d,%d)", s.YearStart, b.Start, b.End)
			}
			seen[s.ID]++
		}
	}
	for _, src := range sources {
		if seen[src.ID] != 1 {
			t.Fatalf("source %d appeared %d times", src.ID, seen[src.ID])
		}
	}
}
