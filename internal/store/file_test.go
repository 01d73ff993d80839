package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreRenamesRecordFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	ctx := context.Background()

	item, err := repo.CreateSource(ctx, Source{Name: "First Name", Stage: 1, Era: EraModern})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sources", "1-first-name.json")); err != nil {
		t.Fatalf("expected record file: %v", err)
	}

	item.Name = "Second Name"
	if _, err := repo.UpdateSource(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "sources"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "1-second-name.json" {
		t.Fatalf("expected only renamed record, got %v", entries)
	}
}

func TestFileStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sources", "README.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sources", "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	items, err := repo.ListSources(context.Background(), SourceFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no sources, got %d", len(items))
	}
}

func TestFileStoreIDsFollowHighestExisting(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stories", "7-old.json"), []byte(`{"id":7,"title":"old","year_start":1800,"era":"victorian","source_ids":[]}`), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	story, err := repo.CreateStory(context.Background(), Story{Title: "New", YearStart: 1900, Era: EraModern})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	if story.ID != 8 {
		t.Fatalf("expected id 8, got %d", story.ID)
	}
}

func TestFileStoreReadsLegacyTimestamps(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	record := `{
  "id": 1,
  "name": "Tithe",
  "description": null,
  "source_url": "https://example.org/tithe",
  "source_type": "map_overlay",
  "stage": 2,
  "year_start": 1840,
  "year_end": null,
  "era": "victorian",
  "bounds_west": null,
  "bounds_south": null,
  "bounds_east": null,
  "bounds_north": null,
  "notes": null,
  "iiif_url": null,
  "georeference_url": null,
  "tiles": [],
  "created_at": "2024-01-05 12:00:00",
  "updated_at": "2024-01-06 08:30:15",
  "files": [
    {"id": 1, "source_id": 1, "filename": "a.png", "filepath": "1/a.png", "filetype": "image", "created_at": "2024-01-05 12:01:00"}
  ]
}`
	if err := os.WriteFile(filepath.Join(dir, "sources", "1-tithe.json"), []byte(record), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	items, err := repo.ListSources(context.Background(), SourceFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 source, got %d", len(items))
	}
	want := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	if !items[0].CreatedAt.Equal(want) {
		t.Fatalf("created_at = %v, want %v", items[0].CreatedAt, want)
	}
	if !items[0].UpdatedAt.Equal(time.Date(2024, 1, 6, 8, 30, 15, 0, time.UTC)) {
		t.Fatalf("unexpected updated_at %v", items[0].UpdatedAt)
	}

	detail, err := repo.GetSource(context.Background(), 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.Files) != 1 || !detail.Files[0].CreatedAt.Equal(time.Date(2024, 1, 5, 12, 1, 0, 0, time.UTC)) {
		t.Fatalf("unexpected files %+v", detail.Files)
	}

	// A rewrite keeps created_at and stores RFC 3339.
	if _, err := repo.UpdateSource(context.Background(), items[0]); err != nil {
		t.Fatalf("update: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "sources", "1-tithe.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"created_at": "2024-01-05T12:00:00Z"`) {
		t.Fatalf("expected RFC 3339 created_at, got %s", data)
	}
}

func TestTimestampRejectsUnknownFormat(t *testing.T) {
	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`"05/01/2024"`)); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
	if err := ts.UnmarshalJSON([]byte(`null`)); err != nil || !ts.IsZero() {
		t.Fatalf("null should decode to zero time, got %v %v", ts, err)
	}
}

func TestWriteRecordKeepsOldFileWhenWriteFails(t *testing.T) {
	dir := t.TempDir()
	if err := writeRecord(dir, 1, "Old Name", map[string]any{"id": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A func value cannot be encoded, so the rename never happens.
	if err := writeRecord(dir, 1, "New Name", map[string]any{"id": func() {}}); err == nil {
		t.Fatal("expected marshal error")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "1-old-name.json" {
		t.Fatalf("expected the old record to survive, got %v", entries)
	}

	if err := writeRecord(dir, 1, "New Name", map[string]any{"id": 1}); err != nil {
		t.Fatalf("rename write: %v", err)
	}
	entries, err = os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "1-new-name.json" {
		t.Fatalf("expected only the renamed record, no temp files, got %v", entries)
	}
}
