package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

func strPtr(v string) *string { return &v }

func TestFileStoreRepository(t *testing.T) {
	repo, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	exerciseRepository(t, repo)
}

func TestGormSQLiteRepository(t *testing.T) {
	repo, err := OpenGorm("sqlite", filepath.Join(t.TempDir(), "strata.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	exerciseRepository(t, repo)
}

func TestPostgresRepository(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("STRATA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("STRATA_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := OpenPostgres(ctx, dsn, PoolOptions{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	resetSchema(t, ctx, db)
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	exerciseRepository(t, NewPostgresStore(db))

	if err := RollbackMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("rollback migrations: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("reapply migrations: %v", err)
	}
}

func resetSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
}

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	created, err := repo.CreateSource(ctx, Source{
		Name:       "Tithe Map",
		SourceType: SourceTypeMapOverlay,
		Stage:      1,
		YearStart:  intPtr(1840),
		Era:        EraVictorian,
		SourceURL:  strPtr("https://archive.example/tithe"),
	})
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if created.Tiles == nil || len(created.Tiles) != 0 {
		t.Fatalf("expected empty tiles, got %#v", created.Tiles)
	}
	if created.Description != nil {
		t.Fatalf("expected nil description, got %q", *created.Description)
	}

	second, err := repo.CreateSource(ctx, Source{Name: "Roman Roads", SourceType: SourceTypeVectorFeatures, Stage: 1, YearStart: intPtr(79), Era: EraRoman})
	if err != nil {
		t.Fatalf("create second source: %v", err)
	}
	if second.ID <= created.ID {
		t.Fatalf("expected increasing ids, got %d then %d", created.ID, second.ID)
	}

	created.Name = "Tithe Map Renamed"
	created.Stage = 2
	created.Tiles = []Tile{{URL: "https://tiles.example/{z}/{x}/{y}.png", Label: "base", Georeferenced: true}}
	updated, err := repo.UpdateSource(ctx, created)
	if err != nil {
		t.Fatalf("update source: %v", err)
	}
	if updated.Stage != 2 || len(updated.Tiles) != 1 || !updated.Tiles[0].Georeferenced {
		t.Fatalf("unexpected update result %+v", updated)
	}

	list, err := repo.ListSources(ctx, SourceFilter{})
	if err != nil {
		t.Fatalf("list sources: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected year-ordered list starting with %d, got %+v", second.ID, list)
	}
	filtered, err := repo.ListSources(ctx, SourceFilter{Era: "victorian"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "Tithe Map Renamed" {
		t.Fatalf("unexpected filtered list %+v", filtered)
	}

	file, err := repo.AddFile(ctx, created.ID, SourceFile{Filename: "tithe.czml", Filepath: "1/tithe.czml", Filetype: FileTypeCZML})
	if err != nil {
		t.Fatalf("add file: %v", err)
	}
	if file.ID != 1 || file.SourceID != created.ID {
		t.Fatalf("unexpected file %+v", file)
	}
	next, err := repo.AddFile(ctx, created.ID, SourceFile{Filename: "tithe.png", Filepath: "1/tithe.png", Filetype: FileTypeImage})
	if err != nil {
		t.Fatalf("add second file: %v", err)
	}
	if next.ID != 2 {
		t.Fatalf("expected per-source file id 2, got %d", next.ID)
	}
	if _, err := repo.AddFile(ctx, 9999, SourceFile{Filename: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found adding to missing source, got %v", err)
	}

	detail, err := repo.GetSource(ctx, created.ID)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if len(detail.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(detail.Files))
	}

	removed, err := repo.DeleteFile(ctx, 1)
	if err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if removed.Filename != "tithe.czml" {
		t.Fatalf("unexpected removed file %+v", removed)
	}
	if _, err := repo.DeleteFile(ctx, 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deleting missing file, got %v", err)
	}

	story, err := repo.CreateStory(ctx, Story{Title: "The Canal", YearStart: 1790, Era: EraIndustrial, SourceIDs: []int64{created.ID}})
	if err != nil {
		t.Fatalf("create story: %v", err)
	}
	story.Content = strPtr("Barges arrived.")
	story, err = repo.UpdateStory(ctx, story)
	if err != nil {
		t.Fatalf("update story: %v", err)
	}
	stories, err := repo.ListStories(ctx)
	if err != nil {
		t.Fatalf("list stories: %v", err)
	}
	if len(stories) != 1 || stories[0].Content == nil || len(stories[0].SourceIDs) != 1 {
		t.Fatalf("unexpected stories %+v", stories)
	}
	if err := repo.DeleteStory(ctx, story.ID); err != nil {
		t.Fatalf("delete story: %v", err)
	}
	if _, err := repo.GetStory(ctx, story.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected story not found, got %v", err)
	}
	if err := repo.DeleteStory(ctx, story.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}

	periods, err := repo.GetPeriods(ctx)
	if err != nil {
		t.Fatalf("get periods: %v", err)
	}
	if !jsonEqual(t, periods, []byte(`{}`)) {
		t.Fatalf("expected empty periods, got %s", periods)
	}
	doc := []byte(`{"roman":{"quality":"sparse"}}`)
	if err := repo.SetPeriods(ctx, doc); err != nil {
		t.Fatalf("set periods: %v", err)
	}
	periods, err = repo.GetPeriods(ctx)
	if err != nil {
		t.Fatalf("get periods again: %v", err)
	}
	if !jsonEqual(t, periods, doc) {
		t.Fatalf("unexpected periods %s", periods)
	}
	if err := repo.SetPeriods(ctx, []byte(`{broken`)); err == nil {
		t.Fatal("expected invalid periods to be rejected")
	}

	deleted, err := repo.DeleteSource(ctx, created.ID)
	if err != nil {
		t.Fatalf("delete source: %v", err)
	}
	if len(deleted.Files) != 1 {
		t.Fatalf("expected deleted record to carry remaining file, got %d", len(deleted.Files))
	}
	if _, err := repo.GetSource(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := repo.UpdateSource(ctx, created); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found updating deleted source, got %v", err)
	}
}

func jsonEqual(t *testing.T, a, b []byte) bool {
	t.Helper()
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		t.Fatalf("decode %s: %v", a, err)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
