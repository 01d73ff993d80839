package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"strata/api/internal/store"
	"strata/api/internal/timeline"
)

// File is one artefact of the static bundle.
type File struct {
	Name string
	Data []byte
}

// Bundle is the full set of files the static site reads from its data directory.
type Bundle struct {
	Files []File
}

// Names lists the bundle file names in write order.
func (b Bundle) Names() []string {
	names := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		names = append(names, f.Name)
	}
	return names
}

// BuildBundle renders sources (without attachments), stories, stats, the
// imagery config and the map layers from one snapshot.
func BuildBundle(sources []store.SourceWithFiles, stories []store.StoryWithContent, generated time.Time) (Bundle, error) {
	plain := make([]store.Source, 0, len(sources))
	filesBySource := make(map[int64][]store.SourceFile, len(sources))
	for _, s := range sources {
		plain = append(plain, s.Source)
		filesBySource[s.ID] = s.Files
	}
	storyList := make([]store.Story, 0, len(stories))
	for _, s := range stories {
		storyList = append(storyList, s.Story)
	}
	if stories == nil {
		stories = []store.StoryWithContent{}
	}

	entries := []struct {
		name    string
		payload any
	}{
		{"sources.json", plain},
		{"stories.json", stories},
		{"stats.json", timeline.ComputeStats(plain, storyList)},
		{"export-config.json", Config(plain, generated)},
		{"strata.czml", CZML(plain, filesBySource)},
		{"footprints.geojson", GeoJSON(plain)},
	}

	bundle := Bundle{Files: make([]File, 0, len(entries))}
	for _, e := range entries {
		data, err := json.MarshalIndent(e.payload, "", "  ")
		if err != nil {
			return Bundle{}, fmt.Errorf("encode %s: %w", e.name, err)
		}
		bundle.Files = append(bundle.Files, File{Name: e.name, Data: data})
	}
	return bundle, nil
}

// WriteBundle writes every bundle file into dir, creating it when missing.
func WriteBundle(dir string, bundle Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, f := range bundle.Files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), f.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		slog.Debug("bundle file written", "file", f.Name, "bytes", len(f.Data))
	}
	return nil
}
