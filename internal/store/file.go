package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileStore keeps every record as a pretty-printed JSON file so the data
// directory can live in version control next to the static site.
type FileStore struct {
	sourcesDir  string
	storiesDir  string
	periodsPath string
	mu          sync.RWMutex
	now         func() time.Time
}

func NewFileStore(baseDir string) (*FileStore, error) {
	s := &FileStore{
		sourcesDir:  filepath.Join(baseDir, "sources"),
		storiesDir:  filepath.Join(baseDir, "stories"),
		periodsPath: filepath.Join(baseDir, "periods.json"),
		now:         func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	for _, dir := range []string{s.sourcesDir, s.storiesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return s, nil
}

func (s *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(s.sourcesDir); err != nil {
		return fmt.Errorf("stat sources dir: %w", err)
	}
	return nil
}

func (s *FileStore) ListSources(_ context.Context, filter SourceFilter) ([]Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, err := s.readSources()
	if err != nil {
		return nil, err
	}
	items := make([]Source, 0, len(records))
	for _, record := range records {
		items = append(items, record.Source)
	}
	return ApplyFilter(items, filter), nil
}

func (s *FileStore) GetSource(_ context.Context, id int64) (SourceWithFiles, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, _, err := s.findSource(id)
	return record, err
}

func (s *FileStore) CreateSource(_ context.Context, item Source) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := nextRecordID(s.sourcesDir)
	if err != nil {
		return Source{}, err
	}
	now := Timestamp{Time: s.now()}
	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Tiles == nil {
		item.Tiles = []Tile{}
	}
	record := SourceWithFiles{Source: item, Files: []SourceFile{}}
	if err := s.writeSource(record); err != nil {
		return Source{}, err
	}
	return item, nil
}

func (s *FileStore) UpdateSource(_ context.Context, item Source) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _, err := s.findSource(item.ID)
	if err != nil {
		return Source{}, err
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = Timestamp{Time: s.now()}
	if item.Tiles == nil {
		item.Tiles = []Tile{}
	}
	if err := s.writeSource(SourceWithFiles{Source: item, Files: existing.Files}); err != nil {
		return Source{}, err
	}
	return item, nil
}

func (s *FileStore) DeleteSource(_ context.Context, id int64) (SourceWithFiles, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, filename, err := s.findSource(id)
	if err != nil {
		return SourceWithFiles{}, err
	}
	if err := os.Remove(filepath.Join(s.sourcesDir, filename)); err != nil {
		return SourceWithFiles{}, fmt.Errorf("remove source file: %w", err)
	}
	return record, nil
}

func (s *FileStore) AddFile(_ context.Context, sourceID int64, file SourceFile) (SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, _, err := s.findSource(sourceID)
	if err != nil {
		return SourceFile{}, err
	}
	file.ID = nextFileID(record.Files)
	file.SourceID = sourceID
	file.CreatedAt = Timestamp{Time: s.now()}
	record.Files = append(record.Files, file)
	if err := s.writeSource(record); err != nil {
		return SourceFile{}, err
	}
	return file, nil
}

// DeleteFile looks the attachment up across all sources, since file ids are
// only unique within their source the first match in id order wins.
func (s *FileStore) DeleteFile(_ context.Context, fileID int64) (SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readSources()
	if err != nil {
		return SourceFile{}, err
	}
	for _, record := range records {
		for i, file := range record.Files {
			if file.ID != fileID {
				continue
			}
			record.Files = append(record.Files[:i:i], record.Files[i+1:]...)
			if err := s.writeSource(record); err != nil {
				return SourceFile{}, err
			}
			return file, nil
		}
	}
	return SourceFile{}, ErrNotFound
}

func (s *FileStore) ListStories(context.Context) ([]Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names, err := listRecordFiles(s.storiesDir)
	if err != nil {
		return nil, err
	}
	items := make([]Story, 0, len(names))
	for _, name := range names {
		var story Story
		if err := readJSON(filepath.Join(s.storiesDir, name), &story); err != nil {
			return nil, err
		}
		items = append(items, story)
	}
	return items, nil
}

func (s *FileStore) GetStory(_ context.Context, id int64) (Story, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	story, _, err := s.findStory(id)
	return story, err
}

func (s *FileStore) CreateStory(_ context.Context, item Story) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := nextRecordID(s.storiesDir)
	if err != nil {
		return Story{}, err
	}
	now := Timestamp{Time: s.now()}
	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.SourceIDs == nil {
		item.SourceIDs = []int64{}
	}
	if err := writeRecord(s.storiesDir, item.ID, item.Title, item); err != nil {
		return Story{}, err
	}
	return item, nil
}

func (s *FileStore) UpdateStory(_ context.Context, item Story) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, _, err := s.findStory(item.ID)
	if err != nil {
		return Story{}, err
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = Timestamp{Time: s.now()}
	if item.SourceIDs == nil {
		item.SourceIDs = []int64{}
	}
	if err := writeRecord(s.storiesDir, item.ID, item.Title, item); err != nil {
		return Story{}, err
	}
	return item, nil
}

func (s *FileStore) DeleteStory(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, filename, err := s.findStory(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.storiesDir, filename)); err != nil {
		return fmt.Errorf("remove story file: %w", err)
	}
	return nil
}

func (s *FileStore) GetPeriods(context.Context) (Periods, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.periodsPath)
	if errors.Is(err, os.ErrNotExist) {
		return emptyPeriods(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read periods: %w", err)
	}
	return Periods(data), nil
}

func (s *FileStore) SetPeriods(_ context.Context, periods Periods) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parsed any
	if err := json.Unmarshal(periods, &parsed); err != nil {
		return fmt.Errorf("decode periods: %w", err)
	}
	payload, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode periods: %w", err)
	}
	if err := writeFileAtomic(s.periodsPath, append(payload, '\n')); err != nil {
		return fmt.Errorf("write periods: %w", err)
	}
	return nil
}

func (s *FileStore) readSources() ([]SourceWithFiles, error) {
	names, err := listRecordFiles(s.sourcesDir)
	if err != nil {
		return nil, err
	}
	records := make([]SourceWithFiles, 0, len(names))
	for _, name := range names {
		var record SourceWithFiles
		if err := readJSON(filepath.Join(s.sourcesDir, name), &record); err != nil {
			return nil, err
		}
		if record.Tiles == nil {
			record.Tiles = []Tile{}
		}
		if record.Files == nil {
			record.Files = []SourceFile{}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *FileStore) findSource(id int64) (SourceWithFiles, string, error) {
	filename, err := findRecordFile(s.sourcesDir, id)
	if err != nil {
		return SourceWithFiles{}, "", err
	}
	var record SourceWithFiles
	if err := readJSON(filepath.Join(s.sourcesDir, filename), &record); err != nil {
		return SourceWithFiles{}, "", err
	}
	if record.Tiles == nil {
		record.Tiles = []Tile{}
	}
	if record.Files == nil {
		record.Files = []SourceFile{}
	}
	return record, filename, nil
}

func (s *FileStore) findStory(id int64) (Story, string, error) {
	filename, err := findRecordFile(s.storiesDir, id)
	if err != nil {
		return Story{}, "", err
	}
	var story Story
	if err := readJSON(filepath.Join(s.storiesDir, filename), &story); err != nil {
		return Story{}, "", err
	}
	return story, filename, nil
}

func (s *FileStore) writeSource(record SourceWithFiles) error {
	return writeRecord(s.sourcesDir, record.ID, record.Name, record)
}

// writeRecord writes "{id}-{slug}.json" and removes a stale file left behind by a rename.
func writeRecord(dir string, id int64, name string, payload any) error {
	filename := RecordFilename(id, name)
	existing, err := findRecordFile(dir, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, filename), append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if existing != "" && existing != filename {
		if err := os.Remove(filepath.Join(dir, existing)); err != nil {
			return fmt.Errorf("remove renamed record: %w", err)
		}
	}
	return nil
}

// writeFileAtomic writes through a temp file in the same directory so readers
// never see a partial record. The temp name has no .json suffix.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".record-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read record %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	return nil
}

// listRecordFiles returns record filenames ordered by their numeric id prefix.
func listRecordFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", filepath.Base(dir), err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if _, ok := recordID(entry.Name()); !ok {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, _ := recordID(names[i])
		b, _ := recordID(names[j])
		return a < b
	})
	return names, nil
}

func findRecordFile(dir string, id int64) (string, error) {
	names, err := listRecordFiles(dir)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if got, _ := recordID(name); got == id {
			return name, nil
		}
	}
	return "", ErrNotFound
}

func nextRecordID(dir string) (int64, error) {
	names, err := listRecordFiles(dir)
	if err != nil {
		return 0, err
	}
	var maxID int64
	for _, name := range names {
		if id, _ := recordID(name); id > maxID {
			maxID = id
		}
	}
	return maxID + 1, nil
}

func recordID(filename string) (int64, bool) {
	prefix, _, _ := strings.Cut(strings.TrimSuffix(filename, ".json"), "-")
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
