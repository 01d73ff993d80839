package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sourceColumns = `id, name, description, source_url, source_type, stage, year_start, year_end, era,
	bounds_west, bounds_south, bounds_east, bounds_north, notes, iiif_url, georeference_url, tiles,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (Source, error) {
	var item Source
	var tiles []byte
	err := row.Scan(
		&item.ID, &item.Name, &item.Description, &item.SourceURL, &item.SourceType, &item.Stage,
		&item.YearStart, &item.YearEnd, &item.Era,
		&item.BoundsWest, &item.BoundsSouth, &item.BoundsEast, &item.BoundsNorth,
		&item.Notes, &item.IIIFURL, &item.GeoreferenceURL, &tiles,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Source{}, err
	}
	item.Tiles = []Tile{}
	if len(tiles) > 0 {
		if err := json.Unmarshal(tiles, &item.Tiles); err != nil {
			return Source{}, fmt.Errorf("decode tiles: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]Source, error) {
	var where []string
	var args []any
	if filter.Era != "" {
		args = append(args, filter.Era)
		where = append(where, fmt.Sprintf("era = $%d", len(args)))
	}
	if filter.Stage != 0 {
		args = append(args, filter.Stage)
		where = append(where, fmt.Sprintf("stage = $%d", len(args)))
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		where = append(where, fmt.Sprintf("source_type = $%d", len(args)))
	}
	query := `SELECT ` + sourceColumns + ` FROM sources`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	items := make([]Source, 0)
	for rows.Next() {
		item, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return ApplyFilter(items, filter), nil
}

func (s *PostgresStore) GetSource(ctx context.Context, id int64) (SourceWithFiles, error) {
	item, err := scanSource(s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SourceWithFiles{}, ErrNotFound
	}
	if err != nil {
		return SourceWithFiles{}, fmt.Errorf("get source: %w", err)
	}
	files, err := s.listFiles(ctx, id)
	if err != nil {
		return SourceWithFiles{}, err
	}
	return SourceWithFiles{Source: item, Files: files}, nil
}

func (s *PostgresStore) listFiles(ctx context.Context, sourceID int64) ([]SourceFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, filename, filepath, filetype, created_at
		FROM source_files
		WHERE source_id=$1
		ORDER BY id
	`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]SourceFile, 0)
	for rows.Next() {
		var f SourceFile
		if err := rows.Scan(&f.ID, &f.SourceID, &f.Filename, &f.Filepath, &f.Filetype, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func (s *PostgresStore) CreateSource(ctx context.Context, item Source) (Source, error) {
	tiles, err := marshalTiles(item.Tiles)
	if err != nil {
		return Source{}, err
	}
	created, err := scanSource(s.db.QueryRowContext(ctx, `
		INSERT INTO sources (name, description, source_url, source_type, stage, year_start, year_end, era,
			bounds_west, bounds_south, bounds_east, bounds_north, notes, iiif_url, georeference_url, tiles)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING `+sourceColumns,
		item.Name, item.Description, item.SourceURL, string(item.SourceType), item.Stage, item.YearStart, item.YearEnd, string(item.Era),
		item.BoundsWest, item.BoundsSouth, item.BoundsEast, item.BoundsNorth, item.Notes, item.IIIFURL, item.GeoreferenceURL, tiles,
	))
	if err != nil {
		return Source{}, fmt.Errorf("insert source: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateSource(ctx context.Context, item Source) (Source, error) {
	tiles, err := marshalTiles(item.Tiles)
	if err != nil {
		return Source{}, err
	}
	updated, err := scanSource(s.db.QueryRowContext(ctx, `
		UPDATE sources SET
			name=$2, description=$3, source_url=$4, source_type=$5, stage=$6, year_start=$7, year_end=$8, era=$9,
			bounds_west=$10, bounds_south=$11, bounds_east=$12, bounds_north=$13, notes=$14, iiif_url=$15,
			georeference_url=$16, tiles=$17, updated_at=NOW()
		WHERE id=$1
		RETURNING `+sourceColumns,
		item.ID, item.Name, item.Description, item.SourceURL, string(item.SourceType), item.Stage, item.YearStart, item.YearEnd, string(item.Era),
		item.BoundsWest, item.BoundsSouth, item.BoundsEast, item.BoundsNorth, item.Notes, item.IIIFURL, item.GeoreferenceURL, tiles,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, fmt.Errorf("update source: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteSource(ctx context.Context, id int64) (SourceWithFiles, error) {
	record, err := s.GetSource(ctx, id)
	if err != nil {
		return SourceWithFiles{}, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id=$1`, id); err != nil {
		return SourceWithFiles{}, fmt.Errorf("delete source: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) AddFile(ctx context.Context, sourceID int64, file SourceFile) (SourceFile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SourceFile{}, fmt.Errorf("begin add file: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM sources WHERE id=$1 FOR UPDATE`, sourceID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceFile{}, ErrNotFound
	}
	if err != nil {
		return SourceFile{}, fmt.Errorf("check source: %w", err)
	}

	file.SourceID = sourceID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO source_files (source_id, id, filename, filepath, filetype)
		VALUES ($1, (SELECT COALESCE(MAX(id), 0) + 1 FROM source_files WHERE source_id=$1), $2, $3, $4)
		RETURNING id, created_at
	`, sourceID, file.Filename, file.Filepath, string(file.Filetype)).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return SourceFile{}, fmt.Errorf("insert file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SourceFile{}, fmt.Errorf("commit add file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID int64) (SourceFile, error) {
	var f SourceFile
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM source_files
		WHERE (source_id, id) = (
			SELECT source_id, id FROM source_files WHERE id=$1 ORDER BY source_id LIMIT 1
		)
		RETURNING id, source_id, filename, filepath, filetype, created_at
	`, fileID).Scan(&f.ID, &f.SourceID, &f.Filename, &f.Filepath, &f.Filetype, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceFile{}, ErrNotFound
	}
	if err != nil {
		return SourceFile{}, fmt.Errorf("delete file: %w", err)
	}
	return f, nil
}

const storyColumns = `id, title, description, content, content_file, year_start, year_end, era, source_ids, created_at, updated_at`

func scanStory(row rowScanner) (Story, error) {
	var item Story
	var sourceIDs []byte
	err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Content, &item.ContentFile,
		&item.YearStart, &item.YearEnd, &item.Era, &sourceIDs, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Story{}, err
	}
	item.SourceIDs = []int64{}
	if len(sourceIDs) > 0 {
		if err := json.Unmarshal(sourceIDs, &item.SourceIDs); err != nil {
			return Story{}, fmt.Errorf("decode source ids: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListStories(ctx context.Context) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+storyColumns+` FROM stories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	items := make([]Story, 0)
	for rows.Next() {
		item, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStory(ctx context.Context, id int64) (Story, error) {
	item, err := scanStory(s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	if err != nil {
		return Story{}, fmt.Errorf("get story: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateStory(ctx context.Context, item Story) (Story, error) {
	sourceIDs, err := marshalSourceIDs(item.SourceIDs)
	if err != nil {
		return Story{}, err
	}
	created, err := scanStory(s.db.QueryRowContext(ctx, `
		INSERT INTO stories (title, description, content, content_file, year_start, year_end, era, source_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+storyColumns,
		item.Title, item.Description, item.Content, item.ContentFile, item.YearStart, item.YearEnd, string(item.Era), sourceIDs,
	))
	if err != nil {
		return Story{}, fmt.Errorf("insert story: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateStory(ctx context.Context, item Story) (Story, error) {
	sourceIDs, err := marshalSourceIDs(item.SourceIDs)
	if err != nil {
		return Story{}, err
	}
	updated, err := scanStory(s.db.QueryRowContext(ctx, `
		UPDATE stories SET
			title=$2, description=$3, content=$4, content_file=$5, year_start=$6, year_end=$7, era=$8,
			source_ids=$9, updated_at=NOW()
		WHERE id=$1
		RETURNING `+storyColumns,
		item.ID, item.Title, item.Description, item.Content, item.ContentFile, item.YearStart, item.YearEnd, string(item.Era), sourceIDs,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	if err != nil {
		return Story{}, fmt.Errorf("update story: %w", err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteStory(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete story rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetPeriods(ctx context.Context) (Periods, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM period_quality WHERE id=1`).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyPeriods(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read periods: %w", err)
	}
	return Periods(document), nil
}

func (s *PostgresStore) SetPeriods(ctx context.Context, periods Periods) error {
	if !json.Valid(periods) {
		return fmt.Errorf("decode periods: invalid JSON")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO period_quality (id, document, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET document=EXCLUDED.document, updated_at=NOW()
	`, []byte(periods))
	if err != nil {
		return fmt.Errorf("save periods: %w", err)
	}
	return nil
}

func marshalTiles(tiles []Tile) ([]byte, error) {
	if tiles == nil {
		tiles = []Tile{}
	}
	payload, err := json.Marshal(tiles)
	if err != nil {
		return nil, fmt.Errorf("encode tiles: %w", err)
	}
	return payload, nil
}

func marshalSourceIDs(ids []int64) ([]byte, error) {
	if ids == nil {
		ids = []int64{}
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode source ids: %w", err)
	}
	return payload, nil
}
