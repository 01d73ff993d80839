package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type sourceRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	Name            string `gorm:"not null"`
	Description     *string
	SourceURL       *string
	SourceType      string `gorm:"not null;default:map_overlay"`
	Stage           int    `gorm:"not null;default:1;index"`
	YearStart       *int
	YearEnd         *int
	Era             string `gorm:"not null;default:modern;index"`
	BoundsWest      *float64
	BoundsSouth     *float64
	BoundsEast      *float64
	BoundsNorth     *float64
	Notes           *string
	IIIFURL         *string `gorm:"column:iiif_url"`
	GeoreferenceURL *string
	Tiles           datatypes.JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (sourceRow) TableName() string { return "sources" }

type sourceFileRow struct {
	SourceID  int64  `gorm:"primaryKey;autoIncrement:false"`
	ID        int64  `gorm:"primaryKey;autoIncrement:false"`
	Filename  string `gorm:"not null"`
	Filepath  string `gorm:"not null"`
	Filetype  string `gorm:"not null;default:other"`
	CreatedAt time.Time
}

func (sourceFileRow) TableName() string { return "source_files" }

type storyRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	Title       string `gorm:"not null"`
	Description *string
	Content     *string
	ContentFile *string
	YearStart   int `gorm:"not null"`
	YearEnd     *int
	Era         string         `gorm:"not null;default:modern"`
	SourceIDs   datatypes.JSON `gorm:"column:source_ids"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (storyRow) TableName() string { return "stories" }

type periodRow struct {
	ID        int `gorm:"primaryKey;autoIncrement:false"`
	Document  datatypes.JSON
	UpdatedAt time.Time
}

func (periodRow) TableName() string { return "period_quality" }

// GormStore implements Repository on gorm, backed by SQLite or Postgres.
type GormStore struct {
	db *gorm.DB
}

// OpenGorm opens driver ("sqlite" or "postgres") at dsn and migrates the schema.
func OpenGorm(driver, dsn string, logLevel logger.LogLevel) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&sourceRow{}, &sourceFileRow{}, &storyRow{}, &periodRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	slog.Info("gorm store ready", "driver", driver)
	return &GormStore{db: db}, nil
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) ListSources(ctx context.Context, filter SourceFilter) ([]Source, error) {
	query := s.db.WithContext(ctx).Model(&sourceRow{})
	if filter.Era != "" {
		query = query.Where("era = ?", filter.Era)
	}
	if filter.Stage != 0 {
		query = query.Where("stage = ?", filter.Stage)
	}
	if filter.SourceType != "" {
		query = query.Where("source_type = ?", filter.SourceType)
	}

	var rows []sourceRow
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	items := make([]Source, 0, len(rows))
	for _, row := range rows {
		item, err := row.toSource()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return ApplyFilter(items, filter), nil
}

func (s *GormStore) GetSource(ctx context.Context, id int64) (SourceWithFiles, error) {
	var row sourceRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return SourceWithFiles{}, translateGormError("get source", err)
	}
	item, err := row.toSource()
	if err != nil {
		return SourceWithFiles{}, err
	}

	var fileRows []sourceFileRow
	if err := s.db.WithContext(ctx).Where("source_id = ?", id).Order("id").Find(&fileRows).Error; err != nil {
		return SourceWithFiles{}, fmt.Errorf("list files: %w", err)
	}
	files := make([]SourceFile, 0, len(fileRows))
	for _, f := range fileRows {
		files = append(files, f.toFile())
	}
	return SourceWithFiles{Source: item, Files: files}, nil
}

func (s *GormStore) CreateSource(ctx context.Context, item Source) (Source, error) {
	row, err := sourceRowFrom(item)
	if err != nil {
		return Source{}, err
	}
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Source{}, fmt.Errorf("insert source: %w", err)
	}
	return row.toSource()
}

func (s *GormStore) UpdateSource(ctx context.Context, item Source) (Source, error) {
	var existing sourceRow
	if err := s.db.WithContext(ctx).First(&existing, item.ID).Error; err != nil {
		return Source{}, translateGormError("update source", err)
	}
	row, err := sourceRowFrom(item)
	if err != nil {
		return Source{}, err
	}
	row.CreatedAt = existing.CreatedAt
	// Save writes every column, including nil pointers.
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return Source{}, fmt.Errorf("update source: %w", err)
	}
	return row.toSource()
}

func (s *GormStore) DeleteSource(ctx context.Context, id int64) (SourceWithFiles, error) {
	record, err := s.GetSource(ctx, id)
	if err != nil {
		return SourceWithFiles{}, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&sourceFileRow{}).Error; err != nil {
			return err
		}
		return tx.Delete(&sourceRow{}, id).Error
	})
	if err != nil {
		return SourceWithFiles{}, fmt.Errorf("delete source: %w", err)
	}
	return record, nil
}

func (s *GormStore) AddFile(ctx context.Context, sourceID int64, file SourceFile) (SourceFile, error) {
	row := sourceFileRow{
		SourceID: sourceID,
		Filename: file.Filename,
		Filepath: file.Filepath,
		Filetype: string(file.Filetype),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner sourceRow
		if err := tx.Select("id").First(&owner, sourceID).Error; err != nil {
			return err
		}
		var maxID int64
		if err := tx.Model(&sourceFileRow{}).Where("source_id = ?", sourceID).Select("COALESCE(MAX(id), 0)").Scan(&maxID).Error; err != nil {
			return err
		}
		row.ID = maxID + 1
		return tx.Create(&row).Error
	})
	if err != nil {
		return SourceFile{}, translateGormError("add file", err)
	}
	return row.toFile(), nil
}

func (s *GormStore) DeleteFile(ctx context.Context, fileID int64) (SourceFile, error) {
	var row sourceFileRow
	err := s.db.WithContext(ctx).Where("id = ?", fileID).Order("source_id").First(&row).Error
	if err != nil {
		return SourceFile{}, translateGormError("find file", err)
	}
	if err := s.db.WithContext(ctx).Where("source_id = ? AND id = ?", row.SourceID, row.ID).Delete(&sourceFileRow{}).Error; err != nil {
		return SourceFile{}, fmt.Errorf("delete file: %w", err)
	}
	return row.toFile(), nil
}

func (s *GormStore) ListStories(ctx context.Context) ([]Story, error) {
	var rows []storyRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	items := make([]Story, 0, len(rows))
	for _, row := range rows {
		item, err := row.toStory()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *GormStore) GetStory(ctx context.Context, id int64) (Story, error) {
	var row storyRow
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return Story{}, translateGormError("get story", err)
	}
	return row.toStory()
}

func (s *GormStore) CreateStory(ctx context.Context, item Story) (Story, error) {
	row, err := storyRowFrom(item)
	if err != nil {
		return Story{}, err
	}
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Story{}, fmt.Errorf("insert story: %w", err)
	}
	return row.toStory()
}

func (s *GormStore) UpdateStory(ctx context.Context, item Story) (Story, error) {
	var existing storyRow
	if err := s.db.WithContext(ctx).First(&existing, item.ID).Error; err != nil {
		return Story{}, translateGormError("update story", err)
	}
	row, err := storyRowFrom(item)
	if err != nil {
		return Story{}, err
	}
	row.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return Story{}, fmt.Errorf("update story: %w", err)
	}
	return row.toStory()
}

func (s *GormStore) DeleteStory(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&storyRow{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete story: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) GetPeriods(ctx context.Context) (Periods, error) {
	var row periodRow
	err := s.db.WithContext(ctx).First(&row, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return emptyPeriods(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read periods: %w", err)
	}
	return Periods(row.Document), nil
}

func (s *GormStore) SetPeriods(ctx context.Context, periods Periods) error {
	if !json.Valid(periods) {
		return fmt.Errorf("decode periods: invalid JSON")
	}
	row := periodRow{ID: 1, Document: datatypes.JSON(periods), UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save periods: %w", err)
	}
	return nil
}

func translateGormError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sourceRowFrom(item Source) (sourceRow, error) {
	tiles, err := marshalTiles(item.Tiles)
	if err != nil {
		return sourceRow{}, err
	}
	return sourceRow{
		ID:              item.ID,
		Name:            item.Name,
		Description:     item.Description,
		SourceURL:       item.SourceURL,
		SourceType:      string(item.SourceType),
		Stage:           item.Stage,
		YearStart:       item.YearStart,
		YearEnd:         item.YearEnd,
		Era:             string(item.Era),
		BoundsWest:      item.BoundsWest,
		BoundsSouth:     item.BoundsSouth,
		BoundsEast:      item.BoundsEast,
		BoundsNorth:     item.BoundsNorth,
		Notes:           item.Notes,
		IIIFURL:         item.IIIFURL,
		GeoreferenceURL: item.GeoreferenceURL,
		Tiles:           datatypes.JSON(tiles),
	}, nil
}

func (r sourceRow) toSource() (Source, error) {
	tiles := []Tile{}
	if len(r.Tiles) > 0 {
		if err := json.Unmarshal(r.Tiles, &tiles); err != nil {
			return Source{}, fmt.Errorf("decode tiles for source %d: %w", r.ID, err)
		}
	}
	return Source{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		SourceURL:       r.SourceURL,
		SourceType:      SourceType(r.SourceType),
		Stage:           r.Stage,
		YearStart:       r.YearStart,
		YearEnd:         r.YearEnd,
		Era:             Era(r.Era),
		BoundsWest:      r.BoundsWest,
		BoundsSouth:     r.BoundsSouth,
		BoundsEast:      r.BoundsEast,
		BoundsNorth:     r.BoundsNorth,
		Notes:           r.Notes,
		IIIFURL:         r.IIIFURL,
		GeoreferenceURL: r.GeoreferenceURL,
		Tiles:           tiles,
		CreatedAt:       Timestamp{Time: r.CreatedAt},
		UpdatedAt:       Timestamp{Time: r.UpdatedAt},
	}, nil
}

func (r sourceFileRow) toFile() SourceFile {
	return SourceFile{
		ID:        r.ID,
		SourceID:  r.SourceID,
		Filename:  r.Filename,
		Filepath:  r.Filepath,
		Filetype:  FileType(r.Filetype),
		CreatedAt: Timestamp{Time: r.CreatedAt},
	}
}

func storyRowFrom(item Story) (storyRow, error) {
	ids, err := marshalSourceIDs(item.SourceIDs)
	if err != nil {
		return storyRow{}, err
	}
	return storyRow{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Content:     item.Content,
		ContentFile: item.ContentFile,
		YearStart:   item.YearStart,
		YearEnd:     item.YearEnd,
		Era:         string(item.Era),
		SourceIDs:   datatypes.JSON(ids),
	}, nil
}

func (r storyRow) toStory() (Story, error) {
	ids := []int64{}
	if len(r.SourceIDs) > 0 {
		if err := json.Unmarshal(r.SourceIDs, &ids); err != nil {
			return Story{}, fmt.Errorf("decode source ids for story %d: %w", r.ID, err)
		}
	}
	return Story{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Content:     r.Content,
		ContentFile: r.ContentFile,
		YearStart:   r.YearStart,
		YearEnd:     r.YearEnd,
		Era:         Era(r.Era),
		SourceIDs:   ids,
		CreatedAt:   Timestamp{Time: r.CreatedAt},
		UpdatedAt:   Timestamp{Time: r.UpdatedAt},
	}, nil
}
