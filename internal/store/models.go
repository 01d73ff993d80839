package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type SourceType string

const (
	SourceTypeMapOverlay     SourceType = "map_overlay"
	SourceTypeVectorFeatures SourceType = "vector_features"
	SourceType3DModel        SourceType = "3d_model"
	SourceTypeReferenceData  SourceType = "reference_data"
)

// Era is kept as a plain string so unknown values survive a round trip.
type Era string

const (
	EraRoman      Era = "roman"
	EraMedieval   Era = "medieval"
	EraIndustrial Era = "industrial"
	EraVictorian  Era = "victorian"
	EraModern     Era = "modern"
)

// Eras lists the known eras in chronological order.
var Eras = []Era{EraRoman, EraMedieval, EraIndustrial, EraVictorian, EraModern}

const (
	TileTypeXYZ = "xyz"
	TileTypeWMS = "wms"
)

type Tile struct {
	URL           string `json:"url"`
	Label         string `json:"label"`
	Georeferenced bool   `json:"georeferenced"`
	Type          string `json:"type,omitempty"`
	WMSLayers     string `json:"wms_layers,omitempty"`
}

type Source struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description"`
	SourceURL       *string    `json:"source_url"`
	SourceType      SourceType `json:"source_type"`
	Stage           int        `json:"stage"`
	YearStart       *int       `json:"year_start"`
	YearEnd         *int       `json:"year_end"`
	Era             Era        `json:"era"`
	BoundsWest      *float64   `json:"bounds_west"`
	BoundsSouth     *float64   `json:"bounds_south"`
	BoundsEast      *float64   `json:"bounds_east"`
	BoundsNorth     *float64   `json:"bounds_north"`
	Notes           *string    `json:"notes"`
	IIIFURL         *string    `json:"iiif_url"`
	GeoreferenceURL *string    `json:"georeference_url"`
	Tiles           []Tile     `json:"tiles"`
	CreatedAt       Timestamp  `json:"created_at"`
	UpdatedAt       Timestamp  `json:"updated_at"`
}

// HasBounds reports whether all four bound coordinates are set.
func (s Source) HasBounds() bool {
	return s.BoundsWest != nil && s.BoundsSouth != nil && s.BoundsEast != nil && s.BoundsNorth != nil
}

// SourceWithFiles is the detail view of a source including its attachments.
type SourceWithFiles struct {
	Source
	Files []SourceFile `json:"files"`
}

type FileType string

const (
	FileTypeCZML    FileType = "czml"
	FileTypeGeoJSON FileType = "geojson"
	FileTypeImage   FileType = "image"
	FileTypeOther   FileType = "other"
)

type SourceFile struct {
	ID        int64     `json:"id"`
	SourceID  int64     `json:"source_id"`
	Filename  string    `json:"filename"`
	Filepath  string    `json:"filepath"`
	Filetype  FileType  `json:"filetype"`
	CreatedAt Timestamp `json:"created_at"`
}

type Story struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	Content     *string   `json:"content"`
	ContentFile *string   `json:"content_file"`
	YearStart   int       `json:"year_start"`
	YearEnd     *int      `json:"year_end"`
	Era         Era       `json:"era"`
	SourceIDs   []int64   `json:"source_ids"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// Periods is the period quality document, persisted verbatim.
type Periods = json.RawMessage

// StoryWithContent adds the story body, read from content_file when content is empty.
type StoryWithContent struct {
	Story
	ResolvedContent *string `json:"resolvedContent,omitempty"`
}

// legacyTimestampLayout is the "YYYY-MM-DD HH:MM:SS" form found in older data directories.
const legacyTimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a record time. It encodes as RFC 3339 and also decodes the
// legacy space-separated layout, read as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	return t.parse(raw)
}

func (t *Timestamp) parse(raw string) error {
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, legacyTimestampLayout} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unsupported format %q", raw)
}

// Scan implements sql.Scanner so SQL stores can scan timestamp columns directly.
func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("timestamp: cannot scan %T", src)
}
