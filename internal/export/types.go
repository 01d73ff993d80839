// Package export builds the static artefacts consumed by the map viewer:
// the imagery config, CZML and GeoJSON layers, the prebuild data bundle and
// a printable stats report.
package export

import (
	"errors"
	"time"

	"strata/api/internal/store"
)

type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

type ImageryEntry struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Era       string       `json:"era"`
	YearStart *int         `json:"yearStart"`
	YearEnd   *int         `json:"yearEnd"`
	Tiles     []store.Tile `json:"tiles"`
	Bounds    *Bounds      `json:"bounds"`
}

type VectorEntry struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Era       string  `json:"era"`
	YearStart *int    `json:"yearStart"`
	YearEnd   *int    `json:"yearEnd"`
	Bounds    *Bounds `json:"bounds"`
}

// ImageryConfig is the viewer configuration for map-ready layers.
type ImageryConfig struct {
	Imagery   []ImageryEntry `json:"imagery"`
	Vectors   []VectorEntry  `json:"vectors"`
	Generated time.Time      `json:"generated"`
}

// Result is a rendered download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates headless Chrome is not installed.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
