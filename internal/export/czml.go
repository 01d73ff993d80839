package export

import (
	"fmt"

	"strata/api/internal/store"
)

const (
	defaultYearStart = 79
	defaultYearEnd   = 2025
)

type czmlClock struct {
	Interval    string `json:"interval"`
	CurrentTime string `json:"currentTime"`
	Multiplier  int    `json:"multiplier"`
	Range       string `json:"range"`
	Step        string `json:"step"`
}

type czmlDocument struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Clock   czmlClock `json:"clock"`
}

type czmlColor struct {
	RGBA [4]int `json:"rgba"`
}

type czmlPoint struct {
	PixelSize    int       `json:"pixelSize"`
	Color        czmlColor `json:"color"`
	OutlineColor czmlColor `json:"outlineColor"`
	OutlineWidth int       `json:"outlineWidth"`
}

type czmlPosition struct {
	CartographicDegrees [3]float64 `json:"cartographicDegrees"`
}

type czmlProperties struct {
	SourceID   int64    `json:"source_id"`
	SourceType string   `json:"source_type"`
	Era        string   `json:"era"`
	Files      []string `json:"files"`
}

type czmlSource struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Availability string         `json:"availability"`
	Position     czmlPosition   `json:"position"`
	Point        czmlPoint      `json:"point"`
	Properties   czmlProperties `json:"properties"`
}

// CZML returns a Cesium packet list: the document clock followed by one point
// per stage-4 source that has all four bounds, placed at the bounds centre.
func CZML(sources []store.Source, filesBySource map[int64][]store.SourceFile) []any {
	packets := []any{
		czmlDocument{
			ID:      "document",
			Name:    "Strata Historical Data",
			Version: "1.0",
			Clock: czmlClock{
				Interval:    "0079-01-01T00:00:00Z/2025-12-31T23:59:59Z",
				CurrentTime: "1850-01-01T00:00:00Z",
				Multiplier:  31536000,
				Range:       "LOOP_STOP",
				Step:        "SYSTEM_CLOCK_MULTIPLIER",
			},
		},
	}

	for _, s := range sources {
		if s.Stage != 4 || !s.HasBounds() {
			continue
		}
		yearStart, yearEnd := defaultYearStart, defaultYearEnd
		if s.YearStart != nil && *s.YearStart != 0 {
			yearStart = *s.YearStart
		}
		if s.YearEnd != nil && *s.YearEnd != 0 {
			yearEnd = *s.YearEnd
		}

		files := []string{}
		for _, f := range filesBySource[s.ID] {
			if f.Filetype == store.FileTypeCZML || f.Filetype == store.FileTypeGeoJSON {
				files = append(files, f.Filepath)
			}
		}

		description := ""
		if s.Description != nil {
			description = *s.Description
		}

		packets = append(packets, czmlSource{
			ID:           fmt.Sprintf("source-%d", s.ID),
			Name:         s.Name,
			Description:  description,
			Availability: fmt.Sprintf("%s-01-01T00:00:00Z/%s-12-31T23:59:59Z", padYear(yearStart), padYear(yearEnd)),
			Position: czmlPosition{CartographicDegrees: [3]float64{
				(*s.BoundsWest + *s.BoundsEast) / 2,
				(*s.BoundsSouth + *s.BoundsNorth) / 2,
				0,
			}},
			Point: czmlPoint{
				PixelSize:    10,
				Color:        czmlColor{RGBA: [4]int{255, 165, 0, 255}},
				OutlineColor: czmlColor{RGBA: [4]int{255, 255, 255, 255}},
				OutlineWidth: 2,
			},
			Properties: czmlProperties{
				SourceID:   s.ID,
				SourceType: string(s.SourceType),
				Era:        string(s.Era),
				Files:      files,
			},
		})
	}
	return packets
}

// padYear zero-pads to four digits, keeping the sign for BCE years.
func padYear(year int) string {
	if year < 0 {
		return fmt.Sprintf("-%04d", -year)
	}
	return fmt.Sprintf("%04d", year)
}
