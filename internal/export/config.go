package export

import (
	"time"

	"strata/api/internal/store"
)

// Config lists stage-4 map overlays as imagery and stage-4 vector features as vectors.
func Config(sources []store.Source, generated time.Time) ImageryConfig {
	cfg := ImageryConfig{
		Imagery:   []ImageryEntry{},
		Vectors:   []VectorEntry{},
		Generated: generated.UTC(),
	}
	for _, s := range sources {
		if s.Stage != 4 {
			continue
		}
		switch s.SourceType {
		case store.SourceTypeMapOverlay:
			tiles := s.Tiles
			if tiles == nil {
				tiles = []store.Tile{}
			}
			cfg.Imagery = append(cfg.Imagery, ImageryEntry{
				ID:        s.ID,
				Name:      s.Name,
				Era:       string(s.Era),
				YearStart: s.YearStart,
				YearEnd:   s.YearEnd,
				Tiles:     tiles,
				Bounds:    boundsOf(s),
			})
		case store.SourceTypeVectorFeatures:
			cfg.Vectors = append(cfg.Vectors, VectorEntry{
				ID:        s.ID,
				Name:      s.Name,
				Era:       string(s.Era),
				YearStart: s.YearStart,
				YearEnd:   s.YearEnd,
				Bounds:    boundsOf(s),
			})
		}
	}
	return cfg
}

// boundsOf is nil unless bounds_west is set; the other sides default to zero.
func boundsOf(s store.Source) *Bounds {
	if s.BoundsWest == nil {
		return nil
	}
	b := Bounds{West: *s.BoundsWest}
	if s.BoundsSouth != nil {
		b.South = *s.BoundsSouth
	}
	if s.BoundsEast != nil {
		b.East = *s.BoundsEast
	}
	if s.BoundsNorth != nil {
		b.North = *s.BoundsNorth
	}
	return &b
}
