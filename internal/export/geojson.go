package export

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"strata/api/internal/store"
)

// GeoJSON returns the footprint of every stage-4 source with full bounds as a polygon feature.
func GeoJSON(sources []store.Source) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range sources {
		if s.Stage != 4 || !s.HasBounds() {
			continue
		}
		bound := orb.Bound{
			Min: orb.Point{*s.BoundsWest, *s.BoundsSouth},
			Max: orb.Point{*s.BoundsEast, *s.BoundsNorth},
		}
		feature := geojson.NewFeature(bound.ToPolygon())
		feature.ID = s.ID
		feature.Properties["id"] = s.ID
		feature.Properties["name"] = s.Name
		feature.Properties["era"] = string(s.Era)
		feature.Properties["source_type"] = string(s.SourceType)
		if s.YearStart != nil {
			feature.Properties["year_start"] = *s.YearStart
		}
		if s.YearEnd != nil {
			feature.Properties["year_end"] = *s.YearEnd
		}
		fc.Append(feature)
	}
	return fc
}
