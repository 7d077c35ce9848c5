// Package geospatial derives site descriptors from GeoJSON project
// boundaries.
package geospatial

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var (
	ErrNoGeometry = errors.New("invalid GeoJSON: no geometry")
	ErrNotArea    = errors.New("invalid GeoJSON: boundary must be a Polygon or MultiPolygon")
	ErrOutOfRange = errors.New("invalid GeoJSON: coordinates outside WGS84 bounds")
)

// Site summarizes a boundary.
type Site struct {
	Hectares float64   `json:"hectares"`
	Centroid orb.Point `json:"centroid"`
	Bound    orb.Bound `json:"bound"`
}

// Latitude of the centroid.
func (s Site) Latitude() float64 { return s.Centroid.Lat() }

// Longitude of the centroid.
func (s Site) Longitude() float64 { return s.Centroid.Lon() }

// ParseBoundary accepts a Feature, a FeatureCollection whose features are
// all areal, or a bare geometry object.
func ParseBoundary(raw []byte) (orb.Geometry, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "Feature":
		feature, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, err
		}
		if feature.Geometry == nil {
			return nil, ErrNoGeometry
		}
		return feature.Geometry, nil
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, err
		}
		var mp orb.MultiPolygon
		for i, f := range fc.Features {
			switch g := f.Geometry.(type) {
			case orb.Polygon:
				mp = append(mp, g)
			case orb.MultiPolygon:
				mp = append(mp, g...)
			case nil:
				return nil, fmt.Errorf("feature %d: %w", i, ErrNoGeometry)
			default:
				return nil, fmt.Errorf("feature %d: %w", i, ErrNotArea)
			}
		}
		if len(mp) == 0 {
			return nil, ErrNoGeometry
		}
		return mp, nil
	case "":
		return nil, ErrNoGeometry
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, err
		}
		return g.Geometry(), nil
	}
}

// Describe computes the geodesic area and centroid of an areal geometry.
func Describe(g orb.Geometry) (Site, error) {
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
	case nil:
		return Site{}, ErrNoGeometry
	default:
		return Site{}, ErrNotArea
	}

	b := g.Bound()
	if b.Min.Lon() < -180 || b.Max.Lon() > 180 || b.Min.Lat() < -90 || b.Max.Lat() > 90 {
		return Site{}, ErrOutOfRange
	}

	centroid, _ := planar.CentroidArea(g)
	return Site{
		Hectares: ConvertToHectares(geo.Area(g)),
		Centroid: centroid,
		Bound:    b,
	}, nil
}

// ConvertToHectares converts square meters to hectares
func ConvertToHectares(sqMeters float64) float64 {
	return sqMeters / 10000
}
