package geospatial

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mangroveFeature = `{
  "type": "Feature",
  "properties": {"name": "Sundarbans plot 7"},
  "geometry": {
    "type": "Polygon",
    "coordinates": [[[0,0],[0.01,0],[0.01,0.01],[0,0.01],[0,0]]]
  }
}`

func TestDescribe_Feature(t *testing.T) {
	g, err := ParseBoundary([]byte(mangroveFeature))
	require.NoError(t, err)

	site, err := Describe(g)
	require.NoError(t, err)
	assert.InDelta(t, 123.9, site.Hectares, 1.0)
	assert.InDelta(t, 0.005, site.Latitude(), 1e-9)
	assert.InDelta(t, 0.005, site.Longitude(), 1e-9)
}

func TestParseBoundary_BareGeometryAndCollection(t *testing.T) {
	g, err := ParseBoundary([]byte(`{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,10]]]}`))
	require.NoError(t, err)
	assert.IsType(t, orb.Polygon{}, g)

	g, err = ParseBoundary([]byte(`{"type":"FeatureCollection","features":[` + mangroveFeature + `,` + mangroveFeature + `]}`))
	require.NoError(t, err)
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 2)
}

func TestDescribe_Rejects(t *testing.T) {
	_, err := ParseBoundary([]byte(`{"type":"Feature","properties":{},"geometry":null}`))
	assert.ErrorIs(t, err, ErrNoGeometry)

	g, err := ParseBoundary([]byte(`{"type":"Point","coordinates":[1,2]}`))
	require.NoError(t, err)
	_, err = Describe(g)
	assert.ErrorIs(t, err, ErrNotArea)

	_, err = Describe(orb.Polygon{{{200, 0}, {201, 0}, {201, 1}, {200, 0}}})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = ParseBoundary([]byte(`not json`))
	assert.Error(t, err)
}
