package nav

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePoints(samples []pathSample) []PlanePoint {
	out := make([]PlanePoint, len(samples))
	for i, s := range samples {
		out[i] = s.Point
	}
	return out
}

func TestSamplePolyline(t *testing.T) {
	tests := []struct {
		name     string
		pts      []PlanePoint
		interval float64
		want     []PlanePoint
	}{
		{
			name:     "even division",
			pts:      []PlanePoint{{X: 0, Y: 0}, {X: 60, Y: 0}},
			interval: 20,
			want:     []PlanePoint{{X: 0}, {X: 20}, {X: 40}, {X: 60}},
		},
		{
			name:     "remainder keeps the endpoint",
			pts:      []PlanePoint{{X: 0, Y: 0}, {X: 50, Y: 0}},
			interval: 20,
			want:     []PlanePoint{{X: 0}, {X: 20}, {X: 40}, {X: 50}},
		},
		{
			name:     "shorter than interval",
			pts:      []PlanePoint{{X: 0, Y: 0}, {X: 5, Y: 0}},
			interval: 20,
			want:     []PlanePoint{{X: 0}, {X: 5}},
		},
		{
			name:     "no interval keeps vertices",
			pts:      []PlanePoint{{X: 0, Y: 0}, {X: 5, Y: 0}, {X: 5, Y: 5}},
			interval: 0,
			want:     []PlanePoint{{X: 0}, {X: 5}, {X: 5, Y: 5}},
		},
		{
			name:     "single point",
			pts:      []PlanePoint{{X: 3, Y: 3}},
			interval: 20,
			want:     []PlanePoint{{X: 3, Y: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, samplePoints(samplePolyline(tt.pts, tt.interval)))
		})
	}

	assert.Nil(t, samplePolyline(nil, 20))
}

func TestSamplePolyline_KeepsCorners(t *testing.T) {
	pts := []PlanePoint{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	samples := samplePolyline(pts, 15)

	require.Len(t, samples, 3)
	assert.Equal(t, PlanePoint{X: 10, Y: 5}, samples[1].Point)
	assert.Equal(t, []PlanePoint{{X: 10, Y: 0}}, samples[1].Between)
	assert.Equal(t, PlanePoint{X: 10, Y: 10}, samples[2].Point)
	assert.Empty(t, samples[2].Between)

	// Edge length follows the corner, not the chord
	assert.InDelta(t, 15.0, polylineLength(samples[0].Point, samples[1].Between, samples[1].Point), 1e-9)
}

func testGraphConfig() GraphConfig {
	return DefaultConfig().Graph
}

func TestGraphBuilder_Build(t *testing.T) {
	paths := []PathLine{
		{Street: "Main St", Points: []PlanePoint{{X: 0, Y: 0}, {X: 100, Y: 0}}},
		{Street: "Oak Ave", Points: []PlanePoint{{X: 100, Y: 0}, {X: 100, Y: 100}}},
	}
	g := NewGraphBuilder(testGraphConfig()).Build(paths)

	// Six samples per line, the corner shared
	assert.Equal(t, 11, g.NodeCount())
	assert.Equal(t, 10, g.EdgeCount())

	n0, ok := g.Node("n0")
	require.True(t, ok)
	assert.Equal(t, PlanePoint{X: 0, Y: 0}, n0.Point)
	assert.Equal(t, "Main St", n0.Street)

	corner, ok := g.NearestNode(PlanePoint{X: 100, Y: 0}, 0)
	require.True(t, ok)
	assert.Len(t, g.Neighbors(corner.ID), 2)

	for _, id := range g.NodeIDs() {
		for _, e := range g.Neighbors(id) {
			assert.InDelta(t, 20.0, e.Distance, 1e-9)
			assert.Equal(t, EdgePath, e.Kind)
		}
	}
}

func TestGraphBuilder_MergesNearbySamples(t *testing.T) {
	paths := []PathLine{
		{Street: "Main St", Points: []PlanePoint{{X: 0, Y: 0}, {X: 40, Y: 0}}},
		// Starts 2 units off the end of Main St
		{Street: "Elm St", Points: []PlanePoint{{X: 41, Y: 2}, {X: 41, Y: 42}}},
	}
	g := NewGraphBuilder(testGraphConfig()).Build(paths)

	end, ok := g.NearestNode(PlanePoint{X: 40, Y: 0}, 0)
	require.True(t, ok)
	assert.Equal(t, PlanePoint{X: 40, Y: 0}, end.Point)
	assert.Len(t, g.Neighbors(end.ID), 2, "Elm St joins the existing node")
	assert.Equal(t, 3+2, g.NodeCount())
}

func TestGraphBuilder_Bridges(t *testing.T) {
	paths := []PathLine{
		{Street: "Main St", Points: []PlanePoint{{X: 0, Y: 0}, {X: 100, Y: 0}}},
		{Street: "Spur", Points: []PlanePoint{{X: 0, Y: 8}, {X: 40, Y: 8}}},
	}
	g := NewGraphBuilder(testGraphConfig()).Build(paths)

	assert.Equal(t, 9, g.NodeCount())

	bridges := 0
	for _, id := range g.NodeIDs() {
		for _, e := range g.Neighbors(id) {
			if e.Kind == EdgeBridge {
				bridges++
				assert.InDelta(t, 8.0, e.Distance, 1e-9)
			}
		}
	}
	assert.Equal(t, 3*2, bridges, "each bridge is stored in both directions")
	assert.Equal(t, 5+2+3, g.EdgeCount())

	report := ValidateGraph(g, DefaultConfig().Validator)
	assert.Equal(t, 1, report.ConnectedComponents)
}

func TestGraphBuilder_NoBridgeWhenDisabled(t *testing.T) {
	cfg := testGraphConfig()
	cfg.BridgeMaxDistance = 0
	paths := []PathLine{
		{Points: []PlanePoint{{X: 0, Y: 0}, {X: 20, Y: 0}}},
		{Points: []PlanePoint{{X: 0, Y: 8}, {X: 20, Y: 8}}},
	}
	g := NewGraphBuilder(cfg).Build(paths)

	report := ValidateGraph(g, DefaultConfig().Validator)
	assert.Equal(t, 2, report.ConnectedComponents)
}

func TestGraphBuilder_GeoAndFloor(t *testing.T) {
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	require.NoError(t, err)

	b := NewGraphBuilder(testGraphConfig())
	b.Calibration = cal
	b.FloorID = "L2"
	g := b.Build([]PathLine{{Points: []PlanePoint{{X: 100, Y: 900}, {X: 100, Y: 920}}}})

	n, ok := g.Node("n0")
	require.True(t, ok)
	require.NotNil(t, n.Geo)
	assert.InDelta(t, campusPoints[0].Geo.Lat, n.Geo.Lat, 1e-6)
	assert.InDelta(t, campusPoints[0].Geo.Lng, n.Geo.Lng, 1e-6)
	assert.Equal(t, "L2", n.FloorID)
}

func TestGraphBuilder_Empty(t *testing.T) {
	g := NewGraphBuilder(testGraphConfig()).Build(nil)
	assert.Equal(t, 0, g.NodeCount())
}
