package nav

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// campusFixture is an outdoor walk leaving the gate northwards on the plan
// and a one-floor library whose doors sit on that walk
type campusFixture struct {
	cal      *Calibration
	outdoor  *PathGraph
	library  *BuildingGraph
	sideDoor GeoPoint
}

func newCampusFixture(t *testing.T) campusFixture {
	t.Helper()
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	require.NoError(t, err)

	b := NewGraphBuilder(testGraphConfig())
	b.Calibration = cal
	outdoor := b.Build([]PathLine{{Street: "Gate Walk", Points: []PlanePoint{{X: 100, Y: 900}, {X: 100, Y: 960}}}})
	require.Equal(t, 4, outdoor.NodeCount())

	cfg := DefaultConfig()
	library, err := BuildBuildingGraph(context.Background(), "library", []FloorPlanSource{
		{FloorID: "L1", Plan: corridorPlan()},
	}, cfg.Graph, cfg.Indoor)
	require.NoError(t, err)

	side, err := cal.PlaneToGeo(100, 960)
	require.NoError(t, err)

	return campusFixture{cal: cal, outdoor: outdoor, library: library, sideDoor: side}
}

func (f campusFixture) entrances() []BuildingEntrance {
	gate := campusPoints[0].Geo
	return []BuildingEntrance{
		{ID: "main", BuildingID: "library", FloorID: "L1", Geo: gate, Indoor: PlanePoint{X: 0, Y: 0}, Accessible: true, Open: true},
		{ID: "side", BuildingID: "library", FloorID: "L1", Geo: f.sideDoor, Indoor: PlanePoint{X: 40, Y: 0}, Accessible: false, Open: true},
		{ID: "loading", BuildingID: "library", FloorID: "L1", Geo: gate, Indoor: PlanePoint{X: 20, Y: 0}, Open: false},
		{ID: "gym-door", BuildingID: "gym", FloorID: "G", Geo: gate, Open: true},
		{ID: "basement", BuildingID: "library", FloorID: "B1", Geo: gate, Open: true},
		{ID: "far", BuildingID: "library", FloorID: "L1", Geo: GeoPoint{Lat: 40.01, Lng: -75}, Open: true},
	}
}

func TestBuildHybridGraph(t *testing.T) {
	f := newCampusFixture(t)
	h, err := BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library}, f.entrances(), DefaultConfig().Indoor)
	require.NoError(t, err)

	assert.Equal(t, 2, h.Bridges)
	assert.Equal(t, map[string]string{
		"loading":  "entrance closed",
		"gym-door": "unknown building",
		"basement": "unknown floor B1",
		"far":      "no outdoor node within 100.0",
	}, h.Skipped)
	assert.Equal(t, 4+3, h.Graph.NodeCount())

	inside := BuildingNodeID("library", FloorNodeID("L1", "n0"))
	assert.Equal(t, "b:library/f:L1/n0", inside)
	_, ok := h.Graph.Node(inside)
	assert.True(t, ok)

	var door GraphEdge
	for _, e := range h.Graph.Neighbors("n0") {
		if e.Kind == EdgeEntrance {
			door = e
		}
	}
	assert.Equal(t, inside, door.To)
	assert.Equal(t, "main", door.Street)
	assert.False(t, door.Inaccessible)
	assert.InDelta(t, 0, door.Distance, 1e-6)
}

func TestHybridGraph_FindPath(t *testing.T) {
	f := newCampusFixture(t)
	h, err := BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library}, f.entrances(), DefaultConfig().Indoor)
	require.NoError(t, err)

	goal := BuildingNodeID("library", FloorNodeID("L1", "n2"))

	res, err := h.FindPath("n3", goal, RouteOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0, res.Distance, 1e-6, "side door opens onto the goal")
	require.Len(t, res.Legs, 1)
	assert.Equal(t, "side", res.Legs[0].Street)

	res, err = h.FindPath("n3", goal, RouteOptions{AccessibleOnly: true})
	require.NoError(t, err)
	assert.InDelta(t, 60+40, res.Distance, 1e-6, "walks back to the main door")
	assert.Equal(t, "n3", res.Nodes[0].ID)
	assert.Equal(t, goal, res.Nodes[len(res.Nodes)-1].ID)
}

func TestBuildHybridGraph_Errors(t *testing.T) {
	f := newCampusFixture(t)
	cfg := DefaultConfig().Indoor

	_, err := BuildHybridGraph(f.outdoor, nil, []*BuildingGraph{f.library}, nil, cfg)
	assert.Error(t, err, "no calibration")

	_, err = BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library, f.library}, nil, cfg)
	assert.Error(t, err, "duplicate building")
}

func TestBuildHybridGraph_NoEntrances(t *testing.T) {
	f := newCampusFixture(t)
	h, err := BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library}, nil, DefaultConfig().Indoor)
	require.NoError(t, err)

	_, err = h.FindPath("n0", BuildingNodeID("library", FloorNodeID("L1", "n0")), RouteOptions{})
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestHybridGraph_AnchorsIndoorNodes(t *testing.T) {
	f := newCampusFixture(t)
	h, err := BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library}, f.entrances(), DefaultConfig().Indoor)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"library": "main"}, h.Anchors)

	far, ok := h.Graph.Node(BuildingNodeID("library", FloorNodeID("L1", "n2")))
	require.True(t, ok)
	require.NotNil(t, far.Geo)
	gate := campusPoints[0].Geo
	assert.InDelta(t, 40, HaversineMeters(gate, *far.Geo), 0.01, "40 plan units east of the main door")
	assert.InDelta(t, 90, BearingDeg(gate, *far.Geo), 0.5)

	// Outdoor nodes and the source building graph are left alone
	out, _ := h.Graph.Node("n0")
	src0, _ := f.outdoor.Node("n0")
	assert.Equal(t, src0.Geo, out.Geo)
	src, _ := f.library.Graph.Node(FloorNodeID("L1", "n2"))
	assert.Nil(t, src.Geo)
}

func TestHybridRoute_Guidance(t *testing.T) {
	f := newCampusFixture(t)
	cfg := DefaultConfig()
	h, err := BuildHybridGraph(f.outdoor, f.cal, []*BuildingGraph{f.library}, f.entrances(), cfg.Indoor)
	require.NoError(t, err)

	res, err := h.FindPath("n3", BuildingNodeID("library", FloorNodeID("L1", "n2")), RouteOptions{AccessibleOnly: true})
	require.NoError(t, err)
	route := res.Route()

	gen := NewInstructionGenerator(cfg.Instructions, f.cal)
	steps, err := gen.Directions(route)
	require.NoError(t, err)

	enter := -1
	for i, s := range steps {
		if s.Instruction == "Enter Main" {
			enter = i
		}
	}
	require.GreaterOrEqual(t, enter, 0, "steps: %+v", steps)
	var indoor float64
	for _, s := range steps[enter:] {
		indoor += s.DistanceMeters
	}
	assert.InDelta(t, 40, indoor, 0.5, "the corridor is measured in its own frame")

	step, err := gen.NextInstruction(route, *route.Nodes[len(route.Nodes)-1].Geo, "Reading Room")
	require.NoError(t, err)
	assert.Equal(t, TurnArrive, step.TurnType)
	assert.Equal(t, "L1", step.FloorID)

	s := NewSession("phone", *cfg, f.cal)
	s.SetRoute(route, false, "Reading Room")
	update, err := s.HandleFix(DeviceFix{Geo: campusPoints[0].Geo, Accuracy: 5, Timestamp: t0.Add(time.Minute)})
	require.NoError(t, err)
	require.NotNil(t, update.Progress)
	seg := update.Progress.SegmentIndex
	assert.Empty(t, route.Nodes[seg].FloorID)
	assert.Empty(t, route.Nodes[seg+1].FloorID)
	assert.InDelta(t, 1, update.Progress.ProgressFraction, 1e-6, "the whole outdoor walk is done at the door")
}

func TestDirections_UnanchoredIndoorNode(t *testing.T) {
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	require.NoError(t, err)
	route := ActiveRoute{Nodes: []GraphNode{
		{ID: "gate", Point: campusPoints[0].Plane},
		{ID: "b:library/f:L1/n0", Point: PlanePoint{X: 10}, FloorID: "L1"},
	}}
	_, err = NewInstructionGenerator(DefaultConfig().Instructions, cal).Directions(route)
	assert.ErrorContains(t, err, "no geographic anchor")
}
