package nav

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// BuildingNodeID namespaces a building graph node inside the hybrid graph
func BuildingNodeID(buildingID, nodeID string) string {
	return "b:" + buildingID + "/" + nodeID
}

// HybridGraph is the outdoor graph joined to building graphs through their
// entrances. It has no incremental update; rebuild it when any input changes.
type HybridGraph struct {
	Graph *PathGraph

	// Bridges counts entrances that were connected
	Bridges int
	// Skipped lists entrances that could not be connected, with the reason
	Skipped map[string]string

	// Anchors maps a building to the entrance that places its indoor
	// nodes on the ground
	Anchors map[string]string
}

// BuildHybridGraph connects outdoor and indoor graphs. Each open entrance is
// linked from its nearest outdoor node to the nearest node on its floor with
// an edge weighing the sum of both distances. Outdoor node ids are kept as
// they are; indoor ids become BuildingNodeID(building, FloorNodeID(floor, id)).
func BuildHybridGraph(outdoor *PathGraph, cal *Calibration, buildings []*BuildingGraph, entrances []BuildingEntrance, cfg IndoorConfig) (*HybridGraph, error) {
	if cal == nil {
		return nil, fmt.Errorf("hybrid graph needs a calibration to place entrances")
	}

	h := &HybridGraph{Graph: NewPathGraph(), Skipped: make(map[string]string), Anchors: make(map[string]string)}
	h.Graph.Merge(outdoor, "")

	byID := make(map[string]*BuildingGraph, len(buildings))
	for _, b := range buildings {
		if _, dup := byID[b.ID]; dup {
			return nil, fmt.Errorf("duplicate building %s", b.ID)
		}
		byID[b.ID] = b
		h.Graph.Merge(b.Graph, BuildingNodeID(b.ID, ""))
	}

	sorted := append([]BuildingEntrance(nil), entrances...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, e := range sorted {
		reason := h.connect(outdoor, cal, byID, e, cfg)
		if reason != "" {
			h.Skipped[e.ID] = reason
			log.Printf("[hybrid] entrance %s (building %s) not connected: %s", e.ID, e.BuildingID, reason)
			continue
		}
		h.Bridges++
		if _, ok := h.Anchors[e.BuildingID]; !ok {
			h.Anchors[e.BuildingID] = e.ID
			h.anchorBuilding(e, cfg)
		}
	}

	log.Printf("[hybrid] %d nodes, %d entrance bridges, %d skipped",
		h.Graph.NodeCount(), h.Bridges, len(h.Skipped))
	return h, nil
}

// connect adds one entrance bridge, returning why it could not when it fails
func (h *HybridGraph) connect(outdoor *PathGraph, cal *Calibration, buildings map[string]*BuildingGraph, e BuildingEntrance, cfg IndoorConfig) string {
	if !e.Open {
		return "entrance closed"
	}
	b, ok := buildings[e.BuildingID]
	if !ok {
		return "unknown building"
	}
	floor, ok := b.Floors[e.FloorID]
	if !ok {
		return fmt.Sprintf("unknown floor %s", e.FloorID)
	}

	doorPlane := cal.GeoToPlane(e.Geo.Lat, e.Geo.Lng)
	out, ok := outdoor.NearestNode(doorPlane, cfg.EntranceOutdoorDistance)
	if !ok {
		return fmt.Sprintf("no outdoor node within %.1f", cfg.EntranceOutdoorDistance)
	}
	in, ok := floor.Graph.NearestNode(e.Indoor, cfg.EntranceIndoorDistance)
	if !ok {
		return fmt.Sprintf("no indoor node within %.1f", cfg.EntranceIndoorDistance)
	}

	weight := Distance(out.Point, doorPlane) + Distance(in.Point, e.Indoor)
	inside := BuildingNodeID(b.ID, FloorNodeID(floor.ID, in.ID))
	if !h.Graph.InsertEdge(out.ID, GraphEdge{
		To:           inside,
		Distance:     weight,
		Street:       e.ID,
		Kind:         EdgeEntrance,
		Inaccessible: !e.Accessible,
	}) {
		return "duplicate bridge"
	}
	return ""
}

// anchorBuilding gives every indoor node of e's building a geographic
// position by offsetting it from the entrance in the building's frame
func (h *HybridGraph) anchorBuilding(e BuildingEntrance, cfg IndoorConfig) {
	scale := cfg.MetersPerUnit
	if scale <= 0 {
		scale = 1
	}
	north := -scale
	if cfg.PlanYUp {
		north = scale
	}

	frame := newLocalFrame(e.Geo)
	prefix := BuildingNodeID(e.BuildingID, "")
	for id, n := range h.Graph.Nodes {
		if n.Geo != nil || !strings.HasPrefix(id, prefix) {
			continue
		}
		g := frame.toGeo((n.Point.X-e.Indoor.X)*scale, (n.Point.Y-e.Indoor.Y)*north)
		n.Geo = &g
	}
}

// FindPath searches the hybrid graph with Dijkstra
func (h *HybridGraph) FindPath(from, to string, opts RouteOptions) (PathResult, error) {
	return ShortestPath(h.Graph, from, to, opts)
}
