package nav

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PortalID is a decoded portal identifier
type PortalID struct {
	Key     PortalKey
	FloorID string // empty when the identifier carries no floor
}

var portalIDPattern = regexp.MustCompile(`^([A-Za-z]+)[._\-\s]+([A-Za-z0-9]+)(?:[._\-\s]+([A-Za-z0-9]+))?$`)

var portalTypeAliases = map[string]PortalType{
	"stair":     PortalStair,
	"stairs":    PortalStair,
	"stairway":  PortalStair,
	"staircase": PortalStair,
	"elevator":  PortalElevator,
	"lift":      PortalElevator,
	"escalator": PortalEscalator,
	"ramp":      PortalRamp,
}

// ParsePortalID decodes packed identifiers such as "Stair.1", "Stair.1.F2"
// or "Elevator_3_L1" into type, instance and optional floor.
func ParsePortalID(s string) (PortalID, error) {
	m := portalIDPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return PortalID{}, fmt.Errorf("unrecognised portal id %q", s)
	}
	t, ok := portalTypeAliases[strings.ToLower(m[1])]
	if !ok {
		return PortalID{}, fmt.Errorf("unknown portal type %q in %q", m[1], s)
	}
	return PortalID{Key: PortalKey{Type: t, Instance: m[2]}, FloorID: m[3]}, nil
}

// FloorNodeID namespaces a floor-local node id inside a building graph
func FloorNodeID(floorID, nodeID string) string {
	return "f:" + floorID + "/" + nodeID
}

// FloorGraph is one floor's routable graph and portals
type FloorGraph struct {
	ID      string
	Graph   *PathGraph
	Portals []Portal
}

// BuildingGraph joins a building's floors through their portals.
// Node ids are FloorNodeID(floor, local id).
type BuildingGraph struct {
	ID     string
	Floors map[string]*FloorGraph
	Graph  *PathGraph

	// PortalEdges counts the cross-floor connections that were made
	PortalEdges int
}

// FloorPlanSource is one floor's plan, already parsed
type FloorPlanSource struct {
	FloorID string
	Plan    *FloorPlan
}

// BuildBuildingGraph builds every floor graph concurrently and then bridges
// the floors through portals that share a PortalKey.
func BuildBuildingGraph(ctx context.Context, buildingID string, floors []FloorPlanSource, graphCfg GraphConfig, cfg IndoorConfig) (*BuildingGraph, error) {
	built := make([]*FloorGraph, len(floors))

	g, ctx := errgroup.WithContext(ctx)
	for i, src := range floors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if src.Plan == nil {
				return fmt.Errorf("building %s floor %s: no plan", buildingID, src.FloorID)
			}
			builder := NewGraphBuilder(graphCfg)
			builder.FloorID = src.FloorID
			fg := &FloorGraph{ID: src.FloorID, Graph: builder.Build(src.Plan.Paths)}
			for _, p := range src.Plan.Portals {
				if p.FloorID != "" && p.FloorID != src.FloorID {
					log.Printf("[indoor] portal %s is tagged floor %s but drawn on %s, using %s",
						p.Key, p.FloorID, src.FloorID, src.FloorID)
				}
				p.FloorID = src.FloorID
				fg.Portals = append(fg.Portals, p)
			}
			built[i] = fg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building floor graphs: %w", err)
	}

	b := &BuildingGraph{ID: buildingID, Floors: make(map[string]*FloorGraph), Graph: NewPathGraph()}
	for _, fg := range built {
		if _, dup := b.Floors[fg.ID]; dup {
			return nil, fmt.Errorf("building %s: duplicate floor %s", buildingID, fg.ID)
		}
		b.Floors[fg.ID] = fg
		b.Graph.Merge(fg.Graph, FloorNodeID(fg.ID, ""))
	}

	b.PortalEdges = b.bridgePortals(cfg)
	log.Printf("[indoor] building %s: %d floors, %d nodes, %d portal edges",
		buildingID, len(b.Floors), b.Graph.NodeCount(), b.PortalEdges)
	return b, nil
}

// bridgePortals adds an edge for every cross-floor pair of portals with the
// same key. Weight is the floor-change penalty plus both walks to the portal.
func (b *BuildingGraph) bridgePortals(cfg IndoorConfig) int {
	groups := make(map[PortalKey][]Portal)
	for _, fg := range b.Floors {
		for _, p := range fg.Portals {
			groups[p.Key] = append(groups[p.Key], p)
		}
	}

	keys := make([]PortalKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	added := 0
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool { return group[i].FloorID < group[j].FloorID })
		if countFloors(group) < 2 {
			continue
		}

		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, c := group[i], group[j]
				if a.FloorID == c.FloorID {
					continue
				}
				na, okA := b.Floors[a.FloorID].Graph.NearestNode(a.Point, cfg.PortalConnectDistance)
				nc, okC := b.Floors[c.FloorID].Graph.NearestNode(c.Point, cfg.PortalConnectDistance)
				if !okA || !okC {
					log.Printf("[indoor] building %s: portal %s has no node within %.1f on floor %s or %s, skipping",
						b.ID, key, cfg.PortalConnectDistance, a.FloorID, c.FloorID)
					continue
				}
				weight := cfg.FloorChangePenalty + Distance(na.Point, a.Point) + Distance(nc.Point, c.Point)
				if b.Graph.InsertEdge(FloorNodeID(a.FloorID, na.ID), GraphEdge{
					To:           FloorNodeID(c.FloorID, nc.ID),
					Distance:     weight,
					Street:       key.String(),
					Kind:         EdgePortal,
					PortalType:   key.Type,
					Inaccessible: !key.Type.Accessible(),
				}) {
					added++
				}
			}
		}
	}
	return added
}

func countFloors(group []Portal) int {
	seen := make(map[string]bool)
	for _, p := range group {
		seen[p.FloorID] = true
	}
	return len(seen)
}

// RouteOptions adjusts which edges a search may use
type RouteOptions struct {
	// AccessibleOnly excludes stairs and inaccessible entrances
	AccessibleOnly bool
}

func (o RouteOptions) filter() EdgeFilter {
	if !o.AccessibleOnly {
		return nil
	}
	return func(_ string, e GraphEdge) bool { return !e.Inaccessible }
}

// ShortestPath runs Dijkstra. Graphs that span floors or mix outdoor and
// indoor coordinates use it because plane distance is no lower bound there.
func ShortestPath(g *PathGraph, from, to string, opts RouteOptions) (PathResult, error) {
	if _, ok := g.Nodes[from]; !ok {
		return PathResult{Algorithm: AlgorithmDijkstra}, fmt.Errorf("start %q: %w", from, ErrNodeNotFound)
	}
	if _, ok := g.Nodes[to]; !ok {
		return PathResult{Algorithm: AlgorithmDijkstra}, fmt.Errorf("goal %q: %w", to, ErrNodeNotFound)
	}
	allow := opts.filter()
	ids, _ := bestFirst(g, from, to, nil, allow)
	if ids == nil {
		return PathResult{Found: false, Algorithm: AlgorithmDijkstra}, ErrPathNotFound
	}
	return buildResult(g, ids, AlgorithmDijkstra, allow), nil
}

// FindPath searches between two floor-local nodes of the building
func (b *BuildingGraph) FindPath(fromFloor, fromID, toFloor, toID string, opts RouteOptions) (PathResult, error) {
	return ShortestPath(b.Graph, FloorNodeID(fromFloor, fromID), FloorNodeID(toFloor, toID), opts)
}

// FindRoute snaps two floor points to their floor graphs and searches
func (b *BuildingGraph) FindRoute(fromFloor string, from PlanePoint, toFloor string, to PlanePoint, maxSnap float64, opts RouteOptions) (PathResult, error) {
	start, err := b.snap(fromFloor, from, maxSnap)
	if err != nil {
		return PathResult{Algorithm: AlgorithmDijkstra}, err
	}
	goal, err := b.snap(toFloor, to, maxSnap)
	if err != nil {
		return PathResult{Algorithm: AlgorithmDijkstra}, err
	}
	return b.FindPath(fromFloor, start.ID, toFloor, goal.ID, opts)
}

func (b *BuildingGraph) snap(floorID string, p PlanePoint, maxSnap float64) (*GraphNode, error) {
	fg, ok := b.Floors[floorID]
	if !ok {
		return nil, fmt.Errorf("building %s has no floor %q: %w", b.ID, floorID, ErrNodeNotFound)
	}
	n, ok := fg.Graph.NearestNode(p, maxSnap)
	if !ok {
		return nil, fmt.Errorf("no node near (%.1f, %.1f) on floor %s: %w", p.X, p.Y, floorID, ErrNodeNotFound)
	}
	return n, nil
}
