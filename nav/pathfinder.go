package nav

import (
	"container/heap"
	"fmt"
	"log"
	"math"

	"github.com/twpayne/go-polyline"
)

// Algorithm names the search that produced a route
type Algorithm string

const (
	AlgorithmAStar    Algorithm = "astar"
	AlgorithmBFS      Algorithm = "bfs"
	AlgorithmDijkstra Algorithm = "dijkstra"
)

// PathResult is the outcome of a route search. Found is false when no route
// exists; callers also get ErrPathNotFound in that case.
type PathResult struct {
	Found           bool         `json:"found"`
	Nodes           []GraphNode  `json:"nodes"`
	Legs            []GraphEdge  `json:"legs,omitempty"`
	Geometry        []PlanePoint `json:"geometry,omitempty"`
	Distance        float64      `json:"distance"`
	Algorithm       Algorithm    `json:"algorithm"`
	EncodedPolyline string       `json:"encodedPolyline,omitempty"`
}

// NodeIDs returns the ids along the route
func (r *PathResult) NodeIDs() []string {
	ids := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// Route returns the result as an ActiveRoute
func (r *PathResult) Route() ActiveRoute {
	return ActiveRoute{
		Nodes: append([]GraphNode(nil), r.Nodes...),
		Legs:  append([]GraphEdge(nil), r.Legs...),
	}
}

// ---------------------------------------------------------------------------
// priority queue
// ---------------------------------------------------------------------------

// openItem is one entry of the open set. Seq is the discovery order of the
// node; equal f values pop in discovery order.
type openItem struct {
	NodeID string
	F      float64
	G      float64
	Seq    int
	Index  int
}

type openSet []*openItem

func (pq openSet) Len() int { return len(pq) }

func (pq openSet) Less(i, j int) bool {
	if pq[i].F != pq[j].F {
		return pq[i].F < pq[j].F
	}
	return pq[i].Seq < pq[j].Seq
}

func (pq openSet) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *openSet) Push(x interface{}) {
	item := x.(*openItem)
	item.Index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *openSet) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[:n-1]
	return item
}

// ---------------------------------------------------------------------------
// search
// ---------------------------------------------------------------------------

// EdgeFilter decides whether an edge may be traversed
type EdgeFilter func(from string, e GraphEdge) bool

// Heuristic estimates the remaining cost from a node to the goal
type Heuristic func(n, goal *GraphNode) float64

// euclideanHeuristic is admissible while every edge weighs at least the
// straight line between its endpoints.
func euclideanHeuristic(n, goal *GraphNode) float64 {
	return Distance(n.Point, goal.Point)
}

func validWeight(d float64) bool {
	return d >= 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}

// bestFirst runs A* (or Dijkstra with a nil heuristic) from start to goal.
// It returns the node path and its cost, or nil when the goal is unreachable.
func bestFirst(g *PathGraph, start, goal string, h Heuristic, allow EdgeFilter) ([]string, float64) {
	goalNode := g.Nodes[goal]
	estimate := func(id string) float64 {
		if h == nil {
			return 0
		}
		return h(g.Nodes[id], goalNode)
	}

	gScore := map[string]float64{start: 0}
	seq := map[string]int{start: 0}
	cameFrom := make(map[string]string)
	closed := make(map[string]bool)
	discovered := 1

	open := &openSet{}
	heap.Push(open, &openItem{NodeID: start, F: estimate(start), G: 0, Seq: 0})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*openItem)
		if closed[cur.NodeID] || cur.G > gScore[cur.NodeID] {
			continue
		}
		if cur.NodeID == goal {
			return reconstruct(cameFrom, start, goal), cur.G
		}
		closed[cur.NodeID] = true

		for _, e := range g.Adjacency[cur.NodeID] {
			if _, ok := g.Nodes[e.To]; !ok || closed[e.To] || !validWeight(e.Distance) {
				continue
			}
			if allow != nil && !allow(cur.NodeID, e) {
				continue
			}
			tentative := cur.G + e.Distance
			if old, seen := gScore[e.To]; seen && tentative >= old {
				continue
			}
			if _, seen := seq[e.To]; !seen {
				seq[e.To] = discovered
				discovered++
			}
			gScore[e.To] = tentative
			cameFrom[e.To] = cur.NodeID
			heap.Push(open, &openItem{NodeID: e.To, F: tentative + estimate(e.To), G: tentative, Seq: seq[e.To]})
		}
	}
	return nil, 0
}

// breadthFirst ignores weights and finds the path with the fewest hops
func breadthFirst(g *PathGraph, start, goal string, allow EdgeFilter) []string {
	cameFrom := make(map[string]string)
	visited := map[string]bool{start: true}
	queue := []string{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == goal {
			return reconstruct(cameFrom, start, goal)
		}
		for _, e := range g.Adjacency[cur] {
			if _, ok := g.Nodes[e.To]; !ok || visited[e.To] {
				continue
			}
			if allow != nil && !allow(cur, e) {
				continue
			}
			visited[e.To] = true
			cameFrom[e.To] = cur
			queue = append(queue, e.To)
		}
	}
	return nil
}

func reconstruct(cameFrom map[string]string, start, goal string) []string {
	path := []string{goal}
	for cur := goal; cur != start; {
		cur = cameFrom[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// edgeBetween returns the cheapest usable edge from a to b
func edgeBetween(g *PathGraph, a, b string, allow EdgeFilter) (GraphEdge, bool) {
	var best GraphEdge
	found := false
	for _, e := range g.Adjacency[a] {
		if e.To != b || (allow != nil && !allow(a, e)) {
			continue
		}
		if !found || (validWeight(e.Distance) && (!validWeight(best.Distance) || e.Distance < best.Distance)) {
			best = e
			found = true
		}
	}
	return best, found
}

// buildResult expands node ids into nodes, legs and geometry. Edges whose
// weight is unusable are measured as straight lines.
func buildResult(g *PathGraph, ids []string, algo Algorithm, allow EdgeFilter) PathResult {
	res := PathResult{Found: true, Algorithm: algo}
	for i, id := range ids {
		n := g.Nodes[id]
		res.Nodes = append(res.Nodes, *n)
		if i == 0 {
			res.Geometry = append(res.Geometry, n.Point)
			continue
		}
		prev := ids[i-1]
		e, ok := edgeBetween(g, prev, id, allow)
		if !ok || !validWeight(e.Distance) {
			e = GraphEdge{To: id, Distance: Distance(g.Nodes[prev].Point, n.Point), Street: e.Street, Kind: e.Kind}
		}
		res.Distance += e.Distance
		res.Legs = append(res.Legs, e)
		res.Geometry = append(res.Geometry, e.Points...)
		res.Geometry = append(res.Geometry, n.Point)
	}
	return res
}

// ---------------------------------------------------------------------------
// Pathfinder
// ---------------------------------------------------------------------------

// Pathfinder answers route queries on one graph. It holds no per-query state
// and is safe for concurrent use.
type Pathfinder struct {
	graph       *PathGraph
	calibration *Calibration
	maxSnap     float64
}

// NewPathfinder creates a pathfinder over g. cal may be nil; it is only used
// for geographic endpoints and encoded polylines.
func NewPathfinder(g *PathGraph, cal *Calibration, maxSnapDistance float64) *Pathfinder {
	return &Pathfinder{graph: g, calibration: cal, maxSnap: maxSnapDistance}
}

// Graph returns the graph this pathfinder searches
func (p *Pathfinder) Graph() *PathGraph {
	return p.graph
}

// FindPath runs A* between two node ids, falling back to BFS when A* cannot
// reach the goal. Unknown ids wrap ErrNodeNotFound; unreachable goals return
// a result with Found=false and ErrPathNotFound.
func (p *Pathfinder) FindPath(fromID, toID string) (PathResult, error) {
	return p.findPath(fromID, toID, nil)
}

func (p *Pathfinder) findPath(fromID, toID string, allow EdgeFilter) (PathResult, error) {
	g := p.graph
	if _, ok := g.Nodes[fromID]; !ok {
		return PathResult{Algorithm: AlgorithmAStar}, fmt.Errorf("start %q: %w", fromID, ErrNodeNotFound)
	}
	if _, ok := g.Nodes[toID]; !ok {
		return PathResult{Algorithm: AlgorithmAStar}, fmt.Errorf("goal %q: %w", toID, ErrNodeNotFound)
	}

	if ids, _ := bestFirst(g, fromID, toID, euclideanHeuristic, allow); ids != nil {
		return p.finish(buildResult(g, ids, AlgorithmAStar, allow)), nil
	}

	if ids := breadthFirst(g, fromID, toID, allow); ids != nil {
		log.Printf("[route] A* found no path %s -> %s, using BFS result", fromID, toID)
		return p.finish(buildResult(g, ids, AlgorithmBFS, allow)), nil
	}

	return PathResult{Found: false, Algorithm: AlgorithmBFS}, ErrPathNotFound
}

// NearestNode snaps a plane point to the graph within the configured cutoff
func (p *Pathfinder) NearestNode(pt PlanePoint) (*GraphNode, bool) {
	return p.graph.NearestNode(pt, p.maxSnap)
}

// FindRoute snaps both plane points to the graph and searches between them
func (p *Pathfinder) FindRoute(from, to PlanePoint) (PathResult, error) {
	start, ok := p.NearestNode(from)
	if !ok {
		return PathResult{Algorithm: AlgorithmAStar}, fmt.Errorf("no node near start (%.1f, %.1f): %w", from.X, from.Y, ErrNodeNotFound)
	}
	goal, ok := p.NearestNode(to)
	if !ok {
		return PathResult{Algorithm: AlgorithmAStar}, fmt.Errorf("no node near goal (%.1f, %.1f): %w", to.X, to.Y, ErrNodeNotFound)
	}
	return p.FindPath(start.ID, goal.ID)
}

// FindRouteGeo projects geographic endpoints through the calibration and
// searches between them.
func (p *Pathfinder) FindRouteGeo(from, to GeoPoint) (PathResult, error) {
	if p.calibration == nil {
		return PathResult{}, fmt.Errorf("geographic routing needs a calibration")
	}
	return p.FindRoute(p.calibration.GeoToPlane(from.Lat, from.Lng), p.calibration.GeoToPlane(to.Lat, to.Lng))
}

// finish attaches the encoded polyline when geographic output is possible
func (p *Pathfinder) finish(res PathResult) PathResult {
	res.EncodedPolyline = encodeRoute(res.Nodes, p.calibration)
	return res
}

// encodeRoute encodes the route's geographic coordinates in the Google
// polyline format. Nodes without a Geo are inverted through cal.
func encodeRoute(nodes []GraphNode, cal *Calibration) string {
	coords := make([][]float64, 0, len(nodes))
	for _, n := range nodes {
		switch {
		case n.Geo != nil:
			coords = append(coords, []float64{n.Geo.Lat, n.Geo.Lng})
		case cal != nil && n.FloorID == "":
			g, err := cal.PlaneToGeo(n.Point.X, n.Point.Y)
			if err != nil {
				return ""
			}
			coords = append(coords, []float64{g.Lat, g.Lng})
		}
	}
	if len(coords) < 2 {
		return ""
	}
	return string(polyline.EncodeCoords(coords))
}
