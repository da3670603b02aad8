package nav

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// PathGraph is a routable graph in plane coordinates.
// Once built it is treated as immutable; the spatial index is built lazily on
// the first nearest-node query and dropped by any mutation.
type PathGraph struct {
	Nodes     map[string]*GraphNode  `json:"nodesById"`
	Adjacency map[string][]GraphEdge `json:"adjacency"`

	mu    sync.Mutex
	index *quadtree.Quadtree
}

// NewPathGraph creates an empty graph
func NewPathGraph() *PathGraph {
	return &PathGraph{
		Nodes:     make(map[string]*GraphNode),
		Adjacency: make(map[string][]GraphEdge),
	}
}

// indexedNode adapts a node for the quadtree
type indexedNode struct {
	node *GraphNode
}

func (n indexedNode) Point() orb.Point {
	return n.node.Point.Orb()
}

// AddNode inserts or replaces a node
func (g *PathGraph) AddNode(n GraphNode) *GraphNode {
	g.invalidate()
	node := n
	g.Nodes[n.ID] = &node
	if _, ok := g.Adjacency[n.ID]; !ok {
		g.Adjacency[n.ID] = nil
	}
	return &node
}

// Node looks up a node by id
func (g *PathGraph) Node(id string) (*GraphNode, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// AddEdge inserts a bidirectional edge pair. Points are the intermediate
// polyline vertices from "from" to "to"; the reverse edge gets them reversed.
// Self-loops, unknown endpoints, and duplicate (to, distance) pairs are
// ignored and reported as false.
func (g *PathGraph) AddEdge(from, to string, distance float64, points []PlanePoint, street string, kind EdgeKind) bool {
	return g.InsertEdge(from, GraphEdge{To: to, Distance: distance, Points: points, Street: street, Kind: kind})
}

// InsertEdge is AddEdge for a fully populated edge
func (g *PathGraph) InsertEdge(from string, e GraphEdge) bool {
	to := e.To
	if from == to {
		return false
	}
	if _, ok := g.Nodes[from]; !ok {
		return false
	}
	if _, ok := g.Nodes[to]; !ok {
		return false
	}
	if g.hasEdgeWithDistance(from, to, e.Distance) {
		return false
	}

	back := e
	back.To = from
	back.Points = nil
	if len(e.Points) > 0 {
		back.Points = make([]PlanePoint, len(e.Points))
		for i, p := range e.Points {
			back.Points[len(e.Points)-1-i] = p
		}
	}

	g.Adjacency[from] = append(g.Adjacency[from], e)
	g.Adjacency[to] = append(g.Adjacency[to], back)
	return true
}

func (g *PathGraph) hasEdgeWithDistance(from, to string, distance float64) bool {
	for _, e := range g.Adjacency[from] {
		if e.To == to && math.Abs(e.Distance-distance) < 1e-9 {
			return true
		}
	}
	return false
}

// HasEdge reports whether any edge connects a to b
func (g *PathGraph) HasEdge(a, b string) bool {
	for _, e := range g.Adjacency[a] {
		if e.To == b {
			return true
		}
	}
	return false
}

// Neighbors returns the outgoing edges of a node
func (g *PathGraph) Neighbors(id string) []GraphEdge {
	return g.Adjacency[id]
}

// NodeIDs returns all node ids in sorted order
func (g *PathGraph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes
func (g *PathGraph) NodeCount() int {
	return len(g.Nodes)
}

// EdgeCount returns the number of undirected edges
func (g *PathGraph) EdgeCount() int {
	total := 0
	for _, edges := range g.Adjacency {
		total += len(edges)
	}
	return total / 2
}

// Bound returns the plane bounding box of all nodes
func (g *PathGraph) Bound() orb.Bound {
	first := true
	var b orb.Bound
	for _, n := range g.Nodes {
		if first {
			b = orb.Bound{Min: n.Point.Orb(), Max: n.Point.Orb()}
			first = false
			continue
		}
		b = b.Extend(n.Point.Orb())
	}
	return b
}

func (g *PathGraph) invalidate() {
	g.mu.Lock()
	g.index = nil
	g.mu.Unlock()
}

// spatialIndex returns the quadtree, building it on first use.
// Nodes are inserted in id order so query results are reproducible.
func (g *PathGraph) spatialIndex() *quadtree.Quadtree {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.index != nil {
		return g.index
	}

	qt := quadtree.New(g.Bound().Pad(1))
	for _, id := range g.NodeIDs() {
		// Bound covers every node, Add cannot fail
		_ = qt.Add(indexedNode{node: g.Nodes[id]})
	}
	g.index = qt
	return qt
}

// NearestNode returns the node closest to p. A positive maxDistance is an
// inclusive cutoff; beyond it nothing is found. Ties go to the smallest id.
func (g *PathGraph) NearestNode(p PlanePoint, maxDistance float64) (*GraphNode, bool) {
	if len(g.Nodes) == 0 {
		return nil, false
	}

	nearest := g.spatialIndex().Find(p.Orb())
	if nearest == nil {
		return nil, false
	}
	best := nearest.(indexedNode).node
	d := Distance(p, best.Point)
	if maxDistance > 0 && d > maxDistance {
		return nil, false
	}

	// Nodes at the same distance are resolved by id
	if tied := g.NodesWithin(p, d); len(tied) > 0 {
		best = tied[0]
	}
	return best, true
}

// NodesWithin returns the nodes within radius of p (inclusive), sorted by
// distance then id.
func (g *PathGraph) NodesWithin(p PlanePoint, radius float64) []*GraphNode {
	if len(g.Nodes) == 0 || radius < 0 {
		return nil
	}

	// Pad the box slightly so points exactly on the radius survive rounding
	pad := radius + 1e-9*math.Max(1, radius)
	box := orb.Bound{Min: orb.Point{p.X - pad, p.Y - pad}, Max: orb.Point{p.X + pad, p.Y + pad}}

	var out []*GraphNode
	for _, hit := range g.spatialIndex().InBound(nil, box) {
		n := hit.(indexedNode).node
		if Distance(p, n.Point) <= pad {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := Distance(p, out[i].Point), Distance(p, out[j].Point)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Merge copies every node and edge of other into g, prefixing ids
func (g *PathGraph) Merge(other *PathGraph, prefix string) {
	for _, id := range other.NodeIDs() {
		n := *other.Nodes[id]
		n.ID = prefix + n.ID
		g.AddNode(n)
	}
	for _, id := range other.NodeIDs() {
		edges := other.Adjacency[id]
		for _, e := range edges {
			e.To = prefix + e.To
			g.Adjacency[prefix+id] = append(g.Adjacency[prefix+id], e)
		}
	}
}

// SaveGraph writes the graph artifact as JSON {nodesById, adjacency}
func SaveGraph(path string, g *PathGraph) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating graph directory: %w", err)
		}
	}

	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshaling graph: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing graph file: %w", err)
	}
	return nil
}

// LoadGraph reads a graph artifact written by SaveGraph
func LoadGraph(path string) (*PathGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}

	g := NewPathGraph()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parsing graph file: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = make(map[string]*GraphNode)
	}
	if g.Adjacency == nil {
		g.Adjacency = make(map[string][]GraphEdge)
	}
	return g, nil
}
