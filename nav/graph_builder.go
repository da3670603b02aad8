package nav

import (
	"fmt"
	"log"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// GraphBuilder turns path-layer polylines into a routable graph
type GraphBuilder struct {
	Config GraphConfig

	// Calibration, when set, fills GraphNode.Geo for every node
	Calibration *Calibration

	// FloorID is stamped on every node of an indoor graph
	FloorID string
}

// NewGraphBuilder creates a builder with the given sampling parameters
func NewGraphBuilder(cfg GraphConfig) *GraphBuilder {
	return &GraphBuilder{Config: cfg}
}

// pathSample is one resampled point along a polyline. Between holds the
// original vertices passed since the previous sample.
type pathSample struct {
	Point   PlanePoint
	Between []PlanePoint
}

// samplePolyline walks pts by arc length and emits a sample every interval
// units. The first and last points are always samples; corners between two
// samples are kept as intermediate vertices so edge geometry follows the
// source line.
func samplePolyline(pts []PlanePoint, interval float64) []pathSample {
	if len(pts) == 0 {
		return nil
	}
	samples := []pathSample{{Point: pts[0]}}
	if len(pts) == 1 || interval <= 0 {
		for _, p := range pts[1:] {
			samples = append(samples, pathSample{Point: p})
		}
		return samples
	}

	var between []PlanePoint
	carried := 0.0 // arc length since the last sample
	for i := 1; i < len(pts); i++ {
		a, b := pts[i-1], pts[i]
		segLen := Distance(a, b)
		if segLen == 0 {
			continue
		}
		pos := 0.0
		for carried+(segLen-pos) >= interval {
			pos += interval - carried
			t := pos / segLen
			p := PlanePoint{X: a.X + t*(b.X-a.X), Y: a.Y + t*(b.Y-a.Y)}
			samples = append(samples, pathSample{Point: p, Between: between})
			between = nil
			carried = 0
		}
		carried += segLen - pos
		if i < len(pts)-1 && carried > 0 {
			between = append(between, b)
		}
	}

	last := pts[len(pts)-1]
	if samples[len(samples)-1].Point != last {
		samples = append(samples, pathSample{Point: last, Between: between})
	}
	return samples
}

// Build samples every polyline, merges samples into shared nodes, links
// consecutive samples and finally bridges nearby nodes that do not share a
// vertex.
func (b *GraphBuilder) Build(paths []PathLine) *PathGraph {
	g := NewPathGraph()

	bound, ok := pathsBound(paths)
	if !ok {
		return g
	}

	// Dedupe index grows as nodes are created
	index := quadtree.New(bound.Pad(b.Config.MergeThreshold + 1))
	nextID := 0

	nodeFor := func(p PlanePoint, street string) *GraphNode {
		if hit := index.Find(p.Orb()); hit != nil {
			existing := hit.(indexedNode).node
			if Distance(existing.Point, p) <= b.Config.MergeThreshold {
				if existing.Street == "" {
					existing.Street = street
				}
				return existing
			}
		}
		n := GraphNode{
			ID:      fmt.Sprintf("n%d", nextID),
			Point:   p,
			Street:  street,
			FloorID: b.FloorID,
		}
		nextID++
		if b.Calibration != nil {
			if geo, err := b.Calibration.PlaneToGeo(p.X, p.Y); err == nil {
				n.Geo = &geo
			}
		}
		node := g.AddNode(n)
		_ = index.Add(indexedNode{node: node})
		return node
	}

	for _, line := range paths {
		samples := samplePolyline(line.Points, b.Config.SampleInterval)
		var prev *GraphNode
		for _, s := range samples {
			node := nodeFor(s.Point, line.Street)
			if prev != nil && prev.ID != node.ID {
				g.AddEdge(prev.ID, node.ID, polylineLength(prev.Point, s.Between, node.Point), s.Between, line.Street, EdgePath)
			}
			prev = node
		}
	}

	bridged := b.bridge(g)
	log.Printf("[graph] built %d nodes, %d edges (%d bridges) from %d paths",
		g.NodeCount(), g.EdgeCount(), bridged, len(paths))
	return g
}

// bridge links node pairs closer than BridgeMaxDistance (and farther than
// BridgeMinDistance) that are not already adjacent. Returns the number of
// edges added.
func (b *GraphBuilder) bridge(g *PathGraph) int {
	if b.Config.BridgeMaxDistance <= 0 {
		return 0
	}
	added := 0
	for _, id := range g.NodeIDs() {
		n := g.Nodes[id]
		for _, other := range g.NodesWithin(n.Point, b.Config.BridgeMaxDistance) {
			if other.ID <= id || g.HasEdge(id, other.ID) {
				continue
			}
			d := Distance(n.Point, other.Point)
			if d <= b.Config.BridgeMinDistance || d > b.Config.BridgeMaxDistance {
				continue
			}
			if g.AddEdge(id, other.ID, d, nil, "", EdgeBridge) {
				added++
			}
		}
	}
	return added
}

// polylineLength is the length of from -> between... -> to. It is never
// shorter than the straight line between the endpoints.
func polylineLength(from PlanePoint, between []PlanePoint, to PlanePoint) float64 {
	total := 0.0
	prev := from
	for _, p := range between {
		total += Distance(prev, p)
		prev = p
	}
	return total + Distance(prev, to)
}

func pathsBound(paths []PathLine) (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, line := range paths {
		for _, p := range line.Points {
			if !found {
				b = orb.Bound{Min: p.Orb(), Max: p.Orb()}
				found = true
				continue
			}
			b = b.Extend(p.Orb())
		}
	}
	return b, found
}
