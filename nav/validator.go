package nav

import (
	"fmt"
	"sort"
)

// ValidationReport summarises graph connectivity and quality
type ValidationReport struct {
	NodeCount           int      `json:"nodeCount"`
	EdgeCount           int      `json:"edgeCount"`
	AvgEdgesPerNode     float64  `json:"avgEdgesPerNode"`
	IsolatedNodes       int      `json:"isolatedNodes"`
	IsolatedPercent     float64  `json:"isolatedPercent"`
	ConnectedComponents int      `json:"connectedComponents"`
	LargestComponent    int      `json:"largestComponent"`
	MaxEdgeLength       float64  `json:"maxEdgeLength"`
	AvgEdgeLength       float64  `json:"avgEdgeLength"`
	MedianEdgeLength    float64  `json:"medianEdgeLength"`
	IsValid             bool     `json:"isValid"`
	Errors              []string `json:"errors,omitempty"`
	Warnings            []string `json:"warnings,omitempty"`

	IntegrityErrors []GraphIntegrityError `json:"-"`
}

// ValidateGraph computes the report for g. Dangling edge references are
// reported as warnings; the graph is never repaired.
func ValidateGraph(g *PathGraph, cfg ValidatorConfig) *ValidationReport {
	r := &ValidationReport{NodeCount: g.NodeCount()}

	var lengths []float64
	totalDegree := 0
	for _, id := range g.NodeIDs() {
		edges := g.Adjacency[id]
		totalDegree += len(edges)
		if len(edges) == 0 {
			r.IsolatedNodes++
		}
		for _, e := range edges {
			if _, ok := g.Nodes[e.To]; !ok {
				r.IntegrityErrors = append(r.IntegrityErrors, GraphIntegrityError{NodeID: id, MissingID: e.To})
				continue
			}
			// Each undirected edge is measured once
			if id < e.To {
				lengths = append(lengths, e.Distance)
			}
		}
	}
	// Adjacency entries for ids with no node are dangling too
	for id, edges := range g.Adjacency {
		if _, ok := g.Nodes[id]; !ok && len(edges) > 0 {
			r.IntegrityErrors = append(r.IntegrityErrors, GraphIntegrityError{NodeID: id, MissingID: id})
		}
	}
	sort.Slice(r.IntegrityErrors, func(i, j int) bool {
		a, b := r.IntegrityErrors[i], r.IntegrityErrors[j]
		if a.NodeID != b.NodeID {
			return a.NodeID < b.NodeID
		}
		return a.MissingID < b.MissingID
	})

	r.EdgeCount = totalDegree / 2
	if r.NodeCount > 0 {
		r.AvgEdgesPerNode = float64(totalDegree) / float64(r.NodeCount)
		r.IsolatedPercent = float64(r.IsolatedNodes) / float64(r.NodeCount) * 100
	}

	r.ConnectedComponents, r.LargestComponent = countComponents(g)

	if len(lengths) > 0 {
		sort.Float64s(lengths)
		sum := 0.0
		for _, l := range lengths {
			sum += l
		}
		r.MaxEdgeLength = lengths[len(lengths)-1]
		r.AvgEdgeLength = sum / float64(len(lengths))
		mid := len(lengths) / 2
		if len(lengths)%2 == 0 {
			r.MedianEdgeLength = (lengths[mid-1] + lengths[mid]) / 2
		} else {
			r.MedianEdgeLength = lengths[mid]
		}
	}

	// Hard failures
	if r.NodeCount == 0 {
		r.Errors = append(r.Errors, "graph has no nodes")
	}
	if r.NodeCount > 0 && r.AvgEdgesPerNode < cfg.MinAvgEdges {
		r.Errors = append(r.Errors, fmt.Sprintf("average edges per node %.2f below %.2f", r.AvgEdgesPerNode, cfg.MinAvgEdges))
	}
	if r.IsolatedPercent > cfg.MaxIsolatedPercent {
		r.Errors = append(r.Errors, fmt.Sprintf("%.1f%% of nodes are isolated (max %.1f%%)", r.IsolatedPercent, cfg.MaxIsolatedPercent))
	}
	if r.NodeCount > 0 && float64(r.ConnectedComponents) > cfg.MaxComponentRatio*float64(r.NodeCount) {
		r.Errors = append(r.Errors, fmt.Sprintf("%d connected components for %d nodes", r.ConnectedComponents, r.NodeCount))
	}
	if cfg.SuspiciousEdgeLength > 0 && r.MaxEdgeLength > cfg.SuspiciousEdgeLength {
		r.Errors = append(r.Errors, fmt.Sprintf("longest edge %.1f exceeds %.1f", r.MaxEdgeLength, cfg.SuspiciousEdgeLength))
	}

	// Non-blocking warnings
	if r.NodeCount > 0 && r.AvgEdgesPerNode >= cfg.MinAvgEdges && r.AvgEdgesPerNode < cfg.WarnAvgEdges {
		r.Warnings = append(r.Warnings, fmt.Sprintf("average edges per node %.2f is low", r.AvgEdgesPerNode))
	}
	if r.IsolatedPercent > cfg.WarnIsolatedPercent && r.IsolatedPercent <= cfg.MaxIsolatedPercent {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%.1f%% of nodes are isolated", r.IsolatedPercent))
	}
	if r.NodeCount > 0 && r.NodeCount < cfg.MinNodeCount {
		r.Warnings = append(r.Warnings, fmt.Sprintf("only %d nodes", r.NodeCount))
	}
	if r.ConnectedComponents > 1 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("graph has %d connected components", r.ConnectedComponents))
	}
	for _, ie := range r.IntegrityErrors {
		r.Warnings = append(r.Warnings, ie.Error())
	}

	r.IsValid = len(r.Errors) == 0
	return r
}

// countComponents runs an iterative DFS over the undirected adjacency and
// returns the component count and the size of the largest one. Edges to
// missing nodes are skipped.
func countComponents(g *PathGraph) (int, int) {
	visited := make(map[string]bool, len(g.Nodes))
	components, largest := 0, 0
	var stack []string

	for _, id := range g.NodeIDs() {
		if visited[id] {
			continue
		}
		components++
		size := 0
		visited[id] = true
		stack = append(stack[:0], id)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++
			for _, e := range g.Adjacency[cur] {
				if _, ok := g.Nodes[e.To]; !ok || visited[e.To] {
					continue
				}
				visited[e.To] = true
				stack = append(stack, e.To)
			}
		}
		if size > largest {
			largest = size
		}
	}
	return components, largest
}
