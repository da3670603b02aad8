package nav

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridGraph builds a w x h lattice. Node ids are "r<row>c<col>".
func gridGraph(w, h int, spacing float64) *PathGraph {
	g := NewPathGraph()
	id := func(r, c int) string { return fmt.Sprintf("r%dc%d", r, c) }
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			g.AddNode(GraphNode{ID: id(r, c), Point: PlanePoint{X: float64(c) * spacing, Y: float64(r) * spacing}})
		}
	}
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if c+1 < w {
				g.AddEdge(id(r, c), id(r, c+1), spacing, nil, "", EdgePath)
			}
			if r+1 < h {
				g.AddEdge(id(r, c), id(r+1, c), spacing, nil, "", EdgePath)
			}
		}
	}
	return g
}

// lineGraph builds a-b-c-... along the x axis with the given spacing
func lineGraph(ids []string, spacing float64) *PathGraph {
	g := NewPathGraph()
	for i, id := range ids {
		g.AddNode(GraphNode{ID: id, Point: PlanePoint{X: float64(i) * spacing}})
	}
	for i := 1; i < len(ids); i++ {
		g.AddEdge(ids[i-1], ids[i], spacing, nil, "", EdgePath)
	}
	return g
}

func TestPathGraph_AddEdge(t *testing.T) {
	g := NewPathGraph()
	g.AddNode(GraphNode{ID: "a", Point: PlanePoint{X: 0, Y: 0}})
	g.AddNode(GraphNode{ID: "b", Point: PlanePoint{X: 3, Y: 4}})

	pts := []PlanePoint{{X: 1, Y: 0}, {X: 2, Y: 2}}
	require.True(t, g.AddEdge("a", "b", 6, pts, "Elm", EdgePath))

	assert.False(t, g.AddEdge("a", "b", 6, nil, "", EdgePath), "duplicate (to, distance)")
	assert.False(t, g.AddEdge("a", "a", 1, nil, "", EdgePath), "self-loop")
	assert.False(t, g.AddEdge("a", "zz", 1, nil, "", EdgePath), "unknown endpoint")
	assert.True(t, g.AddEdge("a", "b", 7, nil, "", EdgeBridge), "parallel edge with another distance")

	assert.Equal(t, 2, g.EdgeCount())
	require.Len(t, g.Adjacency["b"], 2)

	back := g.Adjacency["b"][0]
	assert.Equal(t, "a", back.To)
	assert.Equal(t, "Elm", back.Street)
	assert.Equal(t, []PlanePoint{{X: 2, Y: 2}, {X: 1, Y: 0}}, back.Points, "reverse edge reverses its geometry")
	assert.True(t, g.HasEdge("b", "a"))
}

func TestPathGraph_NearestNode(t *testing.T) {
	g := gridGraph(5, 5, 10)

	n, ok := g.NearestNode(PlanePoint{X: 21, Y: 9}, 0)
	require.True(t, ok)
	assert.Equal(t, "r1c2", n.ID)

	_, ok = g.NearestNode(PlanePoint{X: 500, Y: 500}, 50)
	assert.False(t, ok, "outside cutoff")

	// Equidistant from r0c0 and r0c1: the smaller id wins
	n, ok = g.NearestNode(PlanePoint{X: 5, Y: 0}, 0)
	require.True(t, ok)
	assert.Equal(t, "r0c0", n.ID)

	// Inclusive cutoff
	n, ok = g.NearestNode(PlanePoint{X: 0, Y: -3}, 3)
	require.True(t, ok)
	assert.Equal(t, "r0c0", n.ID)

	_, ok = NewPathGraph().NearestNode(PlanePoint{}, 0)
	assert.False(t, ok)
}

func TestPathGraph_NearestNodeAfterMutation(t *testing.T) {
	g := gridGraph(3, 3, 10)
	_, _ = g.NearestNode(PlanePoint{}, 0) // builds the index

	g.AddNode(GraphNode{ID: "far", Point: PlanePoint{X: 100, Y: 100}})
	n, ok := g.NearestNode(PlanePoint{X: 99, Y: 99}, 0)
	require.True(t, ok)
	assert.Equal(t, "far", n.ID)
}

func TestPathGraph_NodesWithin(t *testing.T) {
	g := gridGraph(3, 3, 10)
	got := g.NodesWithin(PlanePoint{X: 10, Y: 10}, 10)

	ids := make([]string, len(got))
	for i, n := range got {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"r1c1", "r0c1", "r1c0", "r1c2", "r2c1"}, ids)
	assert.Nil(t, g.NodesWithin(PlanePoint{}, -1))
}

func TestPathGraph_Merge(t *testing.T) {
	floor := lineGraph([]string{"a", "b"}, 5)
	g := NewPathGraph()
	g.Merge(floor, "f:1/")

	assert.Equal(t, []string{"f:1/a", "f:1/b"}, g.NodeIDs())
	require.Len(t, g.Adjacency["f:1/a"], 1)
	assert.Equal(t, "f:1/b", g.Adjacency["f:1/a"][0].To)
	assert.Equal(t, 1, g.EdgeCount())
}

func TestPathGraph_Bound(t *testing.T) {
	g := gridGraph(3, 2, 10)
	b := g.Bound()
	assert.Equal(t, [2]float64{0, 0}, [2]float64(b.Min))
	assert.Equal(t, [2]float64{20, 10}, [2]float64(b.Max))
}

func TestSaveLoadGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "graph.json")
	g := gridGraph(3, 3, 10)
	geo := GeoPoint{Lat: 40, Lng: -75}
	g.Nodes["r0c0"].Geo = &geo
	g.Nodes["r0c0"].Street = "Main"

	require.NoError(t, SaveGraph(path, g))
	loaded, err := LoadGraph(path)
	require.NoError(t, err)

	assert.Equal(t, g.NodeIDs(), loaded.NodeIDs())
	assert.Equal(t, g.EdgeCount(), loaded.EdgeCount())
	assert.Equal(t, *g.Nodes["r0c0"], *loaded.Nodes["r0c0"])

	n, ok := loaded.NearestNode(PlanePoint{X: 19, Y: 1}, 0)
	require.True(t, ok)
	assert.Equal(t, "r0c2", n.ID)
}

func TestLoadGraph_Errors(t *testing.T) {
	_, err := LoadGraph(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
