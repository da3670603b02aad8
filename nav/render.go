package nav

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var edgeColors = map[EdgeKind]color.RGBA{
	EdgePath:     {120, 120, 120, 255},
	EdgeBridge:   {230, 140, 20, 255},
	EdgePortal:   {140, 60, 200, 255},
	EdgeEntrance: {30, 160, 70, 255},
}

var (
	nodeColor     = color.RGBA{40, 40, 40, 255}
	isolatedColor = color.RGBA{220, 30, 30, 255}
	routeColor    = color.RGBA{20, 90, 230, 255}
)

// GraphRenderer draws a graph, and optionally a route over it, for
// inspecting build output. Sizes are in millimetres of canvas.
type GraphRenderer struct {
	Graph *PathGraph
	Route []PlanePoint

	Size       float64           // longest side of the drawing
	Padding    float64           // margin around the graph
	Resolution canvas.Resolution // PNG resolution
	ShowNodes  bool
}

// NewGraphRenderer creates a renderer with defaults that give a ~1000px PNG
func NewGraphRenderer(g *PathGraph) *GraphRenderer {
	return &GraphRenderer{
		Graph:      g,
		Size:       250,
		Padding:    10,
		Resolution: canvas.DPI(96),
		ShowNodes:  true,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// layout maps plane coordinates to canvas coordinates
type layout struct {
	minX, maxY float64
	scale      float64
	padding    float64
	width      float64
	height     float64
}

// toCanvas flips y: plane y grows downward, canvas y grows upward
func (l layout) toCanvas(p PlanePoint) (float64, float64) {
	return (p.X-l.minX)*l.scale + l.padding, (l.maxY-p.Y)*l.scale + l.padding
}

func (r *GraphRenderer) layout() (layout, error) {
	if r.Graph == nil || r.Graph.NodeCount() == 0 {
		return layout{}, fmt.Errorf("nothing to render: graph is empty")
	}
	b := r.Graph.Bound()
	for _, p := range r.Route {
		b = b.Extend(p.Orb())
	}
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	scale := 1.0
	if longest := math.Max(w, h); longest > 0 {
		scale = r.Size / longest
	}
	return layout{
		minX:    b.Min[0],
		maxY:    b.Max[1],
		scale:   scale,
		padding: r.Padding,
		width:   w*scale + 2*r.Padding,
		height:  h*scale + 2*r.Padding,
	}, nil
}

// RenderToSVG writes the graph as an SVG
func (r *GraphRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, l.width, l.height, nil)
	r.renderToCanvas(svgRenderer, l)
	return svgRenderer.Close()
}

// RenderToPNG writes the graph as a PNG with a text legend
func (r *GraphRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	rast := rasterizer.New(l.width, l.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, l)
	r.drawLegend(rast)
	return png.Encode(w, rast)
}

func (r *GraphRenderer) renderToCanvas(renderer canvasRenderer, l layout) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	g := r.Graph
	ids := g.NodeIDs()

	// Each bidirectional edge is drawn once, from its lower id
	for _, id := range ids {
		from := g.Nodes[id]
		for _, e := range g.Adjacency[id] {
			to, ok := g.Nodes[e.To]
			if !ok || e.To < id {
				continue
			}
			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: canvas.Transparent}
			style.Stroke = canvas.Paint{Color: edgeColors[e.Kind]}
			style.StrokeWidth = 0.4
			if e.Kind != EdgePath {
				style.Dashes = []float64{1.5, 1.0}
			}

			p := &canvas.Path{}
			p.MoveTo(l.toCanvas(from.Point))
			for _, mid := range e.Points {
				p.LineTo(l.toCanvas(mid))
			}
			p.LineTo(l.toCanvas(to.Point))
			renderer.RenderPath(p, style, canvas.Identity)
		}
	}

	if len(r.Route) > 1 {
		routeStyle := canvas.DefaultStyle
		routeStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		routeStyle.Stroke = canvas.Paint{Color: routeColor}
		routeStyle.StrokeWidth = 1.2

		p := &canvas.Path{}
		p.MoveTo(l.toCanvas(r.Route[0]))
		for _, pt := range r.Route[1:] {
			p.LineTo(l.toCanvas(pt))
		}
		renderer.RenderPath(p, routeStyle, canvas.Identity)
	}

	if r.ShowNodes {
		for _, id := range ids {
			n := g.Nodes[id]
			c := nodeColor
			if len(g.Adjacency[id]) == 0 {
				c = isolatedColor
			}
			nodeStyle := canvas.DefaultStyle
			nodeStyle.Fill = canvas.Paint{Color: c}
			nodeStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

			x, y := l.toCanvas(n.Point)
			dot := canvas.Circle(0.5)
			dot = dot.Translate(x, y)
			renderer.RenderPath(dot, nodeStyle, canvas.Identity)
		}
	}
}

// drawLegend writes counts and the edge colour key in the top-left corner
func (r *GraphRenderer) drawLegend(img draw.Image) {
	lines := []struct {
		text string
		c    color.RGBA
	}{
		{fmt.Sprintf("%d nodes, %d edges", r.Graph.NodeCount(), r.Graph.EdgeCount()), nodeColor},
		{"path", edgeColors[EdgePath]},
		{"bridge", edgeColors[EdgeBridge]},
		{"portal", edgeColors[EdgePortal]},
		{"entrance", edgeColors[EdgeEntrance]},
	}
	if len(r.Route) > 1 {
		lines = append(lines, struct {
			text string
			c    color.RGBA
		}{"route", routeColor})
	}

	y := 16
	for _, line := range lines {
		drawText(img, 10, y, line.text, line.c)
		y += 15
	}
}

// drawText renders text onto an image at the specified position
func drawText(img draw.Image, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
