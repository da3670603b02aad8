package nav

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/tdewolff/canvas"
)

// Group ids that mark the path and portal layers of an SVG plan
const (
	svgPathsLayer   = "paths"
	svgPortalsLayer = "portals"

	// curveTolerance is the maximum deviation, in plane units, of a
	// flattened curve from the true one
	curveTolerance = 0.05
)

// svgElement is a generic SVG node; only the attributes the plan reader
// needs are looked up, by local name.
type svgElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []svgElement `xml:",any"`
}

func (e *svgElement) attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (e *svgElement) floatAttr(name string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(e.attr(name)), 64)
	return v
}

// layerName is the group id, or the Inkscape layer label when present
func (e *svgElement) layerName() string {
	if label := e.attr("label"); label != "" {
		return strings.ToLower(label)
	}
	return strings.ToLower(e.attr("id"))
}

// ParseSVGPlan reads the <g id="paths"> and <g id="portals"> layers of an
// SVG plan. Path elements may carry a data-street attribute. Portal markers
// are circles or rects whose id encodes the portal.
func ParseSVGPlan(data []byte) (*FloorPlan, error) {
	var root svgElement
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("parsing SVG plan: %w", err)
	}

	plan := &FloorPlan{}
	var walk func(e *svgElement)
	walk = func(e *svgElement) {
		if e.XMLName.Local == "g" {
			switch e.layerName() {
			case svgPathsLayer:
				collectSVGPaths(e, "", plan)
				return
			case svgPortalsLayer:
				collectSVGPortals(e, plan)
				return
			}
		}
		for i := range e.Children {
			walk(&e.Children[i])
		}
	}
	walk(&root)

	return plan, nil
}

func collectSVGPaths(e *svgElement, street string, plan *FloorPlan) {
	if s := e.attr("data-street"); s != "" {
		street = s
	}

	switch e.XMLName.Local {
	case "line":
		plan.Paths = append(plan.Paths, PathLine{
			Points: []PlanePoint{
				{X: e.floatAttr("x1"), Y: e.floatAttr("y1")},
				{X: e.floatAttr("x2"), Y: e.floatAttr("y2")},
			},
			Street: street,
		})
	case "polyline", "polygon":
		pts := parsePointList(e.attr("points"))
		if e.XMLName.Local == "polygon" && len(pts) > 2 {
			pts = append(pts, pts[0])
		}
		if len(pts) >= 2 {
			plan.Paths = append(plan.Paths, PathLine{Points: pts, Street: street})
		}
	case "path":
		subpaths, err := parsePathData(e.attr("d"))
		if err != nil {
			log.Printf("[plan] skipping path %q: %v", e.attr("id"), err)
			return
		}
		for _, sp := range subpaths {
			if len(sp) >= 2 {
				plan.Paths = append(plan.Paths, PathLine{Points: simplifyLine(sp, curveTolerance), Street: street})
			}
		}
	}

	for i := range e.Children {
		collectSVGPaths(&e.Children[i], street, plan)
	}
}

func collectSVGPortals(e *svgElement, plan *FloorPlan) {
	var center PlanePoint
	var isMarker bool

	switch e.XMLName.Local {
	case "circle", "ellipse":
		center = PlanePoint{X: e.floatAttr("cx"), Y: e.floatAttr("cy")}
		isMarker = true
	case "rect":
		center = PlanePoint{
			X: e.floatAttr("x") + e.floatAttr("width")/2,
			Y: e.floatAttr("y") + e.floatAttr("height")/2,
		}
		isMarker = true
	}

	if isMarker {
		id, err := ParsePortalID(e.attr("id"))
		if err != nil {
			log.Printf("[plan] skipping portal marker: %v", err)
		} else {
			plan.Portals = append(plan.Portals, Portal{Key: id.Key, FloorID: id.FloorID, Point: center})
		}
	}

	for i := range e.Children {
		collectSVGPortals(&e.Children[i], plan)
	}
}

// parsePointList reads the points attribute of polyline/polygon as the
// implicit lineto sequence it is equivalent to. Odd coordinate counts
// are rejected.
func parsePointList(s string) []PlanePoint {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	lines, err := parsePathData("M" + s)
	if err != nil || len(lines) == 0 {
		return nil
	}
	return lines[0]
}

// parsePathData flattens SVG path data into polylines, one per subpath.
// Beziers and elliptical arcs are flattened to within curveTolerance.
func parsePathData(d string) ([][]PlanePoint, error) {
	p, err := canvas.ParseSVGPath(d)
	if err != nil {
		return nil, err
	}

	var out [][]PlanePoint
	for _, sub := range p.Flatten(curveTolerance).Split() {
		coords := sub.Coords()
		if len(coords) < 2 {
			continue
		}
		line := make([]PlanePoint, len(coords))
		for i, c := range coords {
			line[i] = PlanePoint{X: c.X, Y: c.Y}
		}
		out = append(out, line)
	}
	return out, nil
}
