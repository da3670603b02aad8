package nav

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"
)

// PathLine is one polyline from a plan's path layer
type PathLine struct {
	Points []PlanePoint
	Street string
}

// FloorPlan is the routable content of one plan file: the path layer and the
// portal layer. Portals carry no floor until the plan is attached to a floor.
type FloorPlan struct {
	Paths   []PathLine
	Portals []Portal
}

// Feature properties read from GeoJSON plans
const (
	propLayer    = "layer"
	propStreet   = "street"
	propName     = "name"
	propPortalID = "portalId"

	layerPortal = "portal"
)

// LoadFloorPlan reads a GeoJSON or SVG plan from disk.
// GeoJSON coordinates are geographic and are projected through cal; a nil cal
// means the file is already in plane units.
func LoadFloorPlan(path string, cal *Calibration) (*FloorPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return ParseSVGPlan(data)
	case ".geojson", ".json":
		return ParseGeoJSONPlan(data, cal)
	default:
		return nil, fmt.Errorf("unsupported plan format: %s", path)
	}
}

// ParseGeoJSONPlan extracts LineString/MultiLineString features as paths and
// Point features tagged layer=portal as portals.
func ParseGeoJSONPlan(data []byte, cal *Calibration) (*FloorPlan, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON plan: %w", err)
	}

	project := func(p orb.Point) PlanePoint {
		if cal == nil {
			return planeFromOrb(p)
		}
		return cal.GeoToPlane(p[1], p[0])
	}

	plan := &FloorPlan{}
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		street := f.Properties.MustString(propStreet, f.Properties.MustString(propName, ""))

		switch g := f.Geometry.(type) {
		case orb.LineString:
			plan.addLine(g, street, project)
		case orb.MultiLineString:
			for _, ls := range g {
				plan.addLine(ls, street, project)
			}
		case orb.Point:
			if f.Properties.MustString(propLayer, "") != layerPortal {
				continue
			}
			id := f.Properties.MustString(propPortalID, "")
			if id == "" {
				if s, ok := f.ID.(string); ok {
					id = s
				}
			}
			parsed, err := ParsePortalID(id)
			if err != nil {
				log.Printf("[plan] skipping portal feature %d: %v", i, err)
				continue
			}
			plan.Portals = append(plan.Portals, Portal{Key: parsed.Key, FloorID: parsed.FloorID, Point: project(g)})
		}
	}

	return plan, nil
}

func (fp *FloorPlan) addLine(ls orb.LineString, street string, project func(orb.Point) PlanePoint) {
	if len(ls) < 2 {
		return
	}
	pts := make([]PlanePoint, len(ls))
	for i, p := range ls {
		pts[i] = project(p)
	}
	fp.Paths = append(fp.Paths, PathLine{Points: pts, Street: street})
}

// simplifyLine drops vertices that deviate less than tolerance from the line
// through their neighbours. Endpoints are always kept.
func simplifyLine(pts []PlanePoint, tolerance float64) []PlanePoint {
	if len(pts) < 3 || tolerance <= 0 {
		return pts
	}
	ls := make(orb.LineString, len(pts))
	for i, p := range pts {
		ls[i] = p.Orb()
	}
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString)
	if !ok || len(simplified) < 2 {
		return pts
	}
	out := make([]PlanePoint, len(simplified))
	for i, p := range simplified {
		out[i] = planeFromOrb(p)
	}
	return out
}
