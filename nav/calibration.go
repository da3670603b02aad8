package nav

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geo"
)

// DefaultCalibrationCachePath is the default path for the fitted calibration cache
const DefaultCalibrationCachePath = ".calibration-cache.json"

// Calibration couples a fitted geo->plane transform with the coverage area
type Calibration struct {
	ControlPoints []ControlPoint  `json:"controlPoints"`
	Transform     AffineTransform `json:"transform"`
	Bounds        CoverageBounds  `json:"bounds"`
	LastUpdated   int64           `json:"lastUpdated"`
}

// NewCalibration fits a transform from control points.
// A CalibrationError is returned for fewer than 3 points, collinear or
// duplicate points, or a fit that cannot be inverted.
func NewCalibration(points []ControlPoint, bounds CoverageBounds) (*Calibration, error) {
	t, err := ComputeTransform(points)
	if err != nil {
		return nil, err
	}
	return &Calibration{
		ControlPoints: append([]ControlPoint(nil), points...),
		Transform:     t,
		Bounds:        bounds,
		LastUpdated:   time.Now().Unix(),
	}, nil
}

// ComputeTransform fits plane = f(lng, lat) by least squares.
// Both axes share one design matrix [lng lat 1], so one 3x3 normal matrix is
// built and solved twice. Inputs are centered on their centroids first; degree
// values are large relative to their spread and the uncentered normal matrix
// is badly conditioned.
func ComputeTransform(points []ControlPoint) (AffineTransform, error) {
	n := len(points)
	if n < 3 {
		return AffineTransform{}, &CalibrationError{Reason: "at least 3 control points required", Points: n}
	}

	var mLng, mLat, mX, mY float64
	for _, p := range points {
		mLng += p.Geo.Lng
		mLat += p.Geo.Lat
		mX += p.Plane.X
		mY += p.Plane.Y
	}
	fn := float64(n)
	mLng /= fn
	mLat /= fn
	mX /= fn
	mY /= fn

	// Normal equations over centered inputs
	var suu, suv, svv, su, sv float64
	var sux, svx, sx, suy, svy, sy float64
	for _, p := range points {
		u := p.Geo.Lng - mLng
		v := p.Geo.Lat - mLat
		x := p.Plane.X - mX
		y := p.Plane.Y - mY

		suu += u * u
		suv += u * v
		svv += v * v
		su += u
		sv += v

		sux += u * x
		svx += v * x
		sx += x
		suy += u * y
		svy += v * y
		sy += y
	}

	if suu == 0 || svv == 0 {
		return AffineTransform{}, &CalibrationError{Reason: "control points do not span both axes", Points: n}
	}

	// Collinear points make the 2x2 moment matrix singular. Compare against
	// suu*svv so the check is independent of the coordinate scale.
	if math.Abs(suu*svv-suv*suv)/(suu*svv) < 1e-9 {
		return AffineTransform{}, &CalibrationError{Reason: "control points are collinear or duplicated", Points: n}
	}

	normal := [3][3]float64{
		{suu, suv, su},
		{suv, svv, sv},
		{su, sv, fn},
	}

	xs, ok := solve3x3(normal, [3]float64{sux, svx, sx})
	if !ok {
		return AffineTransform{}, &CalibrationError{Reason: "normal matrix is singular", Points: n}
	}
	ys, ok := solve3x3(normal, [3]float64{suy, svy, sy})
	if !ok {
		return AffineTransform{}, &CalibrationError{Reason: "normal matrix is singular", Points: n}
	}

	// Undo centering: x = a(lng-mLng) + b(lat-mLat) + c + mX
	t := AffineTransform{
		A: xs[0],
		B: xs[1],
		C: xs[2] + mX - xs[0]*mLng - xs[1]*mLat,
		D: ys[0],
		E: ys[1],
		F: ys[2] + mY - ys[0]*mLng - ys[1]*mLat,
	}

	if t.isDegenerate() {
		return AffineTransform{}, &CalibrationError{Reason: "fitted transform is not invertible", Points: n}
	}
	return t, nil
}

// GeoToPlane projects a geo coordinate onto the plane
func (c *Calibration) GeoToPlane(lat, lng float64) PlanePoint {
	return c.Transform.Apply(GeoPoint{Lat: lat, Lng: lng})
}

// PlaneToGeo inverts the transform
func (c *Calibration) PlaneToGeo(x, y float64) (GeoPoint, error) {
	return c.Transform.Invert(PlanePoint{X: x, Y: y})
}

// IsWithinBounds reports whether g lies inside the coverage rectangle.
// With no bounds configured every point is in coverage.
func (c *Calibration) IsWithinBounds(g GeoPoint) bool {
	b := c.Bounds
	if b.IsZero() {
		return true
	}
	return g.Lat >= b.MinLat && g.Lat <= b.MaxLat && g.Lng >= b.MinLng && g.Lng <= b.MaxLng
}

// MetersPerUnit estimates how many meters one plane unit spans near the
// centroid of the control points.
func (c *Calibration) MetersPerUnit() float64 {
	if len(c.ControlPoints) == 0 {
		return 1
	}
	var lat, lng float64
	for _, p := range c.ControlPoints {
		lat += p.Geo.Lat
		lng += p.Geo.Lng
	}
	lat /= float64(len(c.ControlPoints))
	lng /= float64(len(c.ControlPoints))

	origin := c.GeoToPlane(lat, lng)
	step := 1e-4
	east := c.GeoToPlane(lat, lng+step)
	meters := HaversineMeters(GeoPoint{Lat: lat, Lng: lng}, GeoPoint{Lat: lat, Lng: lng + step})
	units := Distance(origin, east)
	if units == 0 {
		return 1
	}
	return meters / units
}

// Residual is the fit error at one control point
type Residual struct {
	Name         string  `json:"name"`
	PlaneError   float64 `json:"planeError"`   // plane units
	RoundTripDeg float64 `json:"roundTripDeg"` // degrees after geo->plane->geo
}

// Residuals reports how well each control point is reproduced
func (c *Calibration) Residuals() []Residual {
	out := make([]Residual, 0, len(c.ControlPoints))
	for _, cp := range c.ControlPoints {
		projected := c.GeoToPlane(cp.Geo.Lat, cp.Geo.Lng)
		r := Residual{Name: cp.Name, PlaneError: Distance(projected, cp.Plane)}
		if back, err := c.PlaneToGeo(projected.X, projected.Y); err == nil {
			r.RoundTripDeg = math.Max(math.Abs(back.Lat-cp.Geo.Lat), math.Abs(back.Lng-cp.Geo.Lng))
		} else {
			r.RoundTripDeg = math.Inf(1)
		}
		out = append(out, r)
	}
	return out
}

// HaversineMeters is the great-circle distance between two geo points
func HaversineMeters(a, b GeoPoint) float64 {
	return geo.DistanceHaversine(a.Orb(), b.Orb())
}

// BearingDeg is the initial compass bearing from a to b in [0, 360)
func BearingDeg(a, b GeoPoint) float64 {
	return NormalizeAngle(geo.Bearing(a.Orb(), b.Orb()))
}

// LoadCalibration loads a fitted calibration from a JSON cache file.
// A missing file is not an error; nil is returned.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}
	if cal.Transform.isDegenerate() {
		return nil, &CalibrationError{Reason: "cached transform is not invertible", Points: len(cal.ControlPoints)}
	}

	return &cal, nil
}

// SaveCalibration writes the calibration to a JSON cache file
func SaveCalibration(path string, cal *Calibration) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}

	cal.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}

	return nil
}

// NeedsRecalibration reports whether the cached fit no longer matches the
// configured control points.
func (c *Calibration) NeedsRecalibration(points []ControlPoint) bool {
	if c == nil || len(c.ControlPoints) != len(points) {
		return true
	}
	for i := range points {
		if c.ControlPoints[i] != points[i] {
			return true
		}
	}
	return false
}
