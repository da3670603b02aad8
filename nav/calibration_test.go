package nav

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

// campusPoints are three landmarks on a plan drawn at roughly 0.1 m per
// unit, rotated a few degrees against north.
var campusPoints = []ControlPoint{
	{Name: "gate", Geo: GeoPoint{Lat: 40.00000, Lng: -75.00000}, Plane: PlanePoint{X: 100, Y: 900}},
	{Name: "library", Geo: GeoPoint{Lat: 40.00050, Lng: -74.99900}, Plane: PlanePoint{X: 960, Y: 380}},
	{Name: "tower", Geo: GeoPoint{Lat: 40.00120, Lng: -75.00030}, Plane: PlanePoint{X: -120, Y: -460}},
}

func TestComputeTransform_ReprojectsLandmark(t *testing.T) {
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	if err != nil {
		t.Fatalf("NewCalibration() error = %v", err)
	}

	lib := campusPoints[1]
	got := cal.GeoToPlane(lib.Geo.Lat, lib.Geo.Lng)
	if math.Abs(got.X-lib.Plane.X) > 1e-6 || math.Abs(got.Y-lib.Plane.Y) > 1e-6 {
		t.Errorf("GeoToPlane(library) = %+v, want %+v", got, lib.Plane)
	}
}

func TestCalibration_RoundTrip(t *testing.T) {
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	if err != nil {
		t.Fatalf("NewCalibration() error = %v", err)
	}

	for _, cp := range campusPoints {
		p := cal.GeoToPlane(cp.Geo.Lat, cp.Geo.Lng)
		back, err := cal.PlaneToGeo(p.X, p.Y)
		if err != nil {
			t.Fatalf("PlaneToGeo(%s) error = %v", cp.Name, err)
		}
		if math.Abs(back.Lat-cp.Geo.Lat) > 1e-6 || math.Abs(back.Lng-cp.Geo.Lng) > 1e-6 {
			t.Errorf("%s round trip = %+v, want %+v", cp.Name, back, cp.Geo)
		}
	}

	for _, r := range cal.Residuals() {
		if r.PlaneError > 1e-6 {
			t.Errorf("%s plane residual = %g", r.Name, r.PlaneError)
		}
		if r.RoundTripDeg > 1e-6 {
			t.Errorf("%s round trip residual = %g", r.Name, r.RoundTripDeg)
		}
	}
}

func TestComputeTransform_LeastSquares(t *testing.T) {
	// Four points from an exact transform; the fit must recover it
	truth := AffineTransform{A: 80000, B: -5000, C: 6000000, D: 3000, E: -110000, F: 4400000}
	var pts []ControlPoint
	for _, g := range []GeoPoint{
		{Lat: 40.000, Lng: -75.000},
		{Lat: 40.001, Lng: -75.000},
		{Lat: 40.000, Lng: -74.998},
		{Lat: 40.002, Lng: -74.999},
	} {
		pts = append(pts, ControlPoint{Geo: g, Plane: truth.Apply(g)})
	}

	got, err := ComputeTransform(pts)
	if err != nil {
		t.Fatalf("ComputeTransform() error = %v", err)
	}
	probe := GeoPoint{Lat: 40.0015, Lng: -74.9985}
	want := truth.Apply(probe)
	if p := got.Apply(probe); Distance(p, want) > 1e-4 {
		t.Errorf("Apply(probe) = %+v, want %+v", p, want)
	}
}

func TestComputeTransform_Errors(t *testing.T) {
	tests := []struct {
		name   string
		points []ControlPoint
	}{
		{"none", nil},
		{"two points", campusPoints[:2]},
		{"collinear", []ControlPoint{
			{Geo: GeoPoint{Lat: 40.000, Lng: -75.000}, Plane: PlanePoint{X: 0, Y: 0}},
			{Geo: GeoPoint{Lat: 40.001, Lng: -74.999}, Plane: PlanePoint{X: 10, Y: 10}},
			{Geo: GeoPoint{Lat: 40.002, Lng: -74.998}, Plane: PlanePoint{X: 20, Y: 20}},
		}},
		{"duplicated", []ControlPoint{campusPoints[0], campusPoints[0], campusPoints[0]}},
		{"same latitude", []ControlPoint{
			{Geo: GeoPoint{Lat: 40, Lng: -75.000}, Plane: PlanePoint{X: 0, Y: 0}},
			{Geo: GeoPoint{Lat: 40, Lng: -74.999}, Plane: PlanePoint{X: 10, Y: 0}},
			{Geo: GeoPoint{Lat: 40, Lng: -74.998}, Plane: PlanePoint{X: 20, Y: 5}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeTransform(tt.points)
			var calErr *CalibrationError
			if !errors.As(err, &calErr) {
				t.Fatalf("ComputeTransform() error = %v, want *CalibrationError", err)
			}
			if calErr.Points != len(tt.points) {
				t.Errorf("Points = %d, want %d", calErr.Points, len(tt.points))
			}
		})
	}
}

func TestCalibration_IsWithinBounds(t *testing.T) {
	bounds := CoverageBounds{MinLat: 39.99, MinLng: -75.01, MaxLat: 40.01, MaxLng: -74.99}
	cal, err := NewCalibration(campusPoints, bounds)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		p    GeoPoint
		want bool
	}{
		{"inside", GeoPoint{Lat: 40, Lng: -75}, true},
		{"on edge", GeoPoint{Lat: 40.01, Lng: -74.99}, true},
		{"north", GeoPoint{Lat: 40.02, Lng: -75}, false},
		{"west", GeoPoint{Lat: 40, Lng: -75.02}, false},
	}
	for _, tt := range tests {
		if got := cal.IsWithinBounds(tt.p); got != tt.want {
			t.Errorf("%s: IsWithinBounds(%+v) = %v, want %v", tt.name, tt.p, got, tt.want)
		}
	}

	cal.Bounds = CoverageBounds{}
	if !cal.IsWithinBounds(GeoPoint{Lat: -33, Lng: 151}) {
		t.Error("no bounds configured should cover everything")
	}
}

func TestCalibration_MetersPerUnit(t *testing.T) {
	// 1 plane unit per 0.00001 degrees of longitude, about 0.85 m at 40N
	pts := []ControlPoint{
		{Geo: GeoPoint{Lat: 40.000, Lng: -75.000}, Plane: PlanePoint{X: 0, Y: 0}},
		{Geo: GeoPoint{Lat: 40.000, Lng: -74.999}, Plane: PlanePoint{X: 100, Y: 0}},
		{Geo: GeoPoint{Lat: 40.001, Lng: -75.000}, Plane: PlanePoint{X: 0, Y: -100}},
	}
	cal, err := NewCalibration(pts, CoverageBounds{})
	if err != nil {
		t.Fatal(err)
	}
	if got := cal.MetersPerUnit(); math.Abs(got-0.852) > 0.01 {
		t.Errorf("MetersPerUnit() = %.4f, want ~0.852", got)
	}
}

func TestCalibration_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "cal.json")
	cal, err := NewCalibration(campusPoints, CoverageBounds{})
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveCalibration(path, cal); err != nil {
		t.Fatalf("SaveCalibration() error = %v", err)
	}

	loaded, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration() error = %v", err)
	}
	if loaded.Transform != cal.Transform {
		t.Errorf("Transform = %+v, want %+v", loaded.Transform, cal.Transform)
	}
	if loaded.NeedsRecalibration(campusPoints) {
		t.Error("cached calibration should match its own control points")
	}

	moved := append([]ControlPoint(nil), campusPoints...)
	moved[2].Plane.X += 1
	if !loaded.NeedsRecalibration(moved) {
		t.Error("changed control point should require recalibration")
	}
}

func TestLoadCalibration_Missing(t *testing.T) {
	cal, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil || cal != nil {
		t.Errorf("LoadCalibration(missing) = %v, %v; want nil, nil", cal, err)
	}
}

func TestHaversineAndBearing(t *testing.T) {
	a := GeoPoint{Lat: 40, Lng: -75}
	north := GeoPoint{Lat: 40.001, Lng: -75}
	east := GeoPoint{Lat: 40, Lng: -74.999}

	if d := HaversineMeters(a, north); math.Abs(d-111.2) > 0.5 {
		t.Errorf("HaversineMeters(north) = %.2f, want ~111.2", d)
	}
	if b := BearingDeg(a, north); math.Abs(b) > 1e-6 && math.Abs(b-360) > 1e-6 {
		t.Errorf("BearingDeg(north) = %.4f, want 0", b)
	}
	if b := BearingDeg(a, east); math.Abs(b-90) > 0.01 {
		t.Errorf("BearingDeg(east) = %.4f, want 90", b)
	}
}

func TestAngles(t *testing.T) {
	tests := []struct {
		a, b, want float64
	}{
		{10, 30, 20},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{90, 270, 180},
	}
	for _, tt := range tests {
		if got := AngleDelta(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("AngleDelta(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}

	if got := NormalizeAngle(-90); got != 270 {
		t.Errorf("NormalizeAngle(-90) = %v, want 270", got)
	}
	if got := NormalizeAngle(720); got != 0 {
		t.Errorf("NormalizeAngle(720) = %v, want 0", got)
	}
}

func TestProjectOntoSegment(t *testing.T) {
	a, b := PlanePoint{X: 0, Y: 0}, PlanePoint{X: 10, Y: 0}
	tests := []struct {
		p     PlanePoint
		want  PlanePoint
		wantT float64
	}{
		{PlanePoint{X: 5, Y: 3}, PlanePoint{X: 5, Y: 0}, 0.5},
		{PlanePoint{X: -4, Y: 1}, a, 0},
		{PlanePoint{X: 14, Y: -2}, b, 1},
	}
	for _, tt := range tests {
		got, gotT := projectOntoSegment(tt.p, a, b)
		if got != tt.want || gotT != tt.wantT {
			t.Errorf("projectOntoSegment(%+v) = %+v, %v; want %+v, %v", tt.p, got, gotT, tt.want, tt.wantT)
		}
	}

	if got, _ := projectOntoSegment(PlanePoint{X: 3, Y: 3}, a, a); got != a {
		t.Errorf("degenerate segment = %+v, want %+v", got, a)
	}
}
