package nav

import (
	"math"
)

// Apply maps a geo coordinate onto the plane
// x = A*lng + B*lat + C
// y = D*lng + E*lat + F
func (t AffineTransform) Apply(g GeoPoint) PlanePoint {
	return PlanePoint{
		X: t.A*g.Lng + t.B*g.Lat + t.C,
		Y: t.D*g.Lng + t.E*g.Lat + t.F,
	}
}

// Determinant of the 2x2 linear part
func (t AffineTransform) Determinant() float64 {
	return t.A*t.E - t.B*t.D
}

// isDegenerate compares the determinant against the magnitude of the
// linear coefficients, so degree-scaled matrices are judged fairly.
func (t AffineTransform) isDegenerate() bool {
	scale := math.Max(math.Abs(t.A), math.Abs(t.B)) * math.Max(math.Abs(t.D), math.Abs(t.E))
	if scale == 0 {
		return true
	}
	return math.Abs(t.Determinant())/scale < 1e-12
}

// Invert solves the linear part for (lng, lat) with Cramer's rule
func (t AffineTransform) Invert(p PlanePoint) (GeoPoint, error) {
	if t.isDegenerate() {
		return GeoPoint{}, &CalibrationError{Reason: "transform is not invertible"}
	}
	det := t.Determinant()
	rx := p.X - t.C
	ry := p.Y - t.F

	lng := (rx*t.E - t.B*ry) / det
	lat := (t.A*ry - rx*t.D) / det
	return GeoPoint{Lat: lat, Lng: lng}, nil
}

// RotationDeg is the rotation component of the transform, in degrees.
// Headings measured clockwise from north can be turned into plane
// angles by adding this value.
func (t AffineTransform) RotationDeg() float64 {
	return math.Atan2(t.D, t.A) * 180 / math.Pi
}

// NormalizeAngle normalizes an angle in degrees to the range [0, 360).
func NormalizeAngle(degrees float64) float64 {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	return degrees
}

// AngleDelta returns the signed shortest rotation from a to b in (-180, 180]
func AngleDelta(a, b float64) float64 {
	d := NormalizeAngle(b - a)
	if d > 180 {
		d -= 360
	}
	return d
}

// solve3x3 solves m*x = b using Cramer's rule.
// Returns false if the system is singular.
func solve3x3(m [3][3]float64, b [3]float64) ([3]float64, bool) {
	det := det3(m)
	if det == 0 || math.IsNaN(det) {
		return [3]float64{}, false
	}

	var out [3]float64
	for col := 0; col < 3; col++ {
		mc := m
		for row := 0; row < 3; row++ {
			mc[row][col] = b[row]
		}
		out[col] = det3(mc) / det
	}
	return out, true
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// Distance calculates Euclidean distance between two plane points
func Distance(p1, p2 PlanePoint) float64 {
	dx := p2.X - p1.X
	dy := p2.Y - p1.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid calculates the center of mass of a set of points
func Centroid(points []PlanePoint) PlanePoint {
	if len(points) == 0 {
		return PlanePoint{}
	}
	var sumX, sumY float64
	for _, p := range points {
		sumX += p.X
		sumY += p.Y
	}
	n := float64(len(points))
	return PlanePoint{X: sumX / n, Y: sumY / n}
}

// projectOntoSegment returns the closest point on segment ab to p and the
// clamped parameter t in [0, 1].
func projectOntoSegment(p, a, b PlanePoint) (PlanePoint, float64) {
	dx := b.X - a.X
	dy := b.Y - a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a, 0
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return PlanePoint{X: a.X + t*dx, Y: a.Y + t*dy}, t
}
