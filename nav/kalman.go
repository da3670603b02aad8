package nav

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// resetPositionVariance is the initial position uncertainty (m^2)
	resetPositionVariance = 1e4
	// resetVelocityVariance is the initial velocity uncertainty ((m/s)^2)
	resetVelocityVariance = 25
)

// localFrame is an equirectangular east/north meters frame around an origin.
// It is accurate for the few kilometres a walking session covers.
type localFrame struct {
	origin GeoPoint
	cosLat float64
}

func newLocalFrame(origin GeoPoint) localFrame {
	return localFrame{origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

const metersPerRadian = orb.EarthRadius

func (f localFrame) toLocal(g GeoPoint) (east, north float64) {
	east = (g.Lng - f.origin.Lng) * math.Pi / 180 * metersPerRadian * f.cosLat
	north = (g.Lat - f.origin.Lat) * math.Pi / 180 * metersPerRadian
	return east, north
}

func (f localFrame) toGeo(east, north float64) GeoPoint {
	return GeoPoint{
		Lat: f.origin.Lat + north/metersPerRadian*180/math.Pi,
		Lng: f.origin.Lng + east/(metersPerRadian*f.cosLat)*180/math.Pi,
	}
}

// FilterState is the constant-velocity Kalman filter over [east, north,
// vEast, vNorth] in a local meters frame.
type FilterState struct {
	X [4]float64
	P [4][4]float64

	frame localFrame
}

// KalmanFilter smooths positions with a constant-velocity model. Process
// noise is white acceleration; measurement noise follows reported accuracy.
type KalmanFilter struct {
	state *FilterState

	processNoise  float64 // m/s^2
	minNoise      float64 // m
	maxNoise      float64 // m
	headingWeight float64
}

// NewKalmanFilter creates an uninitialised filter
func NewKalmanFilter(cfg FilterConfig) *KalmanFilter {
	return &KalmanFilter{
		processNoise:  cfg.ProcessNoise,
		minNoise:      cfg.MinMeasurementNoise,
		maxNoise:      cfg.MaxMeasurementNoise,
		headingWeight: cfg.HeadingWeight,
	}
}

// Initialized reports whether a first fix has been seen
func (k *KalmanFilter) Initialized() bool {
	return k.state != nil
}

// Reset reinitialises the state at g with high uncertainty
func (k *KalmanFilter) Reset(g GeoPoint) {
	s := &FilterState{frame: newLocalFrame(g)}
	s.P[0][0] = resetPositionVariance
	s.P[1][1] = resetPositionVariance
	s.P[2][2] = resetVelocityVariance
	s.P[3][3] = resetVelocityVariance
	k.state = s
}

// Clear drops the state; the next fix starts a new track
func (k *KalmanFilter) Clear() {
	k.state = nil
}

// PositionVariance is the mean of the east and north position variances
func (k *KalmanFilter) PositionVariance() float64 {
	if k.state == nil {
		return math.Inf(1)
	}
	return (k.state.P[0][0] + k.state.P[1][1]) / 2
}

// Velocity returns (vEast, vNorth) in m/s
func (k *KalmanFilter) Velocity() (float64, float64) {
	if k.state == nil {
		return 0, 0
	}
	return k.state.X[2], k.state.X[3]
}

// Predict advances the state by dt seconds
func (k *KalmanFilter) Predict(dt float64) {
	s := k.state
	if s == nil || dt <= 0 {
		return
	}

	s.X[0] += s.X[2] * dt
	s.X[1] += s.X[3] * dt

	// P = F P F^T with F = [[I, dt*I], [0, I]]
	var f [4][4]float64
	for i := 0; i < 4; i++ {
		f[i][i] = 1
	}
	f[0][2] = dt
	f[1][3] = dt
	s.P = mul4(mul4(f, s.P), transpose4(f))

	// Q for white acceleration, per axis [[dt^4/4, dt^3/2], [dt^3/2, dt^2]]
	q := k.processNoise * k.processNoise
	dt2 := dt * dt
	for axis := 0; axis < 2; axis++ {
		p, v := axis, axis+2
		s.P[p][p] += q * dt2 * dt2 / 4
		s.P[p][v] += q * dt2 * dt / 2
		s.P[v][p] += q * dt2 * dt / 2
		s.P[v][v] += q * dt2
	}
}

// Update corrects the state with a position measurement whose 1-sigma
// accuracy is clamped to the configured noise range.
func (k *KalmanFilter) Update(g GeoPoint, accuracy float64) {
	if k.state == nil {
		k.Reset(g)
	}
	s := k.state

	sigma := math.Min(math.Max(accuracy, k.minNoise), k.maxNoise)
	r := sigma * sigma

	zx, zy := s.frame.toLocal(g)
	y0 := zx - s.X[0]
	y1 := zy - s.X[1]

	// S = H P H^T + R, H selects the position rows
	s00 := s.P[0][0] + r
	s01 := s.P[0][1]
	s10 := s.P[1][0]
	s11 := s.P[1][1] + r
	det := s00*s11 - s01*s10
	if det == 0 {
		return
	}
	i00, i01 := s11/det, -s01/det
	i10, i11 := -s10/det, s00/det

	// K = P H^T S^-1 (4x2)
	var gain [4][2]float64
	for row := 0; row < 4; row++ {
		gain[row][0] = s.P[row][0]*i00 + s.P[row][1]*i10
		gain[row][1] = s.P[row][0]*i01 + s.P[row][1]*i11
	}

	for row := 0; row < 4; row++ {
		s.X[row] += gain[row][0]*y0 + gain[row][1]*y1
	}

	// P = (I - K H) P
	var next [4][4]float64
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			next[row][col] = s.P[row][col] - gain[row][0]*s.P[0][col] - gain[row][1]*s.P[1][col]
		}
	}
	// Keep P symmetric against rounding drift
	for row := 0; row < 4; row++ {
		for col := row + 1; col < 4; col++ {
			avg := (next[row][col] + next[col][row]) / 2
			next[row][col], next[col][row] = avg, avg
		}
	}
	s.P = next
}

// BlendHeading pulls the velocity toward the reported heading and speed
func (k *KalmanFilter) BlendHeading(headingDeg, speed float64) {
	s := k.state
	if s == nil || k.headingWeight <= 0 {
		return
	}
	rad := headingDeg * math.Pi / 180
	ve := speed * math.Sin(rad)
	vn := speed * math.Cos(rad)
	w := k.headingWeight
	s.X[2] = (1-w)*s.X[2] + w*ve
	s.X[3] = (1-w)*s.X[3] + w*vn
}

// Position returns the filtered position
func (k *KalmanFilter) Position() GeoPoint {
	if k.state == nil {
		return GeoPoint{}
	}
	return k.state.frame.toGeo(k.state.X[0], k.state.X[1])
}

func mul4(a, b [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

func transpose4(a [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}
