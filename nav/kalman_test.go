package nav

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kalmanOrigin = GeoPoint{Lat: 40, Lng: -75}

// offset returns the point east/north meters from kalmanOrigin
func offset(east, north float64) GeoPoint {
	return newLocalFrame(kalmanOrigin).toGeo(east, north)
}

func TestLocalFrame_RoundTrip(t *testing.T) {
	f := newLocalFrame(kalmanOrigin)
	g := f.toGeo(120, -45)
	e, n := f.toLocal(g)
	assert.InDelta(t, 120, e, 1e-6)
	assert.InDelta(t, -45, n, 1e-6)

	assert.InDelta(t, 100, HaversineMeters(kalmanOrigin, offset(0, 100)), 0.01)
	assert.InDelta(t, 100, HaversineMeters(kalmanOrigin, offset(100, 0)), 0.01)
}

func TestKalmanFilter_FirstUpdateInitializes(t *testing.T) {
	k := NewKalmanFilter(DefaultConfig().Filter)
	assert.False(t, k.Initialized())
	assert.True(t, math.IsInf(k.PositionVariance(), 1))
	assert.Equal(t, GeoPoint{}, k.Position())

	k.Update(kalmanOrigin, 5)
	require.True(t, k.Initialized())
	assert.Equal(t, kalmanOrigin, k.Position())
	assert.Less(t, k.PositionVariance(), resetPositionVariance)
}

func TestKalmanFilter_VarianceShrinks(t *testing.T) {
	k := NewKalmanFilter(DefaultConfig().Filter)
	k.Update(kalmanOrigin, 5)
	first := k.PositionVariance()

	prev := first
	for i := 0; i < 20; i++ {
		k.Predict(1)
		k.Update(kalmanOrigin, 5)
		v := k.PositionVariance()
		assert.LessOrEqual(t, v, prev+1e-9, "step %d", i)
		prev = v
	}
	assert.Less(t, prev, first)
	assert.Less(t, prev, 25.0, "below a single measurement's variance")
}

func TestKalmanFilter_PredictGrowsVariance(t *testing.T) {
	k := NewKalmanFilter(DefaultConfig().Filter)
	k.Update(kalmanOrigin, 5)
	before := k.PositionVariance()
	k.Predict(2)
	assert.Greater(t, k.PositionVariance(), before)

	// Non-positive steps are ignored
	after := k.PositionVariance()
	k.Predict(0)
	k.Predict(-1)
	assert.Equal(t, after, k.PositionVariance())
}

func TestKalmanFilter_TracksConstantVelocity(t *testing.T) {
	k := NewKalmanFilter(DefaultConfig().Filter)
	for i := 0; i <= 30; i++ {
		if i > 0 {
			k.Predict(1)
		}
		k.Update(offset(float64(i), 0), 3)
	}

	ve, vn := k.Velocity()
	assert.InDelta(t, 1.0, ve, 0.2)
	assert.InDelta(t, 0.0, vn, 0.2)
	assert.InDelta(t, 0, HaversineMeters(k.Position(), offset(30, 0)), 1.5)
}

func TestKalmanFilter_AccuracyClamp(t *testing.T) {
	tight := NewKalmanFilter(DefaultConfig().Filter)
	tight.Update(kalmanOrigin, 0)
	clamped := NewKalmanFilter(DefaultConfig().Filter)
	clamped.Update(kalmanOrigin, 3)
	assert.Equal(t, clamped.PositionVariance(), tight.PositionVariance(), "accuracy below the floor uses the floor")

	loose := NewKalmanFilter(DefaultConfig().Filter)
	loose.Update(kalmanOrigin, 5000)
	capped := NewKalmanFilter(DefaultConfig().Filter)
	capped.Update(kalmanOrigin, 50)
	assert.Equal(t, capped.PositionVariance(), loose.PositionVariance())
}

func TestKalmanFilter_BlendHeading(t *testing.T) {
	cfg := DefaultConfig().Filter
	k := NewKalmanFilter(cfg)
	k.BlendHeading(90, 2) // no state yet
	k.Update(kalmanOrigin, 5)

	k.BlendHeading(90, 2)
	ve, vn := k.Velocity()
	assert.InDelta(t, cfg.HeadingWeight*2, ve, 1e-9)
	assert.InDelta(t, 0, vn, 1e-9)

	k.Clear()
	assert.False(t, k.Initialized())
}

func TestKalmanFilter_Reset(t *testing.T) {
	k := NewKalmanFilter(DefaultConfig().Filter)
	k.Update(kalmanOrigin, 5)
	target := offset(500, 500)
	k.Reset(target)

	assert.Equal(t, target, k.Position())
	assert.Equal(t, float64(resetPositionVariance), k.PositionVariance())
}
