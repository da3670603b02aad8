package nav

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func fixAt(east, north, accuracy float64, after time.Duration) DeviceFix {
	return DeviceFix{Geo: offset(east, north), Accuracy: accuracy, Timestamp: t0.Add(after)}
}

func plainFilterConfig() FilterConfig {
	cfg := DefaultConfig().Filter
	cfg.KalmanEnabled = false
	return cfg
}

func TestPositionFilter_FirstFixPassesThrough(t *testing.T) {
	for _, kalman := range []bool{false, true} {
		cfg := DefaultConfig().Filter
		cfg.KalmanEnabled = kalman
		f := NewPositionFilter(cfg, nil)

		pos, err := f.Process(fixAt(0, 0, 5, 0))
		require.NoError(t, err)
		assert.Equal(t, kalmanOrigin, pos.Geo())
		assert.Equal(t, kalman, pos.KalmanActive)
		assert.Equal(t, t0, pos.Timestamp)
		assert.False(t, pos.OutOfBounds)
	}
}

func TestPositionFilter_Gates(t *testing.T) {
	tests := []struct {
		name   string
		second DeviceFix
		reason RejectReason
	}{
		{"inaccurate", fixAt(1, 0, 80, time.Second), RejectAccuracy},
		{"same timestamp", fixAt(1, 0, 5, 0), RejectStale},
		{"out of order", fixAt(1, 0, 5, -time.Second), RejectStale},
		{"jump", fixAt(100, 0, 5, time.Second), RejectJump},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewPositionFilter(plainFilterConfig(), nil)
			_, err := f.Process(fixAt(0, 0, 5, 0))
			require.NoError(t, err)

			_, err = f.Process(tt.second)
			r, ok := IsRejected(err)
			require.True(t, ok, "error = %v", err)
			assert.Equal(t, tt.reason, r.Reason)
		})
	}
}

func TestPositionFilter_JumpValue(t *testing.T) {
	f := NewPositionFilter(plainFilterConfig(), nil)
	_, err := f.Process(fixAt(0, 0, 5, 0))
	require.NoError(t, err)

	_, err = f.Process(fixAt(100, 0, 5, 2*time.Second))
	r, ok := IsRejected(err)
	require.True(t, ok)
	assert.InDelta(t, 50, r.Value, 0.1)
	assert.Equal(t, 15.0, r.Limit)

	// The rejected fix left no trace: the next one is measured from the first
	pos, err := f.Process(fixAt(4, 0, 5, 4*time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.Speed, 0.01)
}

func TestPositionFilter_SimulationSkipsAccuracyGate(t *testing.T) {
	f := NewPositionFilter(plainFilterConfig(), nil)
	f.SetSimulation(true)
	assert.True(t, f.Simulation())

	_, err := f.Process(fixAt(0, 0, 500, 0))
	assert.NoError(t, err)

	f.SetSimulation(false)
	_, err = f.Process(fixAt(0, 0, 500, time.Second))
	r, ok := IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, RejectAccuracy, r.Reason)
}

func TestPositionFilter_Smoothing(t *testing.T) {
	cfg := plainFilterConfig()

	t.Run("walking blends", func(t *testing.T) {
		f := NewPositionFilter(cfg, nil)
		_, _ = f.Process(fixAt(0, 0, 5, 0))
		pos, err := f.Process(fixAt(0, 2, 5, time.Second))
		require.NoError(t, err)

		_, north := newLocalFrame(kalmanOrigin).toLocal(pos.Geo())
		assert.InDelta(t, 2*cfg.WalkingSmoothing, north, 0.01)
		assert.InDelta(t, 2, pos.Speed, 0.01)
	})

	t.Run("stationary barely moves", func(t *testing.T) {
		f := NewPositionFilter(cfg, nil)
		_, _ = f.Process(fixAt(0, 0, 5, 0))
		pos, err := f.Process(fixAt(0, 0.2, 5, time.Second))
		require.NoError(t, err)

		_, north := newLocalFrame(kalmanOrigin).toLocal(pos.Geo())
		assert.InDelta(t, 0.2*cfg.StationarySmoothing, north, 0.001)
	})

	t.Run("fast movement is taken as is", func(t *testing.T) {
		f := NewPositionFilter(cfg, nil)
		_, _ = f.Process(fixAt(0, 0, 5, 0))
		pos, err := f.Process(fixAt(0, 5, 5, time.Second))
		require.NoError(t, err)
		assert.Equal(t, offset(0, 5), pos.Geo())
	})

	t.Run("reported speed wins", func(t *testing.T) {
		f := NewPositionFilter(cfg, nil)
		_, _ = f.Process(fixAt(0, 0, 5, 0))
		fix := fixAt(0, 1, 5, time.Second)
		speed := 4.0
		fix.Speed = &speed
		pos, err := f.Process(fix)
		require.NoError(t, err)
		assert.Equal(t, 4.0, pos.Speed)
		assert.Equal(t, fix.Geo, pos.Geo())
	})
}

func TestPositionFilter_DerivedHeading(t *testing.T) {
	f := NewPositionFilter(plainFilterConfig(), nil)
	_, _ = f.Process(fixAt(0, 0, 5, 0))

	// Moving east by more than the minimum heading distance
	pos, err := f.Process(fixAt(3, 0, 5, time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 90, pos.Heading, 0.1)

	// Under a meter later: too short to measure a new heading
	pos, err = f.Process(fixAt(3, 0.5, 5, 2*time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 90, pos.Heading, 0.1)
}

func TestPositionFilter_DeviceHeading(t *testing.T) {
	cfg := plainFilterConfig()
	f := NewPositionFilter(cfg, nil)

	heading := func(deg float64, fix DeviceFix) DeviceFix {
		fix.Heading = &deg
		return fix
	}

	pos, err := f.Process(heading(350, fixAt(0, 0, 5, 0)))
	require.NoError(t, err)
	assert.Equal(t, 350.0, pos.Heading)

	// Walking: blends along the short arc through north
	pos, err = f.Process(heading(10, fixAt(0, 1.5, 5, time.Second)))
	require.NoError(t, err)
	assert.InDelta(t, NormalizeAngle(350+20*cfg.HeadingSmoothing), pos.Heading, 1e-9)

	// Stationary: a small change is ignored
	before := pos.Heading
	pos, err = f.Process(heading(before+10, fixAt(0, 1.5, 5, 2*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, before, pos.Heading)

	// Stationary: a large change still counts
	pos, err = f.Process(heading(before+90, fixAt(0, 1.5, 5, 3*time.Second)))
	require.NoError(t, err)
	assert.InDelta(t, NormalizeAngle(before+90*cfg.HeadingSmoothing), pos.Heading, 1e-9)
}

func TestPositionFilter_IgnoresNaNHeading(t *testing.T) {
	f := NewPositionFilter(plainFilterConfig(), nil)
	nan := math.NaN()
	fix := fixAt(0, 0, 5, 0)
	fix.Heading = &nan

	pos, err := f.Process(fix)
	require.NoError(t, err)
	assert.Zero(t, pos.Heading)
}

func TestPositionFilter_Kalman(t *testing.T) {
	f := NewPositionFilter(DefaultConfig().Filter, nil)
	assert.True(t, math.IsInf(f.KalmanVariance(), 1))

	_, err := f.Process(fixAt(0, 0, 5, 0))
	require.NoError(t, err)
	first := f.KalmanVariance()

	for i := 1; i <= 5; i++ {
		pos, err := f.Process(fixAt(0, 0, 5, time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, pos.KalmanActive)
	}
	assert.Less(t, f.KalmanVariance(), first)
}

func TestPositionFilter_Reset(t *testing.T) {
	f := NewPositionFilter(plainFilterConfig(), nil)
	_, _ = f.Process(fixAt(0, 0, 5, 0))

	f.Reset(offset(1000, 0))
	// Far from the old fix, but the jump gate has nothing to compare with
	pos, err := f.Process(fixAt(1000, 0, 5, time.Second))
	require.NoError(t, err)
	assert.InDelta(t, 0, HaversineMeters(pos.Geo(), offset(1000, 0)), 1e-6)
}

func TestPositionFilter_OutOfBounds(t *testing.T) {
	bounds := CoverageBounds{MinLat: 39.99, MinLng: -75.01, MaxLat: 40.01, MaxLng: -74.99}
	cal, err := NewCalibration(campusPoints, bounds)
	require.NoError(t, err)

	f := NewPositionFilter(plainFilterConfig(), cal)
	pos, err := f.Process(fixAt(0, 0, 5, 0))
	require.NoError(t, err)
	assert.False(t, pos.OutOfBounds)

	f.Reset(GeoPoint{Lat: 41, Lng: -75})
	pos, err = f.Process(DeviceFix{Geo: GeoPoint{Lat: 41, Lng: -75}, Accuracy: 5, Timestamp: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, pos.OutOfBounds)
}
