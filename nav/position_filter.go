package nav

import (
	"math"
)

// PositionFilter turns raw device fixes into a smoothed position. It keeps
// per-session state and must be fed from a single goroutine.
//
// Each fix passes, in order: accuracy gate, jump gate, heading derivation,
// heading smoothing, exponential position smoothing, and the optional
// Kalman filter.
type PositionFilter struct {
	cfg         FilterConfig
	calibration *Calibration
	simulation  bool

	kalman *KalmanFilter

	last          *DeviceFix // last accepted fix
	smoothed      GeoPoint
	hasSmoothed   bool
	heading       float64
	hasHeading    bool
	headingAnchor *GeoPoint // where the last derived heading was measured from
}

// NewPositionFilter creates a filter. cal may be nil; when set, positions
// outside its coverage bounds are flagged.
func NewPositionFilter(cfg FilterConfig, cal *Calibration) *PositionFilter {
	return &PositionFilter{
		cfg:         cfg,
		calibration: cal,
		kalman:      NewKalmanFilter(cfg),
	}
}

// SetSimulation switches simulation mode. Simulated fixes skip the accuracy
// gate; switching either way restarts the Kalman track.
func (f *PositionFilter) SetSimulation(on bool) {
	if f.simulation == on {
		return
	}
	f.simulation = on
	f.kalman.Clear()
	f.last = nil
}

// Simulation reports whether simulation mode is on
func (f *PositionFilter) Simulation() bool {
	return f.simulation
}

// Reset moves the filter to g with high uncertainty, for deliberate jumps
func (f *PositionFilter) Reset(g GeoPoint) {
	f.last = nil
	f.smoothed = g
	f.hasSmoothed = true
	anchor := g
	f.headingAnchor = &anchor
	if f.cfg.KalmanEnabled {
		f.kalman.Reset(g)
	}
}

// KalmanVariance exposes the filter's current position variance (m^2)
func (f *PositionFilter) KalmanVariance() float64 {
	return f.kalman.PositionVariance()
}

// Process runs one fix through the pipeline. Rejected fixes return a
// *SensorRejected and leave the state untouched.
func (f *PositionFilter) Process(fix DeviceFix) (SmoothedPosition, error) {
	// (1) accuracy gate
	if !f.simulation && fix.Accuracy > f.cfg.MaxAccuracy {
		return SmoothedPosition{}, &SensorRejected{Reason: RejectAccuracy, Value: fix.Accuracy, Limit: f.cfg.MaxAccuracy}
	}

	var dt, moved float64
	if f.last != nil {
		dt = fix.Timestamp.Sub(f.last.Timestamp).Seconds()
		if dt <= 0 {
			return SmoothedPosition{}, &SensorRejected{Reason: RejectStale, Value: dt, Limit: 0}
		}
		moved = HaversineMeters(f.last.Geo, fix.Geo)

		// (2) jump gate
		if implied := moved / dt; implied > f.cfg.MaxJumpSpeed {
			return SmoothedPosition{}, &SensorRejected{Reason: RejectJump, Value: implied, Limit: f.cfg.MaxJumpSpeed}
		}
	}

	speed := 0.0
	switch {
	case fix.Speed != nil && *fix.Speed >= 0:
		speed = *fix.Speed
	case dt > 0:
		speed = moved / dt
	}
	stationary := speed < f.cfg.StationarySpeed

	// (3) heading derivation, (4) smoothing
	if raw, ok := f.rawHeading(fix); ok {
		f.smoothHeading(raw, stationary)
	}

	// (5) exponential position smoothing
	switch {
	case !f.hasSmoothed || speed > f.cfg.WalkingSpeed:
		f.smoothed = fix.Geo
	default:
		factor := f.cfg.WalkingSmoothing
		if stationary {
			factor = f.cfg.StationarySmoothing
		}
		f.smoothed = GeoPoint{
			Lat: f.smoothed.Lat + factor*(fix.Geo.Lat-f.smoothed.Lat),
			Lng: f.smoothed.Lng + factor*(fix.Geo.Lng-f.smoothed.Lng),
		}
	}
	f.hasSmoothed = true

	out := f.smoothed
	kalmanActive := false

	// (6) Kalman filter
	if f.cfg.KalmanEnabled {
		if f.kalman.Initialized() {
			f.kalman.Predict(dt)
		}
		f.kalman.Update(out, fix.Accuracy)
		if f.hasHeading && speed > 0 {
			f.kalman.BlendHeading(f.heading, speed)
		}
		out = f.kalman.Position()
		kalmanActive = true
	}

	accepted := fix
	f.last = &accepted

	pos := SmoothedPosition{
		Lat:          out.Lat,
		Lng:          out.Lng,
		Heading:      f.heading,
		Speed:        speed,
		Timestamp:    fix.Timestamp,
		KalmanActive: kalmanActive,
	}
	if f.calibration != nil && !f.calibration.IsWithinBounds(out) {
		pos.OutOfBounds = true
	}
	return pos, nil
}

// rawHeading picks the device heading or derives one from movement. A
// derived heading needs MinHeadingDistance of travel since the last one.
func (f *PositionFilter) rawHeading(fix DeviceFix) (float64, bool) {
	device := fix.Heading != nil && !math.IsNaN(*fix.Heading)
	if device && f.cfg.PreferDeviceHeading {
		return NormalizeAngle(*fix.Heading), true
	}

	if f.headingAnchor == nil {
		anchor := fix.Geo
		f.headingAnchor = &anchor
	} else if HaversineMeters(*f.headingAnchor, fix.Geo) >= f.cfg.MinHeadingDistance {
		derived := BearingDeg(*f.headingAnchor, fix.Geo)
		anchor := fix.Geo
		f.headingAnchor = &anchor
		return derived, true
	}

	if device {
		return NormalizeAngle(*fix.Heading), true
	}
	return 0, false
}

// smoothHeading blends toward raw along the shorter arc. While stationary,
// changes smaller than MinStationaryHeadingChange are ignored.
func (f *PositionFilter) smoothHeading(raw float64, stationary bool) {
	if !f.hasHeading {
		f.heading = raw
		f.hasHeading = true
		return
	}
	delta := AngleDelta(f.heading, raw)
	if stationary && math.Abs(delta) < f.cfg.MinStationaryHeadingChange {
		return
	}
	f.heading = NormalizeAngle(f.heading + delta*f.cfg.HeadingSmoothing)
}
