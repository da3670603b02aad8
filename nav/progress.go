package nav

import "math"

// ProgressTracker follows a position along the active route. It caches the
// last matched segment and only searches a window around it, which relies
// on the jump gate keeping consecutive positions close. Only outdoor
// segments are matched: indoor nodes live in their building's frame, not
// the outdoor plane.
type ProgressTracker struct {
	cfg ProgressConfig

	route      ActiveRoute
	cumulative []float64 // outdoor route length up to each node, plane units
	segment    int

	turnByTurn bool
	fixedStart bool
	offRoute   bool
}

// NewProgressTracker creates a tracker with no route
func NewProgressTracker(cfg ProgressConfig) *ProgressTracker {
	return &ProgressTracker{cfg: cfg}
}

// SetRoute replaces the active route. fixedStart marks a route that starts
// at a chosen place rather than the current location.
func (t *ProgressTracker) SetRoute(route ActiveRoute, fixedStart bool) {
	t.route = route
	t.fixedStart = fixedStart
	t.segment = 0
	t.offRoute = false

	t.cumulative = make([]float64, len(route.Nodes))
	for i := 1; i < len(route.Nodes); i++ {
		t.cumulative[i] = t.cumulative[i-1]
		if t.outdoorSegment(i - 1) {
			t.cumulative[i] += Distance(route.Nodes[i-1].Point, route.Nodes[i].Point)
		}
	}
}

func (t *ProgressTracker) outdoorSegment(i int) bool {
	return t.route.Nodes[i].FloorID == "" && t.route.Nodes[i+1].FloorID == ""
}

// nearestSegment projects p onto the outdoor segments in [from, to]. dist
// is +Inf when there are none.
func (t *ProgressTracker) nearestSegment(p PlanePoint, from, to int) (seg int, frac, dist float64, marker PlanePoint) {
	nodes := t.route.Nodes
	seg, dist = t.segment, math.Inf(1)
	for i := from; i <= to; i++ {
		if !t.outdoorSegment(i) {
			continue
		}
		proj, tt := projectOntoSegment(p, nodes[i].Point, nodes[i+1].Point)
		if d := Distance(p, proj); d < dist {
			dist, seg, frac, marker = d, i, tt, proj
		}
	}
	return seg, frac, dist, marker
}

// ClearRoute drops the active route
func (t *ProgressTracker) ClearRoute() {
	t.SetRoute(ActiveRoute{}, false)
	t.turnByTurn = false
}

// Route returns the active route
func (t *ProgressTracker) Route() ActiveRoute {
	return t.route
}

// SetTurnByTurn starts or stops guidance. Off-route is only reported while
// guidance is active.
func (t *ProgressTracker) SetTurnByTurn(active bool) {
	t.turnByTurn = active
	if !active {
		t.offRoute = false
	}
}

// TurnByTurn reports whether guidance is active
func (t *ProgressTracker) TurnByTurn() bool {
	return t.turnByTurn
}

// Update projects p onto the route. It returns false when there is no route
// or the route has no outdoor segment.
func (t *ProgressTracker) Update(p PlanePoint) (RouteProgress, bool) {
	nodes := t.route.Nodes
	switch len(nodes) {
	case 0:
		return RouteProgress{}, false
	case 1:
		if nodes[0].FloorID != "" {
			return RouteProgress{}, false
		}
		d := Distance(p, nodes[0].Point) * t.cfg.MetersPerPlaneUnit
		return RouteProgress{
			NavMarker:               nodes[0].Point,
			ProgressFraction:        1,
			DistanceFromRouteMeters: d,
			IsOffRoute:              t.updateOffRoute(d),
		}, true
	}

	// Simulated walk-throughs from a fixed start keep the marker on the
	// first node instead of following GPS
	if t.fixedStart && t.turnByTurn {
		t.segment = 0
		return RouteProgress{
			NavMarker:               nodes[0].Point,
			RemainingRoute:          append([]GraphNode(nil), nodes[1:]...),
			DistanceFromRouteMeters: Distance(p, nodes[0].Point) * t.cfg.MetersPerPlaneUnit,
		}, true
	}

	lastSeg := len(nodes) - 2
	from := t.segment - t.cfg.SearchBehind
	if from < 0 {
		from = 0
	}
	to := t.segment + t.cfg.SearchAhead
	if to > lastSeg {
		to = lastSeg
	}

	bestSeg, bestT, bestDist, marker := t.nearestSegment(p, from, to)
	if math.IsInf(bestDist, 1) {
		// the window is all indoors
		bestSeg, bestT, bestDist, marker = t.nearestSegment(p, 0, lastSeg)
		if math.IsInf(bestDist, 1) {
			return RouteProgress{}, false
		}
	}
	t.segment = bestSeg

	meters := bestDist * t.cfg.MetersPerPlaneUnit
	total := t.cumulative[len(nodes)-1]
	fraction := 1.0
	if total > 0 {
		segLen := t.cumulative[bestSeg+1] - t.cumulative[bestSeg]
		fraction = (t.cumulative[bestSeg] + bestT*segLen) / total
	}

	return RouteProgress{
		NavMarker:               marker,
		RemainingRoute:          append([]GraphNode(nil), nodes[bestSeg+1:]...),
		ProgressFraction:        fraction,
		IsOffRoute:              t.updateOffRoute(meters),
		DistanceFromRouteMeters: meters,
		SegmentIndex:            bestSeg,
	}, true
}

// updateOffRoute is the two-state machine: off-route once the distance
// exceeds the threshold during guidance, back on once it does not.
func (t *ProgressTracker) updateOffRoute(meters float64) bool {
	if !t.turnByTurn {
		t.offRoute = false
		return false
	}
	t.offRoute = meters > t.cfg.OffRouteMeters
	return t.offRoute
}

// OffRoute returns the current off-route state
func (t *ProgressTracker) OffRoute() bool {
	return t.offRoute
}
