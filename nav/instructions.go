package nav

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

var cardinalNames = [8]string{
	"north", "northeast", "east", "southeast",
	"south", "southwest", "west", "northwest",
}

// CardinalDirection buckets a compass bearing into one of 8 sectors
func CardinalDirection(bearing float64) string {
	sector := int(math.Floor((NormalizeAngle(bearing)+22.5)/45)) % 8
	return cardinalNames[sector]
}

var (
	landmarkPrefix = regexp.MustCompile(`(?i)^(entrance|door|exit)[-_]`)
	landmarkSuffix = regexp.MustCompile(`[-_]\d+$`)
)

// DecodeLandmark recovers a display name from an encoded entrance id,
// e.g. "entrance-main_library-2" becomes "Main Library".
func DecodeLandmark(id string) string {
	s := strings.TrimSpace(id)
	if un, err := url.PathUnescape(s); err == nil {
		s = un
	}
	s = landmarkPrefix.ReplaceAllString(s, "")
	s = landmarkSuffix.ReplaceAllString(s, "")
	s = strings.NewReplacer("_", " ", "-", " ", "+", " ").Replace(s)

	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// TurnAngle is the signed change of direction at b, in degrees. Positive
// turns left, negative turns right. It is the angle between a->b and b->c
// from their cross and dot products in a local east/north frame.
func TurnAngle(a, b, c GeoPoint) float64 {
	frame := newLocalFrame(b)
	ax, ay := frame.toLocal(a)
	cx, cy := frame.toLocal(c)
	// b is the frame origin
	v1x, v1y := -ax, -ay
	v2x, v2y := cx, cy

	cross := v1x*v2y - v1y*v2x
	dot := v1x*v2x + v1y*v2y
	if cross == 0 && dot == 0 {
		return 0
	}
	return math.Atan2(cross, dot) * 180 / math.Pi
}

// ClassifyTurn maps a signed turn angle to a TurnType
func ClassifyTurn(angle, thresholdDeg float64) TurnType {
	switch {
	case math.Abs(angle) < thresholdDeg:
		return TurnStraight
	case angle > 0:
		return TurnLeft
	default:
		return TurnRight
	}
}

// InstructionGenerator turns routes into spoken-style guidance
type InstructionGenerator struct {
	cfg         InstructionConfig
	calibration *Calibration
}

// NewInstructionGenerator creates a generator. cal places outdoor nodes
// that carry no geographic position and may be nil when every node has
// one. Indoor nodes are never placed with it; they need a Geo from their
// building's anchor.
func NewInstructionGenerator(cfg InstructionConfig, cal *Calibration) *InstructionGenerator {
	return &InstructionGenerator{cfg: cfg, calibration: cal}
}

func (g *InstructionGenerator) nodeGeo(n GraphNode) (GeoPoint, error) {
	if n.Geo != nil {
		return *n.Geo, nil
	}
	if n.FloorID != "" {
		return GeoPoint{}, fmt.Errorf("indoor node %s has no geographic anchor", n.ID)
	}
	if g.calibration == nil {
		return GeoPoint{}, fmt.Errorf("node %s has no geographic position and no calibration is loaded", n.ID)
	}
	return g.calibration.PlaneToGeo(n.Point.X, n.Point.Y)
}

func (g *InstructionGenerator) routeGeo(route ActiveRoute) ([]GeoPoint, error) {
	out := make([]GeoPoint, len(route.Nodes))
	for i, n := range route.Nodes {
		p, err := g.nodeGeo(n)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func legKind(route ActiveRoute, i int) EdgeKind {
	if i < len(route.Legs) {
		return route.Legs[i].Kind
	}
	return EdgePath
}

// legStreet names the street of leg i. Nodes only name their own street, so
// without edge data a leg takes the street its endpoints share, else the
// street it leads onto.
func legStreet(route ActiveRoute, i int) string {
	if i < len(route.Legs) {
		switch route.Legs[i].Kind {
		case EdgePortal, EdgeEntrance:
			return ""
		}
		if route.Legs[i].Street != "" {
			return route.Legs[i].Street
		}
	}
	a, b := route.Nodes[i], route.Nodes[i+1]
	if a.Street == b.Street {
		return a.Street
	}
	return b.Street
}

// legMeters is the walking length of leg i. Floor changes count as zero.
func legMeters(route ActiveRoute, pts []GeoPoint, i int) float64 {
	if legKind(route, i) == EdgePortal {
		return 0
	}
	return HaversineMeters(pts[i], pts[i+1])
}

// changesLevel reports whether node i joins a floor change or a door
func changesLevel(route ActiveRoute, i int) bool {
	for _, k := range []EdgeKind{legKind(route, i-1), legKind(route, i)} {
		if k == EdgePortal || k == EdgeEntrance {
			return true
		}
	}
	return false
}

func portalNoun(t PortalType) string {
	switch t {
	case PortalStair:
		return "stairs"
	case "":
		return "connector"
	}
	return string(t)
}

func onStreet(prep, street string) string {
	if street == "" {
		return ""
	}
	return " " + prep + " " + street
}

// Directions decomposes a route into one step per turn, street change,
// floor change or door, framed by a start and an arrive step. Each step's
// distance is the walk until the next step.
func (g *InstructionGenerator) Directions(route ActiveRoute) ([]DirectionStep, error) {
	nodes := route.Nodes
	if len(nodes) == 0 {
		return nil, nil
	}
	pts, err := g.routeGeo(route)
	if err != nil {
		return nil, err
	}
	last := len(nodes) - 1
	if last == 0 {
		return []DirectionStep{{Instruction: "You have arrived", TurnType: TurnArrive, FloorID: nodes[0].FloorID}}, nil
	}

	street := legStreet(route, 0)
	steps := []DirectionStep{{
		Instruction: "Head " + CardinalDirection(BearingDeg(pts[0], pts[1])) + onStreet("on", street),
		TurnType:    TurnStart,
		StreetName:  street,
		FloorID:     nodes[0].FloorID,
	}}

	for i := 0; i < last; i++ {
		if i > 0 {
			if step, ok := g.stepAt(route, pts, i, street); ok {
				steps = append(steps, step)
				if step.StreetName != "" {
					street = step.StreetName
				}
			}
		}
		steps[len(steps)-1].DistanceMeters += legMeters(route, pts, i)
	}

	steps = append(steps, DirectionStep{
		Instruction: "You have arrived",
		TurnType:    TurnArrive,
		FloorID:     nodes[last].FloorID,
	})
	return steps, nil
}

// stepAt decides whether node i starts a new step, given the street walked so far
func (g *InstructionGenerator) stepAt(route ActiveRoute, pts []GeoPoint, i int, street string) (DirectionStep, bool) {
	nodes := route.Nodes
	next := nodes[i+1]

	switch legKind(route, i) {
	case EdgePortal:
		var pt PortalType
		if i < len(route.Legs) {
			pt = route.Legs[i].PortalType
		}
		return DirectionStep{
			Instruction: fmt.Sprintf("Take the %s to floor %s", portalNoun(pt), next.FloorID),
			TurnType:    TurnStraight,
			FloorID:     next.FloorID,
		}, true
	case EdgeEntrance:
		name := ""
		if i < len(route.Legs) {
			name = DecodeLandmark(route.Legs[i].Street)
		}
		if next.FloorID == "" {
			// leaving the building: the direction is that of the first outdoor leg
			heading := BearingDeg(pts[i], pts[i+1])
			if i+2 < len(pts) {
				heading = BearingDeg(pts[i+1], pts[i+2])
			}
			text := "Exit"
			if name != "" {
				text += " " + name
			}
			return DirectionStep{
				Instruction: text + " and head " + CardinalDirection(heading),
				TurnType:    TurnStraight,
			}, true
		}
		text := "Enter"
		if name != "" {
			text += " " + name
		}
		return DirectionStep{Instruction: text, TurnType: TurnStraight, FloorID: next.FloorID}, true
	}

	// Direction across a floor change or door is meaningless
	if changesLevel(route, i) {
		return DirectionStep{}, false
	}

	out := legStreet(route, i)
	turn := ClassifyTurn(TurnAngle(pts[i-1], pts[i], pts[i+1]), g.cfg.TurnThresholdDeg)
	switch {
	case turn != TurnStraight:
		return DirectionStep{
			Instruction: "Turn " + string(turn) + onStreet("onto", out),
			TurnType:    turn,
			StreetName:  out,
			FloorID:     nodes[i].FloorID,
		}, true
	case out != "" && out != street:
		return DirectionStep{
			Instruction: "Continue onto " + out,
			TurnType:    TurnStraight,
			StreetName:  out,
			FloorID:     nodes[i].FloorID,
		}, true
	}
	return DirectionStep{}, false
}

// NextInstruction is the single instruction for the current position. dest
// names the destination and may be empty.
func (g *InstructionGenerator) NextInstruction(route ActiveRoute, pos GeoPoint, dest string) (DirectionStep, error) {
	if len(route.Nodes) == 0 {
		return DirectionStep{}, fmt.Errorf("empty route: %w", ErrPathNotFound)
	}
	pts, err := g.routeGeo(route)
	if err != nil {
		return DirectionStep{}, err
	}
	last := len(pts) - 1

	closest, best := 0, math.Inf(1)
	for i, p := range pts {
		if d := HaversineMeters(pos, p); d < best {
			closest, best = i, d
		}
	}

	toDest := HaversineMeters(pos, pts[last])
	if toDest <= g.cfg.ArrivalRadius {
		return DirectionStep{
			Instruction:    "You have arrived" + onStreet("at", dest),
			TurnType:       TurnArrive,
			DistanceMeters: toDest,
			FloorID:        route.Nodes[last].FloorID,
		}, nil
	}
	if dest != "" && toDest <= g.cfg.ApproachRadius {
		return DirectionStep{
			Instruction:    "Approaching " + dest,
			TurnType:       TurnStraight,
			DistanceMeters: toDest,
			FloorID:        route.Nodes[last].FloorID,
		}, nil
	}
	if closest == last {
		// past every turn but outside the arrival radius
		return DirectionStep{
			Instruction:    fmt.Sprintf("Head %s for %s", CardinalDirection(BearingDeg(pos, pts[last])), formatMeters(toDest)),
			TurnType:       TurnStraight,
			DistanceMeters: toDest,
			FloorID:        route.Nodes[last].FloorID,
		}, nil
	}

	// Walk ahead to the next turn
	ahead := HaversineMeters(pos, pts[closest])
	for j := closest; j < last && ahead <= g.cfg.TurnNoticeDistance; j++ {
		if j > 0 && !changesLevel(route, j) {
			turn := ClassifyTurn(TurnAngle(pts[j-1], pts[j], pts[j+1]), g.cfg.TurnThresholdDeg)
			if turn != TurnStraight {
				street := legStreet(route, j)
				return DirectionStep{
					Instruction:    fmt.Sprintf("In %s, turn %s%s", formatMeters(ahead), turn, onStreet("onto", street)),
					TurnType:       turn,
					DistanceMeters: ahead,
					StreetName:     street,
					FloorID:        route.Nodes[j].FloorID,
				}, nil
			}
		}
		ahead += legMeters(route, pts, j)
	}

	next := closest + 1
	street := legStreet(route, closest)
	dist := HaversineMeters(pos, pts[next])
	return DirectionStep{
		Instruction:    fmt.Sprintf("Head %s for %s%s", CardinalDirection(BearingDeg(pos, pts[next])), formatMeters(dist), onStreet("on", street)),
		TurnType:       TurnStraight,
		DistanceMeters: dist,
		StreetName:     street,
		FloorID:        route.Nodes[closest].FloorID,
	}, nil
}

func formatMeters(m float64) string {
	return fmt.Sprintf("%dm", int(math.Round(m)))
}
