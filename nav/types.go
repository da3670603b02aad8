package nav

import (
	"time"

	"github.com/paulmach/orb"
)

// GeoPoint is a WGS84 coordinate in degrees
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Orb returns the point in orb's [lng, lat] order
func (g GeoPoint) Orb() orb.Point {
	return orb.Point{g.Lng, g.Lat}
}

// PlanePoint is a coordinate in the local rendering plane.
// Plane units are whatever the floor-plan artwork uses; they are never degrees.
type PlanePoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Orb returns the point as an orb.Point for planar math
func (p PlanePoint) Orb() orb.Point {
	return orb.Point{p.X, p.Y}
}

func planeFromOrb(p orb.Point) PlanePoint {
	return PlanePoint{X: p[0], Y: p[1]}
}

// ControlPoint is a known geo <-> plane correspondence used for calibration
type ControlPoint struct {
	Name  string     `json:"name" yaml:"name"`
	Geo   GeoPoint   `json:"geo" yaml:"geo"`
	Plane PlanePoint `json:"plane" yaml:"plane"`
}

// AffineTransform maps geo to plane:
// x = A*lng + B*lat + C
// y = D*lng + E*lat + F
type AffineTransform struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
	C float64 `json:"c"`
	D float64 `json:"d"`
	E float64 `json:"e"`
	F float64 `json:"f"`
}

// CoverageBounds is the rectangular lat/lng area the map covers
type CoverageBounds struct {
	MinLat float64 `json:"minLat" yaml:"minLat"`
	MinLng float64 `json:"minLng" yaml:"minLng"`
	MaxLat float64 `json:"maxLat" yaml:"maxLat"`
	MaxLng float64 `json:"maxLng" yaml:"maxLng"`
}

// IsZero reports whether no bounds were configured
func (b CoverageBounds) IsZero() bool {
	return b.MinLat == 0 && b.MinLng == 0 && b.MaxLat == 0 && b.MaxLng == 0
}

// GraphNode is a routable vertex
type GraphNode struct {
	ID      string     `json:"id"`
	Point   PlanePoint `json:"point"`
	Geo     *GeoPoint  `json:"geo,omitempty"`
	Street  string     `json:"street,omitempty"`
	FloorID string     `json:"floorId,omitempty"`
}

// GraphEdge is one direction of a bidirectional connection
type GraphEdge struct {
	To       string       `json:"to"`
	Distance float64      `json:"distance"`
	Points   []PlanePoint `json:"points,omitempty"` // intermediate polyline vertices, excluding endpoints
	Street   string       `json:"street,omitempty"`
	Kind     EdgeKind     `json:"kind,omitempty"`

	// Set on portal edges
	PortalType PortalType `json:"portalType,omitempty"`

	// Inaccessible marks stairs and entrances a wheelchair cannot use
	Inaccessible bool `json:"inaccessible,omitempty"`
}

// EdgeKind distinguishes ordinary path edges from the synthetic edges added
// when bridging graphs together.
type EdgeKind string

const (
	EdgePath     EdgeKind = ""
	EdgeBridge   EdgeKind = "bridge"   // intersection-bridging pass
	EdgePortal   EdgeKind = "portal"   // cross-floor stairs/elevator
	EdgeEntrance EdgeKind = "entrance" // outdoor <-> indoor door
)

// PortalType is the kind of vertical connector
type PortalType string

const (
	PortalStair     PortalType = "stair"
	PortalElevator  PortalType = "elevator"
	PortalEscalator PortalType = "escalator"
	PortalRamp      PortalType = "ramp"
)

// Accessible reports whether a wheelchair user can take this connector
func (t PortalType) Accessible() bool {
	return t == PortalElevator || t == PortalRamp
}

// PortalKey identifies one physical stair or elevator shaft across floors
type PortalKey struct {
	Type     PortalType `json:"type"`
	Instance string     `json:"instance"`
}

func (k PortalKey) String() string {
	return string(k.Type) + "." + k.Instance
}

// Portal is one floor's end of a vertical connector
type Portal struct {
	Key     PortalKey  `json:"key"`
	FloorID string     `json:"floorId"`
	Point   PlanePoint `json:"point"`
}

// BuildingEntrance bridges the outdoor graph and one floor of a building
type BuildingEntrance struct {
	ID         string     `json:"id" yaml:"id"`
	BuildingID string     `json:"buildingId" yaml:"buildingId"`
	FloorID    string     `json:"floorId" yaml:"floorId"`
	Geo        GeoPoint   `json:"geo" yaml:"geo"`
	Indoor     PlanePoint `json:"indoor" yaml:"indoor"`
	Accessible bool       `json:"isAccessible" yaml:"isAccessible"`
	Open       bool       `json:"isOpen" yaml:"isOpen"`
}

// DeviceFix is one raw sample from the position sensor
type DeviceFix struct {
	Geo       GeoPoint  `json:"geo"`
	Accuracy  float64   `json:"accuracy"` // meters, 1-sigma
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SmoothedPosition is what the filter emits for each accepted fix
type SmoothedPosition struct {
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	Heading      float64   `json:"heading"` // degrees clockwise from north
	Speed        float64   `json:"speed"`   // m/s
	OutOfBounds  bool      `json:"outOfBounds,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	KalmanActive bool      `json:"kalmanActive,omitempty"`
}

// Geo returns the smoothed position as a GeoPoint
func (s SmoothedPosition) Geo() GeoPoint {
	return GeoPoint{Lat: s.Lat, Lng: s.Lng}
}

// ActiveRoute is the route currently being followed.
// Legs[i], when present, is the edge from Nodes[i] to Nodes[i+1].
type ActiveRoute struct {
	Nodes []GraphNode `json:"nodes"`
	Legs  []GraphEdge `json:"legs,omitempty"`
}

// RouteProgress describes where the user is relative to the active route
type RouteProgress struct {
	NavMarker               PlanePoint  `json:"navMarker"`
	RemainingRoute          []GraphNode `json:"remainingRoute"`
	ProgressFraction        float64     `json:"progressFraction"`
	IsOffRoute              bool        `json:"isOffRoute"`
	DistanceFromRouteMeters float64     `json:"distanceFromRouteMeters"`
	SegmentIndex            int         `json:"segmentIndex"`
}

// TurnType classifies a direction step
type TurnType string

const (
	TurnStart    TurnType = "start"
	TurnLeft     TurnType = "left"
	TurnRight    TurnType = "right"
	TurnStraight TurnType = "straight"
	TurnArrive   TurnType = "arrive"
)

// DirectionStep is one line of turn-by-turn guidance
type DirectionStep struct {
	Instruction    string   `json:"instruction"`
	TurnType       TurnType `json:"turnType"`
	DistanceMeters float64  `json:"distanceMeters"`
	StreetName     string   `json:"streetName,omitempty"`
	FloorID        string   `json:"floorId,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT         MQTTConfig        `yaml:"mqtt" json:"mqtt"`
	Calibration  CalibrationConfig `yaml:"calibration" json:"calibration"`
	Data         DataConfig        `yaml:"data" json:"data"`
	Graph        GraphConfig       `yaml:"graph" json:"graph"`
	Validator    ValidatorConfig   `yaml:"validator" json:"validator"`
	Routing      RoutingConfig     `yaml:"routing" json:"routing"`
	Indoor       IndoorConfig      `yaml:"indoor" json:"indoor"`
	Filter       FilterConfig      `yaml:"filter" json:"filter"`
	Progress     ProgressConfig    `yaml:"progress" json:"progress"`
	Instructions InstructionConfig `yaml:"instructions" json:"instructions"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// CalibrationConfig lists the control points the transform is fitted from
type CalibrationConfig struct {
	ControlPoints []ControlPoint `yaml:"controlPoints" json:"controlPoints"`
	Bounds        CoverageBounds `yaml:"bounds" json:"bounds"`
	CachePath     string         `yaml:"cachePath,omitempty" json:"cachePath,omitempty"`
}

// DataConfig points at the externally supplied geometry
type DataConfig struct {
	OutdoorPaths string             `yaml:"outdoorPaths" json:"outdoorPaths"` // GeoJSON or SVG
	GraphFile    string             `yaml:"graphFile,omitempty" json:"graphFile,omitempty"`
	Buildings    []BuildingConfig   `yaml:"buildings,omitempty" json:"buildings,omitempty"`
	Entrances    []BuildingEntrance `yaml:"entrances,omitempty" json:"entrances,omitempty"`
}

// BuildingConfig lists a building's floor plans
type BuildingConfig struct {
	ID     string        `yaml:"id" json:"id"`
	Floors []FloorConfig `yaml:"floors" json:"floors"`
}

// FloorConfig is one floor plan file
type FloorConfig struct {
	ID   string `yaml:"id" json:"id"`
	Plan string `yaml:"plan" json:"plan"`
}

// GraphConfig controls offline graph construction, in plane units
type GraphConfig struct {
	SampleInterval    float64 `yaml:"sampleInterval" json:"sampleInterval"`
	MergeThreshold    float64 `yaml:"mergeThreshold" json:"mergeThreshold"`
	BridgeMinDistance float64 `yaml:"bridgeMinDistance" json:"bridgeMinDistance"`
	BridgeMaxDistance float64 `yaml:"bridgeMaxDistance" json:"bridgeMaxDistance"`
}

// ValidatorConfig holds the graph quality thresholds
type ValidatorConfig struct {
	MinAvgEdges          float64 `yaml:"minAvgEdges" json:"minAvgEdges"`
	WarnAvgEdges         float64 `yaml:"warnAvgEdges" json:"warnAvgEdges"`
	MaxIsolatedPercent   float64 `yaml:"maxIsolatedPercent" json:"maxIsolatedPercent"`
	WarnIsolatedPercent  float64 `yaml:"warnIsolatedPercent" json:"warnIsolatedPercent"`
	MaxComponentRatio    float64 `yaml:"maxComponentRatio" json:"maxComponentRatio"`
	SuspiciousEdgeLength float64 `yaml:"suspiciousEdgeLength" json:"suspiciousEdgeLength"`
	MinNodeCount         int     `yaml:"minNodeCount" json:"minNodeCount"`
}

// RoutingConfig controls outdoor search and worker offload
type RoutingConfig struct {
	UseWorker              bool          `yaml:"useWorker" json:"useWorker"`
	Workers                int           `yaml:"workers" json:"workers"`
	WorkerTimeout          time.Duration `yaml:"workerTimeout" json:"workerTimeout"`
	NearestNodeMaxDistance float64       `yaml:"nearestNodeMaxDistance" json:"nearestNodeMaxDistance"`
}

// IndoorConfig controls floor bridging and entrance bridging
type IndoorConfig struct {
	FloorChangePenalty      float64 `yaml:"floorChangePenalty" json:"floorChangePenalty"`
	PortalConnectDistance   float64 `yaml:"portalConnectDistance" json:"portalConnectDistance"`
	EntranceOutdoorDistance float64 `yaml:"entranceOutdoorDistance" json:"entranceOutdoorDistance"`
	EntranceIndoorDistance  float64 `yaml:"entranceIndoorDistance" json:"entranceIndoorDistance"`
	AccessibleOnly          bool    `yaml:"accessibleOnly" json:"accessibleOnly"`

	// Floor plans of a building share one north-up frame. MetersPerUnit
	// scales it; PlanYUp is set when y grows northwards (GeoJSON style)
	// rather than southwards (SVG).
	MetersPerUnit float64 `yaml:"metersPerUnit" json:"metersPerUnit"`
	PlanYUp       bool    `yaml:"planYUp" json:"planYUp"`
}

// FilterConfig controls the position filter pipeline
type FilterConfig struct {
	MaxAccuracy                float64       `yaml:"maxAccuracy" json:"maxAccuracy"`   // meters
	MaxJumpSpeed               float64       `yaml:"maxJumpSpeed" json:"maxJumpSpeed"` // m/s
	FixInterval                time.Duration `yaml:"fixInterval" json:"fixInterval"`   // ingest rate limit
	StationarySpeed            float64       `yaml:"stationarySpeed" json:"stationarySpeed"`
	WalkingSpeed               float64       `yaml:"walkingSpeed" json:"walkingSpeed"`
	KalmanEnabled              bool          `yaml:"kalmanEnabled" json:"kalmanEnabled"`
	PreferDeviceHeading        bool          `yaml:"preferDeviceHeading" json:"preferDeviceHeading"`
	MinHeadingDistance         float64       `yaml:"minHeadingDistance" json:"minHeadingDistance"` // meters
	HeadingSmoothing           float64       `yaml:"headingSmoothing" json:"headingSmoothing"`
	MinStationaryHeadingChange float64       `yaml:"minStationaryHeadingChange" json:"minStationaryHeadingChange"` // degrees
	StationarySmoothing        float64       `yaml:"stationarySmoothing" json:"stationarySmoothing"`
	WalkingSmoothing           float64       `yaml:"walkingSmoothing" json:"walkingSmoothing"`
	MinMeasurementNoise        float64       `yaml:"minMeasurementNoise" json:"minMeasurementNoise"` // meters
	MaxMeasurementNoise        float64       `yaml:"maxMeasurementNoise" json:"maxMeasurementNoise"` // meters
	ProcessNoise               float64       `yaml:"processNoise" json:"processNoise"`               // m/s^2
	HeadingWeight              float64       `yaml:"headingWeight" json:"headingWeight"`
}

// ProgressConfig controls route progress tracking
type ProgressConfig struct {
	MetersPerPlaneUnit float64 `yaml:"metersPerPlaneUnit" json:"metersPerPlaneUnit"`
	OffRouteMeters     float64 `yaml:"offRouteMeters" json:"offRouteMeters"`
	SearchBehind       int     `yaml:"searchBehind" json:"searchBehind"`
	SearchAhead        int     `yaml:"searchAhead" json:"searchAhead"`
}

// InstructionConfig controls turn classification and dynamic guidance
type InstructionConfig struct {
	TurnThresholdDeg   float64 `yaml:"turnThresholdDeg" json:"turnThresholdDeg"`
	ArrivalRadius      float64 `yaml:"arrivalRadius" json:"arrivalRadius"`           // meters
	ApproachRadius     float64 `yaml:"approachRadius" json:"approachRadius"`         // meters
	TurnNoticeDistance float64 `yaml:"turnNoticeDistance" json:"turnNoticeDistance"` // meters
}
