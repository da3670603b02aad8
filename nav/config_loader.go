package nav

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the configuration used when a field is absent from
// the YAML file. Distances under graph and indoor are plane units.
func DefaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			PublishPrefix: "wayfinder",
			ClientID:      "wayfinder",
		},
		Calibration: CalibrationConfig{
			CachePath: DefaultCalibrationCachePath,
		},
		Graph: GraphConfig{
			SampleInterval:    20,
			MergeThreshold:    5,
			BridgeMinDistance: 0.5,
			BridgeMaxDistance: 15,
		},
		Validator: ValidatorConfig{
			MinAvgEdges:          1.5,
			WarnAvgEdges:         2.5,
			MaxIsolatedPercent:   15,
			WarnIsolatedPercent:  5,
			MaxComponentRatio:    0.10,
			SuspiciousEdgeLength: 500,
			MinNodeCount:         50,
		},
		Routing: RoutingConfig{
			UseWorker:              true,
			Workers:                2,
			WorkerTimeout:          5 * time.Second,
			NearestNodeMaxDistance: 200,
		},
		Indoor: IndoorConfig{
			FloorChangePenalty:      500,
			PortalConnectDistance:   50,
			EntranceOutdoorDistance: 100,
			EntranceIndoorDistance:  100,
			MetersPerUnit:           1,
		},
		Filter: FilterConfig{
			MaxAccuracy:                50,
			MaxJumpSpeed:               15,
			FixInterval:                time.Second,
			StationarySpeed:            0.5,
			WalkingSpeed:               2.5,
			KalmanEnabled:              true,
			PreferDeviceHeading:        true,
			MinHeadingDistance:         2,
			HeadingSmoothing:           0.3,
			MinStationaryHeadingChange: 30,
			StationarySmoothing:        0.15,
			WalkingSmoothing:           0.6,
			MinMeasurementNoise:        3,
			MaxMeasurementNoise:        50,
			ProcessNoise:               0.5,
			HeadingWeight:              0.3,
		},
		Progress: ProgressConfig{
			MetersPerPlaneUnit: 0.1,
			OffRouteMeters:     15,
			SearchBehind:       3,
			SearchAhead:        10,
		},
		Instructions: InstructionConfig{
			TurnThresholdDeg:   30,
			ArrivalRadius:      10,
			ApproachRadius:     30,
			TurnNoticeDistance: 20,
		},
	}
}

// LoadConfig loads the configuration from a YAML file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks thresholds and data references
func (c *Config) Validate() error {
	if c.Graph.SampleInterval <= 0 {
		return fmt.Errorf("graph.sampleInterval must be > 0")
	}
	if c.Graph.MergeThreshold < 0 {
		return fmt.Errorf("graph.mergeThreshold must be >= 0")
	}
	if c.Graph.BridgeMaxDistance < c.Graph.BridgeMinDistance {
		return fmt.Errorf("graph.bridgeMaxDistance must be >= graph.bridgeMinDistance")
	}
	if c.Filter.MaxAccuracy <= 0 {
		return fmt.Errorf("filter.maxAccuracy must be > 0")
	}
	if c.Filter.MaxJumpSpeed <= 0 {
		return fmt.Errorf("filter.maxJumpSpeed must be > 0")
	}
	if c.Filter.MinMeasurementNoise <= 0 || c.Filter.MaxMeasurementNoise < c.Filter.MinMeasurementNoise {
		return fmt.Errorf("filter.minMeasurementNoise must be > 0 and <= filter.maxMeasurementNoise")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"filter.headingSmoothing", c.Filter.HeadingSmoothing},
		{"filter.stationarySmoothing", c.Filter.StationarySmoothing},
		{"filter.walkingSmoothing", c.Filter.WalkingSmoothing},
		{"filter.headingWeight", c.Filter.HeadingWeight},
	} {
		if f.value < 0 || f.value > 1 {
			return fmt.Errorf("%s must be within [0, 1]", f.name)
		}
	}
	if c.Progress.MetersPerPlaneUnit <= 0 {
		return fmt.Errorf("progress.metersPerPlaneUnit must be > 0")
	}
	if c.Progress.SearchBehind < 0 || c.Progress.SearchAhead < 0 {
		return fmt.Errorf("progress search window must not be negative")
	}
	if c.Indoor.FloorChangePenalty < 0 {
		return fmt.Errorf("indoor.floorChangePenalty must be >= 0")
	}
	if c.Indoor.MetersPerUnit <= 0 {
		return fmt.Errorf("indoor.metersPerUnit must be > 0")
	}
	if c.Routing.UseWorker && c.Routing.WorkerTimeout <= 0 {
		return fmt.Errorf("routing.workerTimeout must be > 0 when routing.useWorker is set")
	}

	for i, b := range c.Data.Buildings {
		if b.ID == "" {
			return fmt.Errorf("data.buildings[%d].id is required", i)
		}
		for j, f := range b.Floors {
			if f.ID == "" {
				return fmt.Errorf("data.buildings[%d].floors[%d].id is required for %s", i, j, b.ID)
			}
			if f.Plan == "" {
				return fmt.Errorf("data.buildings[%d].floors[%d].plan is required for %s", i, j, b.ID)
			}
		}
	}
	for i, e := range c.Data.Entrances {
		if c.GetBuildingByID(e.BuildingID) == nil {
			return fmt.Errorf("data.entrances[%d] references unknown building %q", i, e.BuildingID)
		}
	}

	return nil
}

// ValidateMQTT checks the fields MQTT mode needs
func (c *Config) ValidateMQTT() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}

// ApplyEnv overlays MQTT settings from the environment.
// Environment values take precedence over the file.
func (c *Config) ApplyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"MQTT_BROKER", &c.MQTT.Broker},
		{"MQTT_CLIENT_ID", &c.MQTT.ClientID},
		{"MQTT_USERNAME", &c.MQTT.Username},
		{"MQTT_PASSWORD", &c.MQTT.Password},
		{"MQTT_PUBLISH_PREFIX", &c.MQTT.PublishPrefix},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// GetBuildingByID returns the building config for the given ID
func (c *Config) GetBuildingByID(id string) *BuildingConfig {
	for i := range c.Data.Buildings {
		if c.Data.Buildings[i].ID == id {
			return &c.Data.Buildings[i]
		}
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ResolveCalibration returns the cached calibration when it still matches the
// configured control points, otherwise fits a new one and refreshes the cache.
func ResolveCalibration(config *Config) (*Calibration, error) {
	cachePath := config.Calibration.CachePath
	points := config.Calibration.ControlPoints

	if cachePath != "" {
		cached, err := LoadCalibration(cachePath)
		if err != nil {
			log.Printf("[calibration] ignoring unreadable cache %s: %v", cachePath, err)
		} else if cached != nil && !cached.NeedsRecalibration(points) {
			cached.Bounds = config.Calibration.Bounds
			return cached, nil
		}
	}

	cal, err := NewCalibration(points, config.Calibration.Bounds)
	if err != nil {
		return nil, err
	}

	if cachePath != "" {
		if err := SaveCalibration(cachePath, cal); err != nil {
			log.Printf("[calibration] could not write cache %s: %v", cachePath, err)
		}
	}
	return cal, nil
}
