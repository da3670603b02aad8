package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kwv/wayfinder/nav"
)

// App encapsulates the application state and dependencies
type App struct {
	Config      *nav.Config
	Calibration *nav.Calibration
	Graph       *nav.PathGraph
	Pathfinder  *nav.Pathfinder
	Worker      *nav.RouteWorker
	Buildings   map[string]*nav.BuildingGraph
	Hybrid      *nav.HybridGraph
	Sessions    *nav.SessionManager
	MQTTClient  *nav.MQTTClient
	Publisher   *nav.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile string
	GraphFile  string
	OutputFile string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool

	out io.Writer
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{out: os.Stdout}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.GraphFile = opts.GraphFile
	a.OutputFile = opts.OutputFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads the config file once and applies MQTT env overrides
func (a *App) loadConfig() error {
	if a.Config != nil {
		return nil
	}
	config, err := nav.LoadConfig(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	config.ApplyEnv()
	if a.GraphFile != "" {
		config.Data.GraphFile = a.GraphFile
	}
	a.Config = config
	log.Printf("[config] loaded %s", a.ConfigFile)
	return nil
}

// loadCalibration fits (or reuses) the geo <-> plane transform. Without
// control points the app runs in plane-only mode.
func (a *App) loadCalibration() error {
	if a.Calibration != nil {
		return nil
	}
	if len(a.Config.Calibration.ControlPoints) == 0 {
		log.Println("[calibration] no control points configured, geographic features disabled")
		return nil
	}
	cal, err := nav.ResolveCalibration(a.Config)
	if err != nil {
		return err
	}
	a.Calibration = cal
	log.Printf("[calibration] %d control points, %.3f m per plane unit",
		len(cal.ControlPoints), cal.MetersPerUnit())
	return nil
}

// buildOutdoorGraph runs the offline build from the configured path geometry
func (a *App) buildOutdoorGraph() (*nav.PathGraph, error) {
	if a.Config.Data.OutdoorPaths == "" {
		return nil, fmt.Errorf("data.outdoorPaths is not configured")
	}
	plan, err := nav.LoadFloorPlan(a.Config.Data.OutdoorPaths, a.Calibration)
	if err != nil {
		return nil, err
	}
	builder := nav.NewGraphBuilder(a.Config.Graph)
	builder.Calibration = a.Calibration
	return builder.Build(plan.Paths), nil
}

// loadGraph reads the published graph artifact, or builds one when no
// artifact exists yet
func (a *App) loadGraph() error {
	if a.Graph != nil {
		return nil
	}
	if path := a.Config.Data.GraphFile; path != "" {
		if _, err := os.Stat(path); err == nil {
			g, err := nav.LoadGraph(path)
			if err != nil {
				return err
			}
			a.Graph = g
			log.Printf("[graph] loaded %s: %d nodes, %d edges", path, g.NodeCount(), g.EdgeCount())
			return nil
		}
		log.Printf("[graph] %s not found, building from %s", path, a.Config.Data.OutdoorPaths)
	}
	g, err := a.buildOutdoorGraph()
	if err != nil {
		return err
	}
	a.Graph = g
	return nil
}

// loadBuildings builds every configured building graph
func (a *App) loadBuildings(ctx context.Context) error {
	a.Buildings = make(map[string]*nav.BuildingGraph)
	for _, bc := range a.Config.Data.Buildings {
		floors := make([]nav.FloorPlanSource, 0, len(bc.Floors))
		for _, fc := range bc.Floors {
			// Indoor plans are drawn in their own plane units
			plan, err := nav.LoadFloorPlan(fc.Plan, nil)
			if err != nil {
				return fmt.Errorf("building %s: %w", bc.ID, err)
			}
			floors = append(floors, nav.FloorPlanSource{FloorID: fc.ID, Plan: plan})
		}
		b, err := nav.BuildBuildingGraph(ctx, bc.ID, floors, a.Config.Graph, a.Config.Indoor)
		if err != nil {
			return err
		}
		a.Buildings[bc.ID] = b
	}
	return nil
}

// Prepare loads everything the service needs
func (a *App) Prepare(ctx context.Context) error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.loadCalibration(); err != nil {
		return err
	}
	if err := a.loadGraph(); err != nil {
		return err
	}

	report := nav.ValidateGraph(a.Graph, a.Config.Validator)
	for _, w := range report.Warnings {
		log.Printf("[graph] warning: %s", w)
	}
	if !report.IsValid {
		for _, e := range report.Errors {
			log.Printf("[graph] error: %s", e)
		}
	}

	a.Pathfinder = nav.NewPathfinder(a.Graph, a.Calibration, a.Config.Routing.NearestNodeMaxDistance)
	if a.Config.Routing.UseWorker {
		a.Worker = nav.NewRouteWorker(a.Pathfinder, a.Config.Routing.Workers, a.Config.Routing.WorkerTimeout)
	}

	if err := a.loadBuildings(ctx); err != nil {
		return err
	}
	if len(a.Buildings) > 0 && a.Calibration != nil {
		buildings := make([]*nav.BuildingGraph, 0, len(a.Buildings))
		for _, bc := range a.Config.Data.Buildings {
			buildings = append(buildings, a.Buildings[bc.ID])
		}
		hybrid, err := nav.BuildHybridGraph(a.Graph, a.Calibration, buildings, a.Config.Data.Entrances, a.Config.Indoor)
		if err != nil {
			return err
		}
		a.Hybrid = hybrid
	}

	a.Sessions = nav.NewSessionManager(*a.Config, a.Calibration)
	return nil
}

// findOutdoor routes between two outdoor node ids, through the worker pool
// when it is enabled
func (a *App) findOutdoor(from, to string) (nav.PathResult, error) {
	if a.Worker != nil {
		return a.Worker.FindPath(from, to)
	}
	return a.Pathfinder.FindPath(from, to)
}

// close releases the worker pool and the broker connection
func (a *App) close() {
	if a.Worker != nil {
		if err := a.Worker.Close(); err != nil {
			log.Printf("[worker] close: %v", err)
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
}

// RunBuildGraph builds the outdoor graph, validates it and publishes the
// artifact. An invalid graph is not written.
func (a *App) RunBuildGraph() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.loadCalibration(); err != nil {
		return err
	}
	g, err := a.buildOutdoorGraph()
	if err != nil {
		return err
	}

	report := nav.ValidateGraph(g, a.Config.Validator)
	printReport(a.out, report)
	if !report.IsValid {
		return fmt.Errorf("graph failed validation with %d errors", len(report.Errors))
	}

	path := a.OutputFile
	if path == "" {
		path = a.Config.Data.GraphFile
	}
	if path == "" {
		path = "graph.json"
	}
	if err := nav.SaveGraph(path, g); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Graph written to %s\n", path)
	return nil
}

// RunValidate validates the published graph and prints the report
func (a *App) RunValidate() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.loadCalibration(); err != nil {
		return err
	}
	if err := a.loadGraph(); err != nil {
		return err
	}
	report := nav.ValidateGraph(a.Graph, a.Config.Validator)
	printReport(a.out, report)
	if !report.IsValid {
		return fmt.Errorf("graph is invalid")
	}
	return nil
}

// RunRenderGraph draws the graph to an SVG or PNG file
func (a *App) RunRenderGraph() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	if err := a.loadCalibration(); err != nil {
		return err
	}
	if err := a.loadGraph(); err != nil {
		return err
	}

	path := a.OutputFile
	if path == "" {
		path = "graph.svg"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	renderer := nav.NewGraphRenderer(a.Graph)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = renderer.RenderToPNG(f)
	default:
		err = renderer.RenderToSVG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	fmt.Fprintf(a.out, "Graph rendered to %s\n", path)
	return nil
}

// RunCalibration fits the transform, prints residuals and refreshes the cache
func (a *App) RunCalibration() error {
	if err := a.loadConfig(); err != nil {
		return err
	}
	cal, err := nav.NewCalibration(a.Config.Calibration.ControlPoints, a.Config.Calibration.Bounds)
	if err != nil {
		return err
	}

	t := cal.Transform
	fmt.Fprintln(a.out, "Calibration")
	fmt.Fprintln(a.out, "===========")
	fmt.Fprintf(a.out, "x = %.6f*lng + %.6f*lat + %.6f\n", t.A, t.B, t.C)
	fmt.Fprintf(a.out, "y = %.6f*lng + %.6f*lat + %.6f\n", t.D, t.E, t.F)
	fmt.Fprintf(a.out, "rotation %.2f°, %.4f m per plane unit\n\n", t.RotationDeg(), cal.MetersPerUnit())
	for _, r := range cal.Residuals() {
		fmt.Fprintf(a.out, "  %-20s plane error %.4f, round trip %.2e°\n", r.Name, r.PlaneError, r.RoundTripDeg)
	}

	if path := a.Config.Calibration.CachePath; path != "" {
		if err := nav.SaveCalibration(path, cal); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "\nCalibration cached to %s\n", path)
	}
	a.Calibration = cal
	return nil
}

// RunService starts MQTT ingest and/or the HTTP API and blocks until
// interrupted
func (a *App) RunService() error {
	fmt.Fprintln(a.out, "Starting wayfinder service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Prepare(ctx); err != nil {
		return err
	}
	defer a.close()

	if a.MqttMode {
		if err := a.startMQTT(); err != nil {
			return err
		}
	}

	var server *http.Server
	if a.HttpMode {
		server = &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
				stop()
			}
		}()
	}

	a.printServiceInfo()
	<-ctx.Done()

	fmt.Fprintln(a.out, "\nShutting down service...")
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[HTTP] shutdown: %v", err)
		}
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}

// startMQTT wires broker fixes through the ingestor to the publisher
func (a *App) startMQTT() error {
	if err := a.Config.ValidateMQTT(); err != nil {
		return err
	}
	ingestor := nav.NewIngestor(a.Sessions, nil)
	client, err := nav.InitMQTT(a.Config, ingestor.HandleFix)
	if err != nil {
		return fmt.Errorf("starting MQTT: %w", err)
	}
	a.MQTTClient = client
	a.Publisher = nav.NewPublisher(client.GetClient(), a.Config.MQTT.PublishPrefix)
	ingestor.SetPublisher(a.Publisher)
	return nil
}

func (a *App) printServiceInfo() {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")
	fmt.Fprintf(a.out, "Graph: %d nodes, %d edges\n", a.Graph.NodeCount(), a.Graph.EdgeCount())
	if len(a.Buildings) > 0 {
		fmt.Fprintf(a.out, "Buildings: %d\n", len(a.Buildings))
	}

	if a.MqttMode {
		prefix := a.Config.MQTT.PublishPrefix
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Subscribed: %s\n", nav.FixTopic(prefix))
		fmt.Fprintf(a.out, "  Publishing to: %s/{session}/position|progress|instruction\n", prefix)
	}

	if a.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.out, "  GET  /health                  - Health check")
		fmt.Fprintln(a.out, "  GET  /route                   - Outdoor route")
		fmt.Fprintln(a.out, "  GET  /route/indoor            - Indoor route")
		fmt.Fprintln(a.out, "  GET  /route/hybrid            - Outdoor + indoor route")
		fmt.Fprintln(a.out, "  GET  /graph/report            - Graph validation report")
		fmt.Fprintln(a.out, "  GET  /graph.svg               - Graph drawing")
		fmt.Fprintln(a.out, "  POST /sessions                - Start a session")
		fmt.Fprintln(a.out, "  POST /sessions/{id}/fix       - Submit a device fix")
		fmt.Fprintln(a.out, "  POST /sessions/{id}/route     - Set the active route")
		fmt.Fprintln(a.out, "  GET  /sessions/{id}/position  - Last position and progress")
		fmt.Fprintln(a.out, "  DELETE /sessions/{id}         - End a session")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}

// printReport writes a validation report as indented JSON
func printReport(w io.Writer, report *nav.ValidationReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("Error encoding report: %v", err)
		return
	}
	fmt.Fprintln(w, string(data))
}
