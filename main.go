package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	GraphFile  string
	OutputFile string
	HttpPort   int

	BuildGraph  bool
	Validate    bool
	RenderGraph bool
	Calibrate   bool
	MqttMode    bool
	HttpMode    bool
}

// Runner is the set of modes the command line can select
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunBuildGraph() error
	RunValidate() error
	RunRenderGraph() error
	RunCalibration() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("wayfinder: %v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("wayfinder", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.GraphFile, "graph", "", "Path to the graph artifact (overrides data.graphFile)")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --build-graph and --render-graph")
	fs.BoolVar(&opts.BuildGraph, "build-graph", false, "Build, validate and write the outdoor graph, then exit")
	fs.BoolVar(&opts.Validate, "validate", false, "Validate the graph artifact and exit")
	fs.BoolVar(&opts.RenderGraph, "render-graph", false, "Render the graph to SVG or PNG and exit")
	fs.BoolVar(&opts.Calibrate, "calibrate", false, "Fit the calibration, print residuals and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Ingest device fixes over MQTT")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the HTTP API")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	showVersion := fs.Bool("version", false, "Print the version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "wayfinder version: %s\n", Version)
	if *showVersion {
		return nil
	}

	app.ApplyOptions(opts)

	switch {
	case opts.BuildGraph:
		return app.RunBuildGraph()
	case opts.Validate:
		return app.RunValidate()
	case opts.RenderGraph:
		return app.RunRenderGraph()
	case opts.Calibrate:
		return app.RunCalibration()
	}

	if !opts.MqttMode && !opts.HttpMode {
		// Default to the HTTP API
		opts.HttpMode = true
		app.ApplyOptions(opts)
		fmt.Fprintln(out, "No mode selected, serving HTTP. Use --mqtt for broker ingest.")
	}
	fmt.Fprintln(out, "wayfinder service starting...")
	return app.RunService()
}
