package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

// Version is set at build time via -ldflags
var Version = "dev"

const defaultConfigFile = "config.yaml"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	EnvFile      string
	Fetch        bool
	Synthetic    bool
	RenderOnly   bool
	OutputFile   string
	RenderFormat string
	MaxRoutes    int
	HttpMode     bool
	HttpPort     int
	MqttMode     bool
}

// Runner is what run dispatches to; *App implements it.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunFetch() error
	RunRender() error
	RunService() error
}

func main() {
	setupLogging(os.Getenv("LOG_LEVEL"))

	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("binwatch failed")
	}
}

func setupLogging(level string) {
	log.SetHandler(cli.New(os.Stderr))
	log.SetLevel(log.InfoLevel)
	if level == "" {
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("ignoring invalid LOG_LEVEL %q", level)
		return
	}
	log.SetLevel(lvl)
}

func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("binwatch", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", defaultConfigFile, "Path to configuration file (CONFIG_PATH overrides the default)")
	fs.StringVar(&opts.EnvFile, "env", ".env", "Path to a .env file loaded before the configuration")
	fs.BoolVar(&opts.Fetch, "fetch", false, "Refresh container data from the source, print a summary and exit")
	fs.BoolVar(&opts.Synthetic, "synthetic", false, "Use generated data instead of the remote registry")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render the collection route map and exit")
	fs.StringVar(&opts.OutputFile, "output", "routes.png", "Output file for --render mode")
	fs.StringVar(&opts.RenderFormat, "format", "", "Render format: svg or png (default: from the --output extension)")
	fs.IntVar(&opts.MaxRoutes, "max-routes", 0, "Maximum number of routes to build (default: routes.maxRoutes)")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve the JSON query API")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default: http.port, 8080)")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish refresh announcements and accept refresh commands over MQTT")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "binwatch version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Fetch:
		return app.RunFetch()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.HttpMode || opts.MqttMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "binwatch service starting...")
	fmt.Fprintln(out, "Use --fetch to refresh container data and print a summary")
	fmt.Fprintln(out, "Use --render to write the route map (--output routes.svg for vector output)")
	fmt.Fprintln(out, "Use --http to serve the query API")
	fmt.Fprintln(out, "Use --mqtt to publish refresh announcements")
	fmt.Fprintln(out, "Use --synthetic with any mode to work on generated data")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - source, cache, neighborhoods, MQTT and HTTP settings")
	fmt.Fprintln(out, "  .env        - environment overrides (BINWATCH_*, MQTT_*, HTTP_PORT)")
	return nil
}
