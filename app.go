package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/kwv/binwatch/waste"
)

const shutdownTimeout = 5 * time.Second

// App encapsulates the application state and dependencies
type App struct {
	Config     *waste.Config
	Session    *waste.Session
	MQTTClient *waste.MQTTClient
	Publisher  *waste.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	EnvFile      string
	Synthetic    bool
	OutputFile   string
	RenderFormat string
	MaxRoutes    int
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	out         io.Writer
	sessionOpts []waste.SessionOption
	live        atomic.Pointer[waste.Session]
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		ConfigFile: defaultConfigFile,
		out:        os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.EnvFile = opts.EnvFile
	a.Synthetic = opts.Synthetic
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.MaxRoutes = opts.MaxRoutes
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// loadConfig reads .env, then the config file (CONFIG_PATH replaces the
// default path), then applies the CLI overrides.
func (a *App) loadConfig() (*waste.Config, error) {
	if a.Config != nil {
		return a.Config, nil
	}

	if a.EnvFile != "" {
		if err := waste.LoadDotEnv(a.EnvFile); err != nil {
			log.WithError(err).Warn("ignoring .env file")
		}
	}

	path := a.ConfigFile
	if p := os.Getenv("CONFIG_PATH"); p != "" && (path == "" || path == defaultConfigFile) {
		path = p
	}

	cfg, err := waste.LoadConfigOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if a.Synthetic {
		cfg.Mode = waste.ModeSynthetic
	}
	if a.HttpPort > 0 {
		cfg.HTTP.Port = a.HttpPort
	}

	a.Config = cfg
	log.WithFields(log.Fields{"mode": cfg.Mode, "cache": cfg.Cache.Dir}).Info("configuration loaded")
	return cfg, nil
}

func (a *App) session() (*waste.Session, error) {
	if a.Session != nil {
		return a.Session, nil
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	opts := append([]waste.SessionOption(nil), a.sessionOpts...)
	if a.Publisher != nil {
		opts = append(opts, waste.WithNotifier(a.Publisher))
	}
	a.Session = waste.NewSession(cfg, opts...)
	a.live.Store(a.Session)
	return a.Session, nil
}

// RunFetch forces a refresh and prints what was loaded
func (a *App) RunFetch() error {
	s, err := a.session()
	if err != nil {
		return err
	}

	snap := s.GetContainers(context.Background(), true)
	a.printStatus(snap)

	tiers, err := s.Metrics().FullnessTiers(snap.Records)
	if err != nil {
		return fmt.Errorf("computing fullness tiers: %w", err)
	}
	fmt.Fprintf(a.out, "Fullness:   %d critical (%.1f%%), %d warning (%.1f%%), %d ok (%.1f%%)\n",
		tiers.Critical, tiers.CriticalPct, tiers.Warning, tiers.WarningPct, tiers.OK, tiers.OKPct)

	hoods := waste.Neighborhoods(snap.Records)
	fmt.Fprintf(a.out, "Areas:      %d (%s)\n", len(hoods), strings.Join(hoods, ", "))

	if snap.Status.Source == waste.SourceNone {
		return fmt.Errorf("no container data available: %s", snap.Status.Error)
	}
	return nil
}

func (a *App) printStatus(snap waste.ContainerSnapshot) {
	st := snap.Status
	fmt.Fprintf(a.out, "Source:     %s", st.Source)
	if st.Stale {
		fmt.Fprint(a.out, " (stale)")
	}
	fmt.Fprintln(a.out)
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(a.out, "Updated:    %s\n", st.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(a.out, "Containers: %d (%d dropped)\n", len(snap.Records), st.Dropped)
	if st.Error != "" {
		fmt.Fprintf(a.out, "Error:      %s\n", st.Error)
	}
}

// RunRender builds routes over the current collection and writes the map
func (a *App) RunRender() error {
	s, err := a.session()
	if err != nil {
		return err
	}

	format, err := renderFormat(a.RenderFormat, a.OutputFile)
	if err != nil {
		return err
	}
	output := a.OutputFile
	if output == "" {
		output = "routes." + format
	}

	snap := s.GetContainers(context.Background(), false)
	maxRoutes := a.MaxRoutes
	if maxRoutes <= 0 {
		maxRoutes = s.Config().Routes.MaxRoutes
	}
	routes := s.BuildRoutes(snap.Records, maxRoutes)

	if err := writeRouteMap(output, format, waste.NewRouteRenderer(snap.Records, routes)); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Rendered %d routes over %d containers (%s data) to %s\n",
		len(routes.Routes), len(snap.Records), snap.Status.Source, output)
	return nil
}

func writeRouteMap(path, format string, r *waste.RouteRenderer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	if format == "svg" {
		err = r.RenderToSVG(f)
	} else {
		err = r.RenderToPNG(f)
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", format, err)
	}
	return nil
}

// renderFormat resolves the output format from --format or the file extension.
func renderFormat(format, output string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "svg", "png":
		return f, nil
	case "":
	default:
		return "", fmt.Errorf("unsupported render format %q (want svg or png)", format)
	}
	if strings.EqualFold(filepath.Ext(output), ".svg") {
		return "svg", nil
	}
	return "png", nil
}

// RunService runs the HTTP and/or MQTT surfaces until SIGINT or SIGTERM
func (a *App) RunService() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.serve(ctx)
}

func (a *App) serve(ctx context.Context) error {
	fmt.Fprintln(a.out, "Starting binwatch service...")

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	if a.MqttMode {
		client, err := waste.ConnectMQTT(cfg.MQTT, a.handleRefreshRequest)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if client == nil {
			return errors.New("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = client
		a.Publisher = waste.NewPublisher(client.GetClient(), client.PublishPrefix())
		fmt.Fprintln(a.out, "MQTT refresh publisher initialized")
	}

	s, err := a.session()
	if err != nil {
		return err
	}
	snap := s.GetContainers(ctx, false)
	log.WithFields(log.Fields{
		"source":     snap.Status.Source,
		"containers": len(snap.Records),
		"stale":      snap.Status.Stale,
	}).Info("initial container load")

	errCh := make(chan error, 1)
	var srv *http.Server
	if a.HttpMode {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:           newHTTPServer(s),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("[HTTP] starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	a.printServiceInfo(cfg)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	fmt.Fprintln(a.out, "\nShutting down service...")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("[HTTP] forced shutdown")
		}
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Fprintln(a.out, "Service stopped")
	return runErr
}

// handleRefreshRequest serves refresh commands received over MQTT.
func (a *App) handleRefreshRequest(force bool) {
	s := a.live.Load()
	if s == nil {
		log.Warn("refresh requested before the session is ready")
		return
	}
	status := s.Refresh(context.Background(), force)
	log.WithFields(log.Fields{
		"force":  force,
		"source": status.Source,
		"stale":  status.Stale,
	}).Info("refresh requested over MQTT")
}

func (a *App) printServiceInfo(cfg *waste.Config) {
	fmt.Fprintln(a.out, "\nService Running")
	fmt.Fprintln(a.out, "===============")

	if a.MqttMode && a.MQTTClient != nil {
		prefix := a.MQTTClient.PublishPrefix()
		fmt.Fprintln(a.out, "\nMQTT:")
		fmt.Fprintf(a.out, "  Refresh announcements: %s/refresh\n", prefix)
		fmt.Fprintf(a.out, "  Critical containers:   %s/critical\n", prefix)
		fmt.Fprintf(a.out, "  Refresh commands:      %s\n", a.MQTTClient.CommandTopic())
	}

	if a.HttpMode {
		fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", cfg.HTTP.Port)
		fmt.Fprintln(a.out, "  GET  /health                      - Health check")
		fmt.Fprintln(a.out, "  GET  /api/v1/status               - Data source and freshness")
		fmt.Fprintln(a.out, "  GET  /api/v1/containers           - Containers (?category&neighborhood&q&sort&refresh)")
		fmt.Fprintln(a.out, "  GET  /api/v1/containers.geojson   - Containers as GeoJSON")
		fmt.Fprintln(a.out, "  GET  /api/v1/complaints           - Complaints (?status&neighborhood)")
		fmt.Fprintln(a.out, "  POST /api/v1/complaints           - Submit a complaint")
		fmt.Fprintln(a.out, "  GET  /api/v1/metrics/{overview,efficiency,tiers,trend,categories}")
		fmt.Fprintln(a.out, "  GET  /api/v1/routes[.geojson|.svg|.png]")
	}

	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")
}
