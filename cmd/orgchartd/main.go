// Orgchartd serves an organization chart built from the company directory.
//
// The daemon reads users from Microsoft Graph on a daily schedule, builds the
// reporting tree, persists it to a JSON snapshot, and serves it with a small
// JSON API and the static front-end.
//
// Usage:
//
//	# Start with defaults, credentials from the environment or .env
//	orgchartd
//
//	# Use a YAML config file
//	orgchartd --config /etc/orgchart/config.yaml
//
//	# Serve the last snapshot without contacting the directory
//	orgchartd --offline
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgchart/internal/config"
	"github.com/fyrsmithlabs/orgchart/internal/directory"
	"github.com/fyrsmithlabs/orgchart/internal/events"
	httpserver "github.com/fyrsmithlabs/orgchart/internal/http"
	"github.com/fyrsmithlabs/orgchart/internal/logging"
	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
	"github.com/fyrsmithlabs/orgchart/internal/refresh"
	"github.com/fyrsmithlabs/orgchart/internal/settings"
	"github.com/fyrsmithlabs/orgchart/internal/snapshot"
	"github.com/fyrsmithlabs/orgchart/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	envFile    string
	offline    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("ORGCHART_CONFIG"), "path to a YAML config file")
	flag.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flag.BoolVar(&opts.offline, "offline", false, "serve the persisted snapshot without contacting the directory")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  orgchartd [flags]   Start the org chart daemon\n")
			fmt.Fprintf(os.Stderr, "  orgchartd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("orgchartd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("orgchartd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every component and blocks until ctx is canceled.
//
// Startup order:
//  1. Configuration (.env, YAML file, environment)
//  2. Telemetry and logger
//  3. Snapshot store, restored from disk
//  4. Settings store and file watcher
//  5. Directory client, event publisher, and refresh scheduler
//  6. HTTP server
//
// Returns http.ErrServerClosed on graceful shutdown.
func run(ctx context.Context, opts options) error {
	if opts.envFile != "" {
		if _, err := config.LoadEnvFiles(opts.envFile); err != nil {
			return err
		}
	}
	if opts.offline {
		if err := os.Setenv("REFRESH_OFFLINE", "true"); err != nil {
			return err
		}
	}
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version))
	if err != nil {
		return err
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if degraded, reason := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}
	logger.Info(ctx, "starting orgchartd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("offline", cfg.Refresh.Offline),
		zap.String("data_file", cfg.Data.File))

	snapshots := snapshot.NewStore(snapshot.NewFileStore(cfg.Data.File))
	if snap, err := snapshots.Restore(ctx); err != nil {
		if !errors.Is(err, snapshot.ErrNotFound) {
			logger.Warn(ctx, "snapshot not restored", zap.Error(err))
		}
	} else {
		logger.Info(ctx, "snapshot restored",
			zap.Int("employees", snap.Employees),
			zap.Time("built_at", snap.BuiltAt))
	}

	defaults := settings.Defaults()
	defaults.UpdateTime = string(cfg.Refresh.DailyAt)
	defaults.NewEmployeeMonths = cfg.Hierarchy.NewEmployeeMonths
	prefs, err := settings.NewStore(cfg.Data.SettingsFile, defaults, logger.Underlying())
	if err != nil {
		return err
	}

	var source directory.Source
	if !cfg.Refresh.Offline {
		if source, err = newDirectoryClient(cfg, logger); err != nil {
			return err
		}
	}

	publisher, closeEvents := newPublisher(ctx, cfg, logger)
	defer closeEvents()

	scheduler, err := refresh.NewScheduler(source, snapshots, logger,
		refresh.WithDailyAt(cfg.Refresh.DailyAt),
		refresh.WithInterval(cfg.Refresh.Interval),
		refresh.WithRunInitial(cfg.Refresh.RunInitial),
		refresh.WithTimeout(cfg.Refresh.Timeout),
		refresh.WithOffline(cfg.Refresh.Offline),
		refresh.WithBuilder(orgchart.Builder{RootID: cfg.Hierarchy.RootID, RootEmail: cfg.Hierarchy.RootEmail}),
		refresh.WithSettings(prefs),
		refresh.WithEvents(publisher),
	)
	if err != nil {
		return err
	}
	prefs.Subscribe(func(settings.Settings) { scheduler.Reschedule() })
	if scheduler.Enabled() {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
	}
	defer scheduler.Stop()

	watcher, err := settings.NewWatcher(prefs, 0, logger.Underlying())
	if err != nil {
		logger.Warn(ctx, "settings hot reload disabled", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn(ctx, "settings hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	srv, err := httpserver.NewServer(snapshots, scheduler, prefs, logger, &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		WebDir:          cfg.Server.WebDir,
		Debug:           cfg.Server.Debug,
		CORSOrigins:     cfg.Server.Origins(),
		SearchLimit:     cfg.Hierarchy.SearchLimit,
		ServiceName:     cfg.Observability.ServiceName,
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "server configured",
		zap.String("addr", srv.Addr()),
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)))
	return srv.Start(ctx)
}

func newDirectoryClient(cfg *config.Config, logger *logging.Logger) (*directory.Client, error) {
	tokens := directory.NewClientCredentials(
		cfg.Azure.TokenURL(),
		cfg.Azure.ClientID,
		cfg.Azure.ClientSecret.Value(),
		&http.Client{Timeout: cfg.Azure.Timeout},
	)
	return directory.NewClient(tokens, directory.ClientConfig{
		GraphURL:          cfg.Azure.GraphURL,
		PageSize:          cfg.Azure.PageSize,
		Timeout:           cfg.Azure.Timeout,
		RequestsPerSecond: cfg.Azure.RequestsPerSecond,
		MaxRetries:        cfg.Azure.MaxRetries,
	}, logger.Underlying().Named("directory"))
}

// newPublisher connects to NATS when configured. A failed connection is
// logged and events are dropped; the chart keeps working without them.
func newPublisher(ctx context.Context, cfg *config.Config, logger *logging.Logger) (events.Publisher, func()) {
	if cfg.Events.NATSURL == "" {
		return events.Nop{}, func() {}
	}
	p, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, cfg.Observability.ServiceName, logger.Underlying().Named("events"))
	if err != nil {
		logger.Warn(ctx, "refresh events disabled", zap.Error(err))
		return events.Nop{}, func() {}
	}
	logger.Info(ctx, "publishing refresh events", zap.String("prefix", cfg.Events.SubjectPrefix))
	return p, func() { _ = p.Close() }
}
