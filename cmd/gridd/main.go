// Command gridd runs the fan control loop for a Grid+ fan controller and
// serves its status, configuration and history over HTTP.
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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/gridctl/internal/api"
	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/db"
	"github.com/banshee-data/gridctl/internal/engine"
	"github.com/banshee-data/gridctl/internal/grid"
	"github.com/banshee-data/gridctl/internal/monitoring"
	"github.com/banshee-data/gridctl/internal/seriallink"
	"github.com/banshee-data/gridctl/internal/telemetry"
	"github.com/banshee-data/gridctl/internal/timeutil"
	"github.com/banshee-data/gridctl/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultPath, "Path to the JSON configuration file")
	listen      = flag.String("listen", "localhost:8080", "Listen address for the HTTP API")
	dbPath      = flag.String("db", db.DefaultPath, "Path to the cycle history database (empty disables history)")
	devMode     = flag.Bool("dev", false, "Run against a simulated controller and synthetic temperatures")
	hwmonRoot   = flag.String("hwmon", telemetry.DefaultHwmonRoot, "Root of the hwmon sysfs tree")
	period      = flag.Duration("period", engine.DefaultPeriod, "Control cycle period")
	retention   = flag.Duration("retention", 7*24*time.Hour, "How long cycle history is kept (0 keeps everything)")
	pollMetrics = flag.String("poll", "rpm,voltage", "Fan metrics read when polling is enabled (rpm, voltage, current)")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gridd [flags]\n       gridd migrate <action> [args]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("gridd %s\n", version.Current())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], *dbPath); err != nil {
				log.Fatalf("migrate: %v", err)
			}
			return
		default:
			flag.Usage()
			os.Exit(2)
		}
	}

	monitoring.SetLogger(log.Printf)

	if err := run(); err != nil {
		log.Fatalf("gridd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// run starts the daemon and blocks until a signal arrives or a component
// fails. Deferred cleanup always runs before it returns.
func run() error {
	sel, err := parsePoll(*pollMetrics)
	if err != nil {
		return fmt.Errorf("invalid -poll: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		source    telemetry.Source
		opener    seriallink.Opener
		listPorts = seriallink.ListPorts
	)
	if *devMode {
		log.Printf("dev mode: simulated controller and synthetic temperatures")
		source = newDevSource(timeutil.RealClock{})
		opener = devOpener(grid.NewSimulator())
		listPorts = func() ([]string, error) { return []string{"/dev/sim0"}, nil }
	} else {
		source = telemetry.NewHwmonSource(*hwmonRoot)
		opener = seriallink.SerialOpener{}
	}

	cfg, err := prepareConfig(ctx, *configPath, source, listPorts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store := config.NewStore(cfg, *configPath)

	opts := engine.Options{Period: *period, Poll: sel}

	var history *db.DB
	if *dbPath != "" {
		history, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		defer history.Close()
		opts.Recorder = history
	}

	client := grid.NewClient(opener)
	eng := engine.New(store, source, client, opts)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := eng.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	if history != nil {
		g.Go(func() error {
			if err := eng.RunRecorder(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("recorder: %w", err)
			}
			return nil
		})
	}

	if history != nil && *retention > 0 {
		worker := db.NewRetentionWorker(history, *retention)
		g.Go(func() error {
			if err := worker.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("retention: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		var hist api.History
		if history != nil {
			hist = history
		}
		mux := api.NewServer(store, eng, hist, listPorts).ServeMux()
		client.AttachAdminRoutes(mux)
		if history != nil {
			if err := history.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}
		return serve(gCtx, *listen, api.LoggingMiddleware(mux))
	})

	return g.Wait()
}

// serve runs an HTTP server on addr until ctx ends.
func serve(ctx context.Context, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- fmt.Errorf("failed to start server: %w", err)
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
	return nil
}
