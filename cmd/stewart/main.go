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
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/stewart/internal/api"
	"github.com/banshee-data/stewart/internal/config"
	"github.com/banshee-data/stewart/internal/db"
	"github.com/banshee-data/stewart/internal/kinematics"
	"github.com/banshee-data/stewart/internal/monitoring"
	"github.com/banshee-data/stewart/internal/motion"
	"github.com/banshee-data/stewart/internal/platform"
	"github.com/banshee-data/stewart/internal/serialmux"
	"github.com/banshee-data/stewart/internal/version"
)

var (
	listen      = flag.String("listen", "", "Listen address (default from config, :8000)")
	port        = flag.String("port", "", "Serial port to open at startup")
	baud        = flag.Int("baud", 0, "Baud rate for -port (default from config, 115200)")
	configPath  = flag.String("config", "", "Path to a JSON configuration file")
	dbPath      = flag.String("db-path", "stewart.db", "Path to the sqlite settings database")
	devMode     = flag.Bool("dev", false, "Use the simulated controller instead of serial hardware")
	debug       = flag.Bool("debug", false, "Log every telemetry frame")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

const shutdownTimeout = 5 * time.Second

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n       %s migrate <command>\n\nFlags:\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

// loadConfig reads the file at path, or returns an empty configuration when
// no path was given.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.LoadConfig(path)
}

// GeometryStore is the part of the settings store startup needs.
type GeometryStore interface {
	LoadGeometry() (*kinematics.Geometry, error)
	SaveGeometry(g kinematics.Geometry) error
}

// resolveGeometry prefers the stored geometry. Without one the configured
// geometry is used and saved so later edits start from it.
func resolveGeometry(cfg *config.Config, store GeometryStore) (kinematics.Geometry, error) {
	stored, err := store.LoadGeometry()
	if err != nil {
		return kinematics.Geometry{}, err
	}
	if stored != nil {
		err := stored.Validate()
		if err == nil {
			return *stored, nil
		}
		log.Printf("ignoring stored geometry: %v", err)
	}
	g := cfg.GetGeometry()
	if err := store.SaveGeometry(g); err != nil {
		return kinematics.Geometry{}, err
	}
	return g, nil
}

// portFactory returns the simulated controller in dev mode and the host's
// serial ports otherwise.
func portFactory(dev bool, cfg *config.Config, g kinematics.Geometry) serialmux.SerialPortFactory {
	if !dev {
		return serialmux.RealPortFactory{}
	}
	home, _, _ := g.InverseKinematics(g.Home())
	strokes := g.LengthsToStroke(home)
	return serialmux.SimulatedPortFactory{
		Initial:  strokes[0],
		Span:     g.Span(),
		Interval: cfg.GetDevFrameInterval(),
	}
}

// startupPort picks the port to open before serving: -port, then the
// configured port, then the stored port if it was open at the last
// shutdown. Dev mode falls back to the simulated port.
func startupPort(flagPort string, flagBaud int, dev bool, cfg *config.Config, stored *db.SerialConfig) (string, serialmux.PortOptions, bool) {
	flagOpts := serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}
	if flagBaud > 0 {
		flagOpts.BaudRate = flagBaud
	}
	switch {
	case flagPort != "":
		return flagPort, flagOpts, true
	case cfg.GetSerialPort() != "":
		return cfg.GetSerialPort(), flagOpts, true
	case stored != nil && stored.AutoOpen && stored.PortPath != "":
		return stored.PortPath, stored.PortOptions(), true
	case dev:
		return serialmux.SimulatedPortName, flagOpts, true
	}
	return "", serialmux.PortOptions{}, false
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdout); err != nil {
				if !errors.Is(err, db.ErrUsage) {
					log.Printf("migrate: %v", err)
				}
				os.Exit(1)
			}
			return
		default:
			usage()
			os.Exit(2)
		}
	}

	log.Printf("starting %s", version.String())
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	addr := *listen
	if addr == "" {
		addr = cfg.GetListen()
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open settings database: %v", err)
	}
	defer store.Close()

	geometry, err := resolveGeometry(cfg, store)
	if err != nil {
		log.Fatalf("failed to load geometry: %v", err)
	}

	p, err := platform.New(platform.Options{
		Geometry: geometry,
		Factory:  portFactory(*devMode, cfg, geometry),
		Store:    store,
		Motion: motion.Config{
			TickRate:       cfg.GetTickRateHz(),
			HomingDuration: cfg.GetHomingDuration(),
			JoinTimeout:    cfg.GetStopTimeout(),
		},
		QueueSize: cfg.GetTelemetryQueue(),
	})
	if err != nil {
		log.Fatalf("failed to initialise platform: %v", err)
	}

	stored, err := store.LoadSerialConfig()
	if err != nil {
		log.Printf("failed to load serial config: %v", err)
	}
	if path, opts, ok := startupPort(*port, *baud, *devMode, cfg, stored); ok {
		if err := p.OpenLink(path, opts); err != nil {
			// Keep serving; the operator can open a port from the UI.
			log.Printf("failed to open %s: %v", path, err)
		} else {
			log.Printf("opened %s (%s)", path, p.Link.Options())
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// telemetry fan-out to WebSocket subscribers
	runCtx, cancelRun := context.WithCancel(context.Background())
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(runCtx)
		log.Print("telemetry routine terminated")
	}()

	s := api.NewServer(p, api.Options{
		WSWriteTimeout: cfg.GetWSWriteTimeout(),
		WSPingInterval: cfg.GetWSPingInterval(),
	})
	mux := s.ServeMux()
	s.AttachDebugRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		log.Printf("failed to attach database admin routes: %v", err)
	}

	server := &http.Server{
		Addr:    addr,
		Handler: api.LoggingMiddleware(mux),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf("listening on %s", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		// Return the platform home and close the link before telemetry stops.
		p.Shutdown(shutdownCtx)
		cancelRun()
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("graceful shutdown complete")
}
