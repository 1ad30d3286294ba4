// Command blackhole runs the take archival service: it records tracked
// camera telemetry per take, archives it as USD stages, mirrors the take
// catalog to a spreadsheet, and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/magnopus-opensource/blackhole/internal/api"
	"github.com/magnopus-opensource/blackhole/internal/capture"
	"github.com/magnopus-opensource/blackhole/internal/catalog"
	"github.com/magnopus-opensource/blackhole/internal/config"
	"github.com/magnopus-opensource/blackhole/internal/export"
	"github.com/magnopus-opensource/blackhole/internal/monitoring"
	"github.com/magnopus-opensource/blackhole/internal/recording"
	"github.com/magnopus-opensource/blackhole/internal/timeutil"
	"github.com/magnopus-opensource/blackhole/internal/version"
	"github.com/magnopus-opensource/blackhole/internal/workbook"
)

var (
	listen    = flag.String("listen", ":8000", "Listen address")
	configDir = flag.String("config", "blackhole_config", "Directory holding app_config.ini and device_config.ini")
	admin     = flag.Bool("admin", false, "Mount the /debug admin routes (sql console, db backup)")
	verbose   = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	monitoring.SetVerbose(*verbose)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("blackhole %s starting", version.Version)

	app, err := config.LoadApp(*configDir)
	if err != nil {
		log.Fatalf("Failed to load app config: %v", err)
	}

	db, err := catalog.Open(app.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open takes catalog: %v", err)
	}
	defer db.Close()
	db.SetMirror(workbook.New(app.MasterSpreadsheetPath, timeutil.RealClock{}))

	manager := recording.NewManager(recording.Config{
		Store:       db,
		Devices:     func() ([]config.Device, error) { return config.LoadDevices(*configDir) },
		ArchiveRoot: app.ArchiveDirectory,
	})
	exporter := export.New(app.ExportDirectory, app.ArchiveDirectory, nil)

	// Report bad device config at startup rather than on the first take.
	if devices, err := config.LoadDevices(*configDir); err != nil {
		log.Fatalf("Failed to load device config: %v", err)
	} else {
		for _, dev := range devices {
			if _, err := capture.ResolveProtocol(dev.Protocol); err != nil {
				log.Printf("Device %s: %v", dev.Name, err)
			}
		}
		log.Printf("Loaded %d tracked device(s)", len(devices))
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(db, manager, exporter, nil).ServeMux()
		if *admin {
			if err := db.AttachAdminRoutes(mux); err != nil {
				log.Printf("Failed to attach admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("Listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
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
	}()

	// Stop any active recording on shutdown so its take still archives.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		manager.Stop()
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
