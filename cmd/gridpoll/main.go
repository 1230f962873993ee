package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbracken/gridpoll/internal/api"
	"github.com/tbracken/gridpoll/internal/config"
	"github.com/tbracken/gridpoll/internal/engine"
	"github.com/tbracken/gridpoll/internal/mailer"
	"github.com/tbracken/gridpoll/internal/progress"
	"github.com/tbracken/gridpoll/internal/stats"
	"github.com/tbracken/gridpoll/internal/status"
	"github.com/tbracken/gridpoll/internal/storage"
)

const (
	defaultPort    = "8080"
	defaultRootDir = "/data"
)

func main() {
	// Parse command line flags
	port := flag.String("port", getEnv("GRIDPOLL_PORT", defaultPort), "HTTP server port")
	rootDir := flag.String("root", getEnv("GRIDPOLL_ROOT", defaultRootDir), "Root data directory")
	flag.Parse()

	// Derive paths from root directory
	configPath := filepath.Join(*rootDir, "config", "config.json")
	dbPath := filepath.Join(*rootDir, "config", "gridpoll.db")
	downloadsDir := filepath.Join(*rootDir, "downloads")

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Starting gridpoll...")
	log.Printf("Version: %s", getVersion())
	log.Printf("Root directory: %s", *rootDir)
	log.Printf("Config: %s", configPath)
	log.Printf("Database: %s", dbPath)

	// Ensure required directories exist
	if err := ensureDirectories(*rootDir, downloadsDir); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	// Initialize configuration manager
	configMgr, err := config.NewManager(configPath, *rootDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration manager: %v", err)
	}

	// Load or create default configuration
	if err := configMgr.Load(); err != nil {
		if os.IsNotExist(err) {
			log.Println("No configuration file found, creating default configuration...")
			if err := configMgr.CreateDefault(); err != nil {
				log.Fatalf("Failed to create default configuration: %v", err)
			}
			log.Println("Default configuration created")
		} else {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	settings := configMgr.GetSettings()
	setupLogging(settings.LogFile, settings.LogMaxSizeMB, settings.LogMaxBackups)
	log.Println("Configuration loaded")

	// Initialize database
	log.Println("Initializing database...")
	db, err := storage.NewDatabase(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()
	log.Println("Database initialized")

	// Progress bus, status recorder and statistics
	bus := progress.NewBus()
	statsReg := stats.NewRegistry()
	recorder := status.NewRecorder(db, settings, func(device, message string) {
		log.Printf("[%s] %s", device, message)
	})

	// Initialize the download engine
	log.Println("Initializing engine...")
	var engineOpts []engine.Option
	if m := mailer.New(settings); m != nil {
		engineOpts = append(engineOpts, engine.WithMailer(m))
	}
	eng := engine.New(settings, db, bus, recorder, statsReg, engineOpts...)
	defer eng.Shutdown()

	// Register every enabled device with the scheduler
	devices, err := db.ListDevices()
	if err != nil {
		log.Fatalf("Failed to list devices: %v", err)
	}
	registered := 0
	for _, dev := range devices {
		if !dev.Enabled {
			continue
		}
		if err := eng.Register(dev); err != nil {
			log.Printf("Warning: %v; device disabled until next reload", err)
			continue
		}
		registered++
	}
	log.Printf("Registered %d of %d devices", registered, len(devices))

	eng.Start()
	log.Println("Engine started")

	// Initialize API server
	log.Println("Initializing API server...")
	server := api.NewServer(configMgr, db, eng, bus, statsReg)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", *port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("HTTP server listening on port %s", *port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ensureDirectories creates required directories if they don't exist
func ensureDirectories(rootDir, downloadsDir string) error {
	dirs := []string{
		filepath.Join(rootDir, "config"),
		downloadsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// setupLogging mirrors log output into a rotating file when configured.
func setupLogging(logFile string, maxSizeMB, maxBackups int) {
	if logFile == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
}

// getVersion returns the application version
func getVersion() string {
	// This would typically be injected at build time using ldflags
	return "1.0.0-dev"
}
