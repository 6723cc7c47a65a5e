package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/config"
	"github.com/always-cache/offline-cache/pkg/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	versionFlag        string
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", os.Getenv("OFFLINE_CACHE_CONFIG"), "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the application (overrides config)")
	flag.StringVar(&versionFlag, "cache-version", "", "Cache version (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Storage provider: sqlite, leveldb or memory (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Storage file name or directory (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "offline-cache", cfg.OtelEndpoint)
	if err != nil {
		log.Error().Err(err).Msg("Could not set up tracing")
	}
	defer shutdownTracing(context.Background())

	storage, err := newStorage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open storage")
	}
	defer storage.Close()

	fetcher := offlinecache.NewNetworkFetcher()
	fetcher.Client.Timeout = cfg.FetchTimeoutDuration()

	worker, err := offlinecache.CreateWorker(offlinecache.Config{
		Storage:             storage,
		Version:             cfg.Version,
		OriginURL:           cfg.OriginURL(),
		Manifest:            cfg.Manifest,
		Shell:               cfg.Shell,
		Fetcher:             fetcher,
		PopulateConcurrency: cfg.PopulateConcurrency,
		Logger:              &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create worker")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(worker, log.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Msgf("Intercepting port %v for %s (cache version %s)", cfg.Port, cfg.Origin, cfg.Version)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			stop()
		}
	}()

	// the server is already up, requests go to the network until the worker is activated
	if err := worker.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Could not start worker")
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	worker.Close()
}

// loadConfig loads the config file and environment, and applies CLI flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Read(configFilenameFlag)
	if err != nil {
		return cfg, err
	}
	if originFlag != "" {
		cfg.Origin = originFlag
	}
	if versionFlag != "" {
		cfg.Version = versionFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if providerFlag != "" {
		cfg.Storage.Provider = providerFlag
		cfg.Storage.Path = ""
	}
	if dbFilenameFlag != "" {
		cfg.Storage.Path = dbFilenameFlag
	}
	return cfg, cfg.Compile()
}

func newStorage(cfg config.Config) (cache.Storage, error) {
	switch cfg.Storage.Provider {
	case "sqlite":
		return cache.NewSQLiteStorage(cfg.Storage.Path)
	case "leveldb":
		return cache.NewLevelDBStorage(cfg.Storage.Path)
	case "memory":
		return cache.NewMemStorage(), nil
	}
	return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Storage.Provider)
}

type statusResponse struct {
	Version string   `json:"version"`
	State   string   `json:"state"`
	Stores  []string `json:"stores"`
	Entries int      `json:"entries"`
}

// newRouter mounts the admin endpoints under /_offline and hands everything else to the worker.
func newRouter(worker *offlinecache.Worker, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Trace().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	}))

	r.Route("/_offline", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeStatus(w, r, worker)
		})
		r.Post("/populate", func(w http.ResponseWriter, r *http.Request) {
			result, err := worker.Repopulate(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			writeJSON(w, r, map[string][]string{
				"succeeded": result.Succeeded,
				"failed":    result.Failed,
			})
		})
	})
	r.NotFound(worker.ServeHTTP)
	r.MethodNotAllowed(worker.ServeHTTP)
	return r
}

func writeStatus(w http.ResponseWriter, r *http.Request, worker *offlinecache.Worker) {
	status := statusResponse{
		Version: worker.Version(),
		State:   worker.State().String(),
	}
	var err error
	if status.Stores, err = worker.StoreNames(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not list stores")
	}
	if status.Entries, err = worker.EntryCount(); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not count entries")
	}
	writeJSON(w, r, status)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
