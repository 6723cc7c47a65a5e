package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	"github.com/always-cache/offline-cache/pkg/telemetry"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel/attribute"
)

type Config struct {
	// Storage for the versioned stores.
	Storage cache.Storage
	// Version names the current store.
	// Bumping it is the only way to invalidate the stores of earlier versions.
	Version string
	// URL of the origin, i.e. the application the clients load.
	// Relative request URIs are resolved against it. Only scheme and host are used.
	OriginURL url.URL
	// Resources to pre-cache at install time.
	Manifest Manifest
	// Document served to navigation requests when the network fails.
	// Defaults to DefaultShell.
	Shell string
	// Network primitive. A NetworkFetcher is used if nil.
	Fetcher Fetcher
	// Maximum number of manifest entries fetched in parallel.
	PopulateConcurrency int
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker is the offline cache manager.
// It is a http.Handler that intercepts every request it receives.
// Until the worker has been activated, requests go straight to the network.
type Worker struct {
	storage  cache.Storage
	version  string
	keyer    cachekey.CacheKeyer
	manifest Manifest
	shellKey string
	net      network
	log      zerolog.Logger

	populator   Populator
	invalidator Invalidator

	mu          sync.RWMutex
	state       State
	store       cache.Store
	interceptor *Interceptor

	pending sync.WaitGroup
}

// CreateWorker validates the config and sets up a worker in the parsed state.
// Call Start (or Install and Activate) to take control of requests.
func CreateWorker(config Config) (*Worker, error) {
	if config.Storage == nil {
		return nil, errors.New("storage is required")
	}
	if config.Version == "" {
		return nil, errors.New("version is required")
	}
	if config.OriginURL.Scheme == "" || config.OriginURL.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL, got %q", config.OriginURL.String())
	}
	if err := config.Manifest.Validate(); err != nil {
		return nil, err
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logger = logger.With().
		Str("version", config.Version).
		Str("origin", config.OriginURL.String()).
		Logger()

	keyer := cachekey.NewCacheKeyer(&config.OriginURL)
	shell := config.Shell
	if shell == "" {
		shell = DefaultShell
	}
	shellKey, err := keyer.KeyForURL(http.MethodGet, shell)
	if err != nil {
		return nil, fmt.Errorf("shell: %w", err)
	}
	fetcher := config.Fetcher
	if fetcher == nil {
		fetcher = NewNetworkFetcher()
	}
	net := network{fetcher: fetcher, keyer: keyer}

	return &Worker{
		storage:  config.Storage,
		version:  config.Version,
		keyer:    keyer,
		manifest: config.Manifest,
		shellKey: shellKey,
		net:      net,
		log:      logger,
		populator: Populator{
			net:         net,
			log:         logger,
			concurrency: config.PopulateConcurrency,
		},
		invalidator: Invalidator{
			storage: config.Storage,
			version: config.Version,
			log:     logger,
		},
	}, nil
}

// Version returns the version this worker manages the store for.
func (w *Worker) Version() string {
	return w.version
}

// Repopulate pre-caches the manifest into the current store again.
// Entries that failed at install time get another chance; present entries are overwritten.
func (w *Worker) Repopulate(ctx context.Context) (PopulateResult, error) {
	w.mu.RLock()
	state, store := w.state, w.store
	w.mu.RUnlock()
	if state != StateActivated {
		return PopulateResult{}, fmt.Errorf("%w: repopulate (worker is %s)", ErrInvalidTransition, state)
	}
	if store == nil {
		return PopulateResult{}, fmt.Errorf("no store for version %s", w.version)
	}
	return w.populator.Populate(ctx, store, w.manifest), nil
}

// StoreNames lists all stores in the storage, current and stale.
func (w *Worker) StoreNames() ([]string, error) {
	return w.storage.Names()
}

// EntryCount returns the number of entries in the current store.
func (w *Worker) EntryCount() (int, error) {
	w.mu.RLock()
	store := w.store
	w.mu.RUnlock()
	if store == nil {
		return 0, nil
	}
	count := 0
	err := store.Keys(func(string) { count++ })
	return count, err
}

func (w *Worker) newInterceptor(store cache.Store) Interceptor {
	return Interceptor{
		store:    store,
		net:      w.net,
		keyer:    w.keyer,
		shellKey: w.shellKey,
		log:      w.log,
		spawn:    w.spawn,
	}
}

// spawn runs the task in a goroutine tracked by Wait.
func (w *Worker) spawn(task func()) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		task()
	}()
}

// ServeHTTP implements the http.Handler interface.
// It is the fetch trigger: every request is answered exactly once.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := getLogger(r, &w.log)
	ctx, span := telemetry.Tracer().Start(r.Context(), "offline-cache.intercept")
	defer span.End()

	w.mu.RLock()
	interceptor := w.interceptor
	w.mu.RUnlock()

	var decision Decision
	var err error
	var cs rfc9211.CacheStatus
	if interceptor == nil {
		// not controlled (yet), go straight to the network
		decision, err = w.passThrough(ctx, r)
		cs.Forward(rfc9211.FwdReasonBypass)
	} else {
		decision, err = interceptor.Intercept(ctx, r)
		if err == nil {
			cs = decision.CacheStatus(r)
		}
	}
	if err != nil {
		logger.Warn().Err(err).Str("url", r.URL.String()).Msg("No response available")
		span.RecordError(err)
		if interceptor != nil {
			cs.Forward(rfc9211.FwdReasonMiss)
		}
		cs.Detail = "network-error"
		rw.Header().Add("Cache-Status", cs.String())
		http.Error(rw, "Could not get response", http.StatusBadGateway)
		return
	}
	span.SetAttributes(attribute.String("offline_cache.source", string(decision.Source)))

	if err := send(rw, decision.Response, cs); err != nil {
		logger.Error().Err(err).Msg("Could not write response body to client")
	}
	logRequest(logger, r, decision, cs)
}

func (w *Worker) passThrough(ctx context.Context, r *http.Request) (Decision, error) {
	res, typ, err := w.net.fetch(ctx, r, requestMode(r, w.keyer))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return Decision{Response: res, Source: SourceNetwork, Type: typ}, nil
}

func send(w http.ResponseWriter, res *http.Response, cs rfc9211.CacheStatus) error {
	defer res.Body.Close()
	for k, vv := range res.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Add("Cache-Status", cs.String())
	w.WriteHeader(res.StatusCode)
	_, err := io.Copy(w, res.Body)
	return err
}

func logRequest(logger *zerolog.Logger, r *http.Request, d Decision, cs rfc9211.CacheStatus) {
	logger.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("source", string(d.Source)).
		Str("type", string(d.Type)).
		Int("status", d.Response.StatusCode).
		Str("cacheStatus", cs.String()).
		Msg("Sending response to client")
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the given default logger.
func getLogger(r *http.Request, def *zerolog.Logger) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = def
	}
	return logger
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
