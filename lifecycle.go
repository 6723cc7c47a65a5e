package offlinecache

import (
	"context"
	"errors"
	"fmt"

	"github.com/always-cache/offline-cache/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

// ErrInvalidTransition is returned when a lifecycle step is triggered out of order.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is the lifecycle state of a worker.
//
//	Parsed -> Installing -> Installed -> Activating -> Activated -> Redundant
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// transition moves the worker from one state to the next,
// failing if the worker is not in the expected state.
func (w *Worker) transition(from, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return fmt.Errorf("%w: %s -> %s (worker is %s)", ErrInvalidTransition, from, to, w.state)
	}
	w.state = to
	w.log.Debug().Str("state", to.String()).Msg("Lifecycle transition")
	return nil
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Install opens the store for the current version and pre-caches the manifest.
// Install always completes: failures of single entries, and even failure to open
// the store, are logged and contained. An error is only returned if the worker
// was not waiting to be installed.
func (w *Worker) Install(ctx context.Context) (PopulateResult, error) {
	if err := w.transition(StateParsed, StateInstalling); err != nil {
		return PopulateResult{}, err
	}
	ctx, span := telemetry.Tracer().Start(ctx, "offline-cache.install")
	defer span.End()

	result := PopulateResult{Errors: make(map[string]error)}
	store, err := w.storage.Open(w.version)
	if err != nil {
		w.log.Error().Err(err).Msg("Cache installation failed")
		span.RecordError(err)
	} else {
		w.log.Debug().Str("store", store.Name()).Msg("Opened cache")
		w.mu.Lock()
		w.store = store
		w.mu.Unlock()
		result = w.populator.Populate(ctx, store, w.manifest)
		if result.Complete() {
			w.log.Info().Int("entries", len(result.Succeeded)).Msg("All resources cached successfully")
		} else {
			w.log.Warn().
				Int("cached", len(result.Succeeded)).
				Int("failed", len(result.Failed)).
				Msg("Some resources could not be cached")
		}
	}
	span.SetAttributes(
		attribute.Int("offline_cache.cached", len(result.Succeeded)),
		attribute.Int("offline_cache.failed", len(result.Failed)),
	)

	w.mu.Lock()
	w.state = StateInstalled
	w.mu.Unlock()
	return result, nil
}

// Activate deletes the stores of all other versions and then claims the clients,
// i.e. from then on every request is answered by the interceptor.
// It may only be called once the worker is installed.
func (w *Worker) Activate(ctx context.Context) (InvalidateResult, error) {
	if err := w.transition(StateInstalled, StateActivating); err != nil {
		return InvalidateResult{}, err
	}
	_, span := telemetry.Tracer().Start(ctx, "offline-cache.activate")
	defer span.End()

	result, err := w.invalidator.Invalidate()
	if err != nil {
		w.log.Error().Err(err).Msg("Could not clean up old caches")
		span.RecordError(err)
	}
	span.SetAttributes(
		attribute.StringSlice("offline_cache.deleted", result.Deleted),
		attribute.StringSlice("offline_cache.failed", result.Failed),
	)

	w.mu.Lock()
	w.state = StateActivated
	w.mu.Unlock()
	w.claim()
	return result, nil
}

// Start installs and immediately activates the worker.
// The new version takes control as soon as possible; offline completeness is best effort.
func (w *Worker) Start(ctx context.Context) error {
	if _, err := w.Install(ctx); err != nil {
		return err
	}
	_, err := w.Activate(ctx)
	return err
}

// claim puts every subsequent request under the control of the interceptor.
func (w *Worker) claim() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store == nil {
		// installation could not open the store, try once more
		if store, err := w.storage.Open(w.version); err != nil {
			w.log.Error().Err(err).Msg("Could not open cache, serving from network only")
		} else {
			w.store = store
		}
	}
	interceptor := w.newInterceptor(w.store)
	w.interceptor = &interceptor
	w.log.Info().Msg("Claimed clients")
}

// Close stops intercepting requests and waits for pending cache writes.
// The storage itself is not closed.
func (w *Worker) Close() {
	w.mu.Lock()
	w.state = StateRedundant
	w.interceptor = nil
	w.mu.Unlock()
	w.Wait()
}

// Wait blocks until all background cache writes have finished.
func (w *Worker) Wait() {
	w.pending.Wait()
}
