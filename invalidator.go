package offlinecache

import (
	"fmt"
	"sync"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

// InvalidateResult is the settled outcome of deleting stale stores.
type InvalidateResult struct {
	Deleted []string
	Failed  []string
	Errors  map[string]error
}

// Invalidator deletes every store not belonging to the current version.
type Invalidator struct {
	storage cache.Storage
	version string
	log     zerolog.Logger
}

// Invalidate deletes all stale stores independently of each other.
// A failed deletion is logged and recorded, it never stops the others.
// An error is only returned if the store names could not be listed.
func (i Invalidator) Invalidate() (InvalidateResult, error) {
	result := InvalidateResult{Errors: make(map[string]error)}
	names, err := i.storage.Names()
	if err != nil {
		return result, fmt.Errorf("list stores: %w", err)
	}

	stale := make([]string, 0, len(names))
	for _, name := range names {
		if name != i.version {
			stale = append(stale, name)
		}
	}
	errs := make([]error, len(stale))

	var wg sync.WaitGroup
	for n, name := range stale {
		wg.Add(1)
		go func(n int, name string) {
			defer wg.Done()
			i.log.Info().Str("store", name).Msg("Deleting old cache")
			if _, err := i.storage.Delete(name); err != nil {
				errs[n] = err
			}
		}(n, name)
	}
	wg.Wait()

	for n, name := range stale {
		if errs[n] != nil {
			i.log.Warn().Err(errs[n]).Str("store", name).Msg("Could not delete old cache")
			result.Failed = append(result.Failed, name)
			result.Errors[name] = errs[n]
			continue
		}
		result.Deleted = append(result.Deleted, name)
	}
	return result, nil
}
