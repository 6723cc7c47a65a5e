package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/always-cache/offline-cache/cache"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
)

const defaultPopulateConcurrency = 8

// PopulateResult is the settled outcome of pre-caching a manifest.
// Population is best effort: a failed entry never fails the whole operation.
type PopulateResult struct {
	Succeeded []string
	Failed    []string
	Errors    map[string]error
}

// Complete reports whether every manifest entry was stored.
func (r PopulateResult) Complete() bool {
	return len(r.Failed) == 0
}

// Populator pre-caches manifest entries into a store.
type Populator struct {
	net         network
	log         zerolog.Logger
	concurrency int
}

// Populate fetches and stores every manifest entry independently.
// It returns once every entry has settled, successfully or not.
// Entries are present in the store if and only if their own fetch-and-store succeeded.
func (p Populator) Populate(ctx context.Context, store cache.Store, manifest Manifest) PopulateResult {
	concurrency := p.concurrency
	if concurrency <= 0 {
		concurrency = defaultPopulateConcurrency
	}
	sem := make(chan struct{}, concurrency)
	errs := make([]error, len(manifest))

	var wg sync.WaitGroup
	for i, entry := range manifest {
		wg.Add(1)
		go func(i int, entry string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs[i] = p.add(ctx, store, entry)
		}(i, entry)
	}
	wg.Wait()

	result := PopulateResult{Errors: make(map[string]error)}
	for i, entry := range manifest {
		if errs[i] != nil {
			p.log.Warn().Err(errs[i]).Str("url", entry).Msg("Failed to cache")
			result.Failed = append(result.Failed, entry)
			result.Errors[entry] = errs[i]
			continue
		}
		result.Succeeded = append(result.Succeeded, entry)
	}
	return result
}

// add fetches a single entry and stores the response if it is ok.
func (p Populator) add(ctx context.Context, store cache.Store, entry string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry, nil)
	if err != nil {
		return err
	}
	mode := ModeSameOrigin
	if p.net.keyer.IsCrossOrigin(req.URL) {
		mode = ModeCORS
	}
	requestedAt := time.Now()
	res, _, err := p.net.fetch(ctx, req, mode)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrNotOK, res.StatusCode)
	}
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	key := p.net.keyer.GetKey(req)
	if err := store.Put(cache.Entry{Key: key, StoredAt: requestedAt, Bytes: bts}); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	p.log.Trace().Str("key", key).Msg("Pre-cached")
	return nil
}
