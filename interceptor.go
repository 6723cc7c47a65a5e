package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	"github.com/always-cache/offline-cache/rfc9211"

	"github.com/rs/zerolog"
)

// Source tells where the response to an intercepted request came from.
type Source string

const (
	SourceCache         Source = "cache"
	SourceNetwork       Source = "network"
	SourceFallbackShell Source = "fallback-shell"
	SourceFallbackCache Source = "fallback-cache"
)

// Decision is the answer to an intercepted request.
type Decision struct {
	Response *http.Response
	Source   Source
	// Type is set for network responses.
	Type ResponseType
	// Stored is set if a copy of the network response is being written to the store.
	Stored bool
}

// CacheStatus describes the decision as a Cache-Status header field value.
func (d Decision) CacheStatus(r *http.Request) rfc9211.CacheStatus {
	cs := rfc9211.CacheStatus{}
	switch d.Source {
	case SourceNetwork:
		if r.Method != http.MethodGet {
			cs.Forward(rfc9211.FwdReasonMethod)
		} else {
			cs.Forward(rfc9211.FwdReasonUriMiss)
		}
		cs.FwdStatus = d.Response.StatusCode
		cs.Stored = d.Stored
	case SourceCache:
		cs.Hit()
	default:
		cs.Hit()
		cs.Detail = string(d.Source)
	}
	return cs
}

// Interceptor answers requests cache-first, falling back to the network,
// and falling back to cached substitutes when the network fails.
// A nil store behaves as an empty store that cannot be written to.
type Interceptor struct {
	store    cache.Store
	net      network
	keyer    cachekey.CacheKeyer
	shellKey string
	log      zerolog.Logger
	// spawn runs detached work, i.e. background store writes
	spawn func(func())
}

// Intercept decides how to answer the request:
//
//  1. a stored response for the request identity is returned without touching the network
//  2. otherwise the network is asked; a same-origin (or CORS) 200 response to a GET is
//     written to the store in the background, every response is returned as-is
//  3. if the network fails, navigations get the cached shell document and other requests
//     get a final store lookup; if that misses too, an error wrapping ErrNetwork is returned
func (i Interceptor) Intercept(ctx context.Context, r *http.Request) (Decision, error) {
	key := i.keyer.GetKey(r)
	if res, ok := i.match(key, r); ok {
		i.log.Trace().Str("key", key).Msg("Cache hit")
		return Decision{Response: res, Source: SourceCache}, nil
	}

	mode := requestMode(r, i.keyer)
	requestedAt := time.Now()
	res, typ, err := i.net.fetch(ctx, r, mode)
	if err == nil && res.StatusCode == http.StatusOK && typ != ResponseOpaque && r.Method == http.MethodGet {
		// the body is buffered so that it can be both stored and sent
		var clone *http.Response
		if clone, err = serializer.Clone(res); err == nil {
			i.persist(key, clone, requestedAt)
			return Decision{Response: res, Source: SourceNetwork, Type: typ, Stored: i.store != nil}, nil
		}
	}
	if err != nil {
		i.log.Debug().Err(err).Str("key", key).Str("mode", string(mode)).Msg("Fetch failed, serving offline fallback")
		return i.fallback(r, key, mode, err)
	}
	return Decision{Response: res, Source: SourceNetwork, Type: typ}, nil
}

// fallback answers a request whose network attempt failed.
func (i Interceptor) fallback(r *http.Request, key string, mode FetchMode, cause error) (Decision, error) {
	if mode == ModeNavigate {
		if res, ok := i.match(i.shellKey, r); ok {
			return Decision{Response: res, Source: SourceFallbackShell}, nil
		}
		return Decision{}, fmt.Errorf("%w: %s: no cached shell: %w", ErrNetwork, key, cause)
	}
	// a concurrent write may have stored the resource in the meantime
	if res, ok := i.match(key, r); ok {
		return Decision{Response: res, Source: SourceFallbackCache}, nil
	}
	return Decision{}, fmt.Errorf("%w: %s: %w", ErrNetwork, key, cause)
}

// match looks up the stored response for the key.
// Store errors and corrupt entries count as a miss.
func (i Interceptor) match(key string, r *http.Request) (*http.Response, bool) {
	if i.store == nil {
		return nil, false
	}
	entry, ok, err := i.store.Match(key)
	if err != nil {
		i.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := serializer.BytesToResponse(entry.Bytes, r)
	if err != nil {
		i.log.Error().Err(err).Str("key", key).Msg("Could not create response from cache entry")
		return nil, false
	}
	return res, true
}

// persist writes the response to the store without making the caller wait.
// Failures are logged and never reach the response path.
func (i Interceptor) persist(key string, res *http.Response, requestedAt time.Time) {
	if i.store == nil {
		res.Body.Close()
		return
	}
	store := i.store
	log := i.log
	i.spawn(func() {
		bts, err := serializer.ResponseToBytes(res)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Could not serialize response")
			return
		}
		if err := store.Put(cache.Entry{Key: key, StoredAt: requestedAt, Bytes: bts}); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
			return
		}
		log.Trace().Str("key", key).Msg("Cache write")
	})
}
