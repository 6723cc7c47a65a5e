package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/always-cache/offline-cache/cache"

	"github.com/rs/zerolog"
)

var errConnRefused = errors.New("connection refused")

// testNetwork is an in-process network that can go offline and counts fetches.
type testNetwork struct {
	handler http.Handler
	offline atomic.Bool
	calls   atomic.Int32

	mu   sync.Mutex
	down map[string]bool
}

func newTestNetwork(handler http.Handler) *testNetwork {
	return &testNetwork{handler: handler, down: make(map[string]bool)}
}

func (n *testNetwork) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	n.calls.Add(1)
	n.mu.Lock()
	down := n.down[r.URL.String()]
	n.mu.Unlock()
	if n.offline.Load() || down {
		return nil, errConnRefused
	}
	return HandlerFetcher{Handler: n.handler}.Fetch(ctx, r)
}

// fail makes fetches of the given absolute URL fail.
func (n *testNetwork) fail(rawURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[rawURL] = true
}

// appHandler serves `content of <path>` for every same-origin path,
// 404 for /missing*, and CDN resources for cdn.example.
func appHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Host == "cdn.example" && r.URL.Path == "/cors.js":
			w.Header().Set("Access-Control-Allow-Origin", "*")
			fmt.Fprint(w, "cors script")
		case r.Host == "cdn.example":
			fmt.Fprintf(w, "cdn %s", r.URL.Path)
		case r.URL.Path == "/missing" || r.URL.Path == "/missing.js":
			http.NotFound(w, r)
		default:
			fmt.Fprintf(w, "content of %s %s", r.Method, r.URL.Path)
		}
	})
}

func testOrigin() url.URL {
	u, _ := url.Parse("https://app.example")
	return *u
}

func newTestWorker(t *testing.T, storage cache.Storage, version string, fetcher Fetcher, manifest ...string) *Worker {
	logger := zerolog.Nop()
	w, err := CreateWorker(Config{
		Storage:   storage,
		Version:   version,
		OriginURL: testOrigin(),
		Manifest:  manifest,
		Fetcher:   fetcher,
		Logger:    &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Close)
	return w
}

func storedKeys(t *testing.T, storage cache.Storage, version string) map[string]bool {
	store, err := storage.Open(version)
	if err != nil {
		t.Fatal(err)
	}
	keys := make(map[string]bool)
	if err := store.Keys(func(key string) { keys[key] = true }); err != nil {
		t.Fatal(err)
	}
	return keys
}

func readBody(t *testing.T, res *http.Response) string {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}
