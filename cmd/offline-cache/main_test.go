package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/config"

	"github.com/rs/zerolog"
)

func newTestRouter(t *testing.T, start bool) (http.Handler, *offlinecache.Worker) {
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "app %s", r.URL.Path)
	})
	origin, _ := url.Parse("https://app.example")
	logger := zerolog.Nop()
	worker, err := offlinecache.CreateWorker(offlinecache.Config{
		Storage:   cache.NewMemStorage(),
		Version:   "v3",
		OriginURL: *origin,
		Manifest:  offlinecache.Manifest{"/index.html", "/app.js"},
		Fetcher:   offlinecache.HandlerFetcher{Handler: app},
		Logger:    &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(worker.Close)
	if start {
		if err := worker.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return newRouter(worker, logger), worker
}

func TestStatusEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, true)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("GET", "/_offline/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Status is %d", rr.Code)
	}
	var status statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Version != "v3" || status.State != "activated" || status.Entries != 2 {
		t.Fatalf("Status is %+v", status)
	}
	if len(status.Stores) != 1 || status.Stores[0] != "v3" {
		t.Fatalf("Stores are %v", status.Stores)
	}
}

func TestPopulateEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, false)

	// not activated yet
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/_offline/populate", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("Status before start is %d", rr.Code)
	}

	router, _ = newTestRouter(t, true)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest("POST", "/_offline/populate", nil))
	var result map[string][]string
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if len(result["succeeded"]) != 2 || len(result["failed"]) != 0 {
		t.Fatalf("Result is %v", result)
	}
}

func TestOtherRequestsGoToWorker(t *testing.T) {
	router, _ := newTestRouter(t, true)

	for _, method := range []string{"GET", "POST"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, "/app.js", nil))
		if rr.Body.String() != "app /app.js" {
			t.Fatalf("%s: body is %s", method, rr.Body.String())
		}
		if rr.Header().Get("Cache-Status") == "" {
			t.Fatalf("%s: no Cache-Status", method)
		}
	}
}

func TestNewStorage(t *testing.T) {
	for _, provider := range []string{"sqlite", "leveldb", "memory"} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Config{Version: "v1", Origin: "https://app.example"}
			cfg.Storage.Provider = provider
			if provider == "sqlite" {
				cfg.Storage.Path = t.TempDir() + "/cache.db"
			} else {
				cfg.Storage.Path = t.TempDir()
			}
			if err := cfg.Compile(); err != nil {
				t.Fatal(err)
			}
			storage, err := newStorage(cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer storage.Close()
			if _, err := storage.Open("v1"); err != nil {
				t.Fatal(err)
			}
		})
	}
}
