package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func newKeyer() CacheKeyer {
	origin, _ := url.Parse("https://app.example/some/path")
	return NewCacheKeyer(origin)
}

func TestRelativeAndAbsoluteKeysMatch(t *testing.T) {
	keyer := newKeyer()
	rel, _ := http.NewRequest("GET", "/index.html", nil)
	abs, _ := http.NewRequest("GET", "https://app.example/index.html#top", nil)
	if keyer.GetKey(rel) != keyer.GetKey(abs) {
		t.Fatalf("Keys differ: %s vs %s", keyer.GetKey(rel), keyer.GetKey(abs))
	}
	if key := keyer.GetKey(rel); key != "GET https://app.example/index.html" {
		t.Fatalf("Key is %s", key)
	}
}

func TestMethodIsPartOfKey(t *testing.T) {
	keyer := newKeyer()
	get, _ := http.NewRequest("GET", "/form", nil)
	post, _ := http.NewRequest("POST", "/form", nil)
	if keyer.GetKey(get) == keyer.GetKey(post) {
		t.Fatal("GET and POST share a key")
	}
}

func TestRequestFromKey(t *testing.T) {
	keyer := newKeyer()
	key, err := keyer.KeyForURL("GET", "https://cdn.example/lib.js?v=3")
	if err != nil {
		t.Fatal(err)
	}
	req, err := keyer.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if req.Method != "GET" || req.URL.String() != "https://cdn.example/lib.js?v=3" {
		t.Fatalf("Created request for key %s is %s %s", key, req.Method, req.URL)
	}
}

func TestIsCrossOrigin(t *testing.T) {
	keyer := newKeyer()
	for raw, want := range map[string]bool{
		"/index.html":                   false,
		"https://app.example/a":         false,
		"http://app.example/a":          true,
		"https://fonts.googleapis.com/": true,
	} {
		u, _ := url.Parse(raw)
		if got := keyer.IsCrossOrigin(u); got != want {
			t.Fatalf("IsCrossOrigin(%s) = %v", raw, got)
		}
	}
}
