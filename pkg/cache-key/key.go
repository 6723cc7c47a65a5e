package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const methodSeparator = " "

// CacheKeyer derives request identities (cache keys) for a single origin.
// A key is the request method followed by the absolute request URL,
// e.g. `GET https://app.example/index.html`.
// Relative request URIs are resolved against the origin.
type CacheKeyer struct {
	// Origin is the scheme and host of the application, e.g. `https://app.example`.
	Origin *url.URL
}

func NewCacheKeyer(origin *url.URL) CacheKeyer {
	return CacheKeyer{
		Origin: &url.URL{Scheme: origin.Scheme, Host: origin.Host},
	}
}

// Resolve returns the absolute URL for the given (possibly relative) URL.
// The fragment is dropped, since it never reaches the network.
func (c CacheKeyer) Resolve(u *url.URL) *url.URL {
	abs := c.Origin.ResolveReference(u)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs
}

// GetKey returns the identity of the request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + c.Resolve(r.URL).String()
}

// KeyForURL returns the identity of a request with the given method and URL.
func (c CacheKeyer) KeyForURL(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return method + methodSeparator + c.Resolve(u).String(), nil
}

// GetRequestFromKey generates a request equal to the request that resulted in the provided key.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	return http.NewRequest(method, rawURL, nil)
}

// IsCrossOrigin reports whether the (resolved) URL points away from the origin.
func (c CacheKeyer) IsCrossOrigin(u *url.URL) bool {
	abs := c.Resolve(u)
	return !strings.EqualFold(abs.Scheme, c.Origin.Scheme) || !strings.EqualFold(abs.Host, c.Origin.Host)
}
