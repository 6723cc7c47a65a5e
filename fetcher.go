package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

var (
	// ErrNetwork is returned when a request could be answered neither by the network
	// nor by a cached substitute.
	ErrNetwork = errors.New("network request failed")
	// ErrBlocked is returned for cross-origin responses the client is not allowed to read.
	ErrBlocked = errors.New("blocked cross-origin response")
	// ErrNotOK is returned when pre-caching receives a non-2xx response.
	ErrNotOK = errors.New("response status not ok")
)

// Fetcher is the network primitive.
// It must return an error only if no response could be obtained at all.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, r *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return f(ctx, r)
}

// NetworkFetcher fetches over HTTP using the given client.
// Redirects are not followed; they are passed on to the client as-is.
type NetworkFetcher struct {
	Client *http.Client
}

// NewNetworkFetcher creates a fetcher with a client that does not follow redirects.
// Timeouts are left to the transport.
func NewNetworkFetcher() NetworkFetcher {
	return NetworkFetcher{
		Client: &http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (n NetworkFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	return n.Client.Do(r.WithContext(ctx))
}

// HandlerFetcher uses an in-process http.Handler as the network.
// Use it to put the worker in front of an application as a middleware.
type HandlerFetcher struct {
	Handler http.Handler
}

func (h HandlerFetcher) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs := tee.NewResponseSaver(nil)
	h.Handler.ServeHTTP(rs, r.WithContext(ctx))
	return rs.Result(r), nil
}

// FetchMode is the request mode, as sent by browsers in the Sec-Fetch-Mode header.
type FetchMode string

const (
	ModeNavigate   FetchMode = "navigate"
	ModeCORS       FetchMode = "cors"
	ModeNoCORS     FetchMode = "no-cors"
	ModeSameOrigin FetchMode = "same-origin"
)

// ResponseType classifies a response by origin.
type ResponseType string

const (
	// Same-origin response.
	ResponseBasic ResponseType = "basic"
	// Cross-origin response the origin explicitly allowed to be read.
	ResponseCORS ResponseType = "cors"
	// Cross-origin response fetched without CORS. It is passed on but never stored.
	ResponseOpaque ResponseType = "opaque"
)

// requestMode determines the mode of an intercepted request.
// Without a Sec-Fetch-Mode header, HTML GETs are navigations
// and other cross-origin requests are no-cors subresource loads.
func requestMode(r *http.Request, keyer cachekey.CacheKeyer) FetchMode {
	switch mode := FetchMode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))); mode {
	case ModeNavigate, ModeCORS, ModeNoCORS, ModeSameOrigin:
		return mode
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	if keyer.IsCrossOrigin(r.URL) {
		return ModeNoCORS
	}
	return ModeSameOrigin
}

// network issues requests on behalf of clients and classifies the responses.
type network struct {
	fetcher Fetcher
	keyer   cachekey.CacheKeyer
}

// fetch sends the equivalent of the incoming request to the network.
func (n network) fetch(ctx context.Context, r *http.Request, mode FetchMode) (*http.Response, ResponseType, error) {
	req, err := n.request(ctx, r)
	if err != nil {
		return nil, "", err
	}
	res, err := n.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if !n.keyer.IsCrossOrigin(req.URL) {
		return res, ResponseBasic, nil
	}
	switch mode {
	case ModeNavigate:
		return res, ResponseBasic, nil
	case ModeNoCORS:
		return res, ResponseOpaque, nil
	case ModeCORS:
		if n.corsAllowed(res) {
			return res, ResponseCORS, nil
		}
	}
	res.Body.Close()
	return nil, "", fmt.Errorf("%w: %s (mode %s)", ErrBlocked, req.URL, mode)
}

// request creates the outgoing request, resolving relative URLs against the origin.
func (n network) request(ctx context.Context, r *http.Request) (*http.Request, error) {
	u := n.keyer.Resolve(r.URL)
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	req.Host = u.Host
	return req, nil
}

func (n network) corsAllowed(res *http.Response) bool {
	allow := strings.TrimSpace(res.Header.Get("Access-Control-Allow-Origin"))
	return allow == "*" || strings.EqualFold(allow, n.keyer.Origin.String())
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a warkaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
