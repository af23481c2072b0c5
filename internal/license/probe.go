package license

import (
	"context"
	"net/http"
	"time"
)

// ConnectivityProber answers the single question "is the network usable
// right now". Implementations must be cheap and bounded; the resolver calls
// at most one probe per resolution cycle.
type ConnectivityProber interface {
	Online(ctx context.Context) bool
}

// defaultProbeURL serves an empty 204 and is built for exactly this kind of
// reachability check.
const defaultProbeURL = "https://www.google.com/generate_204"

const defaultProbeTimeout = 3 * time.Second

// HTTPProber probes connectivity with a HEAD request against a well-known
// endpoint. Any response below 500 counts as reachable; a 5xx means the
// endpoint itself is unhealthy, which says nothing about our connectivity,
// so it is treated as unreachable to stay on the conservative side.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober against the given URL. An empty URL selects
// the default endpoint.
func NewHTTPProber(url string) *HTTPProber {
	if url == "" {
		url = defaultProbeURL
	}
	return &HTTPProber{
		url:    url,
		client: &http.Client{Timeout: defaultProbeTimeout},
	}
}

// Online reports whether the probe endpoint answered within the timeout.
func (p *HTTPProber) Online(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}
