package httpx

import (
	"net/http"
)

// NewDefaultClient returns an HTTP client suited to long-lived SSE responses.
func NewDefaultClient() *http.Client {
	return &http.Client{
		// Timeout is managed by per-request contexts; a client timeout would
		// cut off long generations mid-stream.
		Timeout: 0,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			// Keep raw bytes; SSE with gzip can be problematic across proxies.
			DisableCompression: true,
		},
	}
}

// SetStreamHeaders marks req as expecting an event stream back.
func SetStreamHeaders(req *http.Request) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
}
