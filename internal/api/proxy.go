package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"edgelimit/internal/models"
)

// NewProxy returns a reverse proxy to upstream. Upstream failures are answered
// with a JSON 502.
func NewProxy(upstream string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: scheme and host are required", upstream)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if id := requestIDFromContext(pr.In.Context()); id != "" {
				pr.Out.Header.Set(RequestIDHeader, id)
			}
		},
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Warn("Upstream request failed",
				"upstream", target.Host,
				"path", r.URL.Path,
				"error", err,
				"request_id", requestIDFromContext(r.Context()),
			)
			writeError(w, r, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream unavailable")
		},
	}, nil
}
