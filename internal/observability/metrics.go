package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// MetricsServer serves Prometheus metrics on their own port so scrapes are
// never subject to the rate limiter.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer serves provider's metrics at path on port. With a nil or
// metrics-disabled provider every path returns 404.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()

	if h := provider.Handler(); h != nil {
		mux.Handle(path, h)
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving metrics. It returns http.ErrServerClosed after Shutdown.
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return ms.Serve(ln)
}

// Serve serves metrics on ln.
func (ms *MetricsServer) Serve(ln net.Listener) error {
	slog.Info("Starting metrics server", "addr", ln.Addr().String())
	return ms.server.Serve(ln)
}

// Shutdown gracefully stops the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
