package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/fenilsonani/mailstate/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer wraps the Prometheus /metrics endpoint the same way the
// teacher's admin server wraps its dashboard: a bare http.Server started in
// a goroutine and shut down gracefully on signal.
type metricsServer struct {
	httpServer *http.Server
}

func startMetricsServer(addr string) (*metricsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &metricsServer{
		httpServer: &http.Server{Addr: addr, Handler: mux},
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics endpoint error: %v\n", err)
		}
	}()

	return s, nil
}

func (s *metricsServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// resilienceDefaults configures the sqlite store's circuit breaker with the
// fixed resilience.DefaultConfig values; no config key overrides them.
func resilienceDefaults() resilience.Config {
	return resilience.DefaultConfig("sqlite-store")
}
