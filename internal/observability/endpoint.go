package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tphakala/notigate/internal/conf"
)

// Endpoint serves Prometheus-compatible telemetry over HTTP.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	logger        *slog.Logger
}

// NewEndpoint creates a new telemetry Endpoint from the application settings.
// It returns an error if telemetry is not enabled.
func NewEndpoint(settings *conf.Settings, m *Metrics, logger *slog.Logger) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, fmt.Errorf("telemetry not enabled in settings")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       m,
		logger:        logger,
	}, nil
}

// Start runs the HTTP server for the telemetry endpoint and shuts it down
// when quitChan closes.
func (e *Endpoint) Start(wg *sync.WaitGroup, quitChan <-chan struct{}) {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:         e.listenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.logger.Info("telemetry endpoint starting", "listen", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("telemetry endpoint failed", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-quitChan
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			e.logger.Error("telemetry endpoint shutdown failed", "error", err)
		}
	}()
}
