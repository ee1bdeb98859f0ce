package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nholik/smso/internal/healthcheck"
	"github.com/nholik/smso/internal/metrics"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Endpoints describes what the daemon exposes over HTTP. A zero port disables that endpoint;
// endpoints that share a port are served by one listener.
type Endpoints struct {
	Interval time.Duration
	Tracker  *healthcheck.Tracker
	Metrics  *metrics.Metrics
	API      http.Handler

	HealthPort  int
	MetricsPort int
	APIPort     int
}

type listener struct {
	mux    *http.ServeMux
	labels []string
}

// Start launches one HTTP server per distinct port and shuts them down when ctx ends.
func Start(ctx context.Context, logger zerolog.Logger, e Endpoints) {
	plan := e.plan()
	ports := make([]int, 0, len(plan))
	for port := range plan {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	for _, port := range ports {
		l := plan[port]
		startServer(ctx, logger, l.mux, port, strings.Join(l.labels, "/"))
	}
}

func (e Endpoints) plan() map[int]*listener {
	plan := make(map[int]*listener)
	at := func(port int, label string) *http.ServeMux {
		l, ok := plan[port]
		if !ok {
			l = &listener{mux: http.NewServeMux()}
			plan[port] = l
		}
		l.labels = append(l.labels, label)
		return l.mux
	}

	if e.HealthPort > 0 {
		registerHealthRoutes(at(e.HealthPort, "health"), e.Tracker, e.Interval)
	}
	if e.MetricsPort > 0 && e.Metrics != nil {
		registerMetricsRoute(at(e.MetricsPort, "metrics"), e.Metrics)
	}
	if e.APIPort > 0 && e.API != nil {
		mux := at(e.APIPort, "api")
		if len(plan[e.APIPort].labels) == 1 {
			mux.Handle("/", e.API)
		} else {
			mux.Handle("/api/", e.API)
		}
	}
	return plan
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, interval time.Duration) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, interval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	log := logger.With().Str("server", label).Int("port", port).Logger()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown failed")
		}
	}()
}
