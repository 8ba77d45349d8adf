// Package metrics holds the agent's prometheus collectors. Each agent owns a
// private registry so tests and multiple loops never collide.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	agentlog "github.com/memorypilot/watchagent/internal/log"
)

const namespace = "watchagent"

type Metrics struct {
	Registry *prometheus.Registry

	eventsEmitted    *prometheus.CounterVec
	eventsSuppressed *prometheus.CounterVec
	pollErrors       prometheus.Counter
	controlCommands  *prometheus.CounterVec
	ingressRequests  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		eventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Event lines written to the parent process",
		}, []string{"kind"}),
		eventsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_suppressed_total",
			Help:      "Candidate events dropped by the filter",
		}, []string{"reason"}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Failed poll source queries",
		}),
		controlCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "Control commands received from the parent process",
		}, []string{"verb"}),
		ingressRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingress_requests_total",
			Help:      "Ingress requests by response status code",
		}, []string{"code"}),
	}
	reg.MustRegister(
		m.eventsEmitted,
		m.eventsSuppressed,
		m.pollErrors,
		m.controlCommands,
		m.ingressRequests,
		collectors.NewGoCollector(),
	)
	return m
}

// RegisterWakeDrops exposes a wake queue's drop count
func (m *Metrics) RegisterWakeDrops(dropped func() uint64) {
	m.Registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wakes_dropped_total",
		Help:      "Push wakes discarded because the wake queue was full",
	}, func() float64 { return float64(dropped()) }))
}

func (m *Metrics) EventEmitted(kind string) {
	m.eventsEmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventSuppressed(reason string) {
	m.eventsSuppressed.WithLabelValues(reason).Inc()
}

func (m *Metrics) PollFailed() {
	m.pollErrors.Inc()
}

// ControlCommand counts a command; verbs outside known are folded into
// "unknown" to keep label cardinality bounded.
func (m *Metrics) ControlCommand(verb string, known bool) {
	if !known {
		verb = "unknown"
	}
	m.controlCommands.WithLabelValues(verb).Inc()
}

func (m *Metrics) IngressRequest(code int) {
	m.ingressRequests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics server failed: %w", err)
		}
	}()
	agentlog.Info("metrics server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errChan:
		return err
	}
}
