// Package metrics provides Prometheus metrics for the Secret Santa bot.
//
// Every recording method is safe to call on a nil *Manager, so components can
// run without metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Outcomes of a match run
const (
	OutcomeMatched      = "matched"
	OutcomeInsufficient = "insufficient"
	OutcomeExhausted    = "exhausted"
	OutcomeError        = "error"
)

type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry

	matchRuns           *prometheus.CounterVec
	engineInvocations   prometheus.Counter
	matchDuration       prometheus.Histogram
	matchedParticipants prometheus.Gauge
	sameCountryPairs    prometheus.Gauge
	deliveries          *prometheus.CounterVec
	relays              *prometheus.CounterVec
	signups             prometheus.Counter
	deadlineClosures    prometheus.Counter
}

type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom buckets for the match duration histogram.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// NewManager registers all metrics on a private registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "secretsanta",
		histogramBuckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		registry:         prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)
	m.matchRuns = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "match_runs_total",
		Help:      "Match runs by outcome",
	}, []string{"outcome"})
	m.engineInvocations = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "engine_invocations_total",
		Help:      "Calls to the matching engine, including retries",
	})
	m.matchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "match_duration_seconds",
		Help:      "Time spent computing an assignment",
		Buckets:   m.histogramBuckets,
	})
	m.matchedParticipants = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_match_participants",
		Help:      "Participants in the last successful match",
	})
	m.sameCountryPairs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "last_match_same_country_pairs",
		Help:      "Same country pairs in the last successful match",
	})
	m.deliveries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "deliveries_total",
		Help:      "Private messages by result",
	}, []string{"result"})
	m.relays = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "relays_total",
		Help:      "Anonymous messages relayed by direction",
	}, []string{"direction"})
	m.signups = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "signups_total",
		Help:      "Accepted signups, including updates",
	})
	m.deadlineClosures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "deadline_closures_total",
		Help:      "Events closed because their signup deadline passed",
	})
	return m
}

func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) MatchRun(outcome string) {
	if m == nil {
		return
	}
	m.matchRuns.WithLabelValues(outcome).Inc()
}

func (m *Manager) EngineInvoked(d time.Duration) {
	if m == nil {
		return
	}
	m.engineInvocations.Inc()
	m.matchDuration.Observe(d.Seconds())
}

func (m *Manager) Matched(participants int, sameCountry int) {
	if m == nil {
		return
	}
	m.matchedParticipants.Set(float64(participants))
	m.sameCountryPairs.Set(float64(sameCountry))
}

func (m *Manager) Delivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Manager) Relay(direction string) {
	if m == nil {
		return
	}
	m.relays.WithLabelValues(direction).Inc()
}

func (m *Manager) Signup() {
	if m == nil {
		return
	}
	m.signups.Inc()
}

func (m *Manager) DeadlineClosed(n int) {
	if m == nil {
		return
	}
	m.deadlineClosures.Add(float64(n))
}

// Serve exposes /metrics on addr until the context is cancelled
func (m *Manager) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down metrics server")
		}
	}()

	log.Info().Msg(fmt.Sprintf("Serving metrics on %s", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
