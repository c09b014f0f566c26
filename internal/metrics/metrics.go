// Package metrics exposes governance activity as Prometheus metrics fed from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mossgov/internal/events"
)

type Metrics struct {
	votingsCreated   *prometheus.CounterVec
	votesCast        *prometheus.CounterVec
	votePower        *prometheus.CounterVec
	quorumReached    *prometheus.CounterVec
	votingsFinalized *prometheus.CounterVec
	approvals        *prometheus.CounterVec
	stagesCompleted  *prometheus.CounterVec
	stageAttempts    *prometheus.HistogramVec
	stageDuration    *prometheus.HistogramVec
	pipelineRuns     *prometheus.CounterVec
	memberStatus     *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the metric set. activePipelines, when non-nil, backs the
// mossgov_pipelines_active gauge.
func New(activePipelines func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		votingsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_votings_created_total",
				Help: "Voting sessions opened by risk level",
			},
			[]string{"risk"},
		),
		votesCast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_votes_cast_total",
				Help: "Votes recorded by house and choice",
			},
			[]string{"house", "choice"},
		),
		votePower: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_vote_power_total",
				Help: "Voting power cast by house, including delegated power",
			},
			[]string{"house"},
		),
		quorumReached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_quorum_reached_total",
				Help: "Sessions in which a house reached quorum",
			},
			[]string{"house"},
		),
		votingsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_votings_finalized_total",
				Help: "Finalized sessions by outcome",
			},
			[]string{"status", "early"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_highrisk_events_total",
				Help: "High-risk approval lifecycle events",
			},
			[]string{"event"},
		),
		stagesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_pipeline_stages_completed_total",
				Help: "Pipeline stages completed",
			},
			[]string{"stage"},
		),
		stageAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mossgov_pipeline_stage_attempts",
				Help:    "Attempts needed per completed stage",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
			[]string{"stage"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mossgov_pipeline_stage_duration_seconds",
				Help:    "Stage duration including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		pipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_pipeline_runs_total",
				Help: "Pipeline runs by terminal status",
			},
			[]string{"status"},
		),
		memberStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_member_status_changes_total",
				Help: "House member status transitions",
			},
			[]string{"house", "to"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mossgov_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mossgov_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.votingsCreated,
		m.votesCast,
		m.votePower,
		m.quorumReached,
		m.votingsFinalized,
		m.approvals,
		m.stagesCompleted,
		m.stageAttempts,
		m.stageDuration,
		m.pipelineRuns,
		m.memberStatus,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	if activePipelines != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "mossgov_pipelines_active",
				Help: "Pipeline runs executing in this process",
			},
			func() float64 { return float64(activePipelines()) },
		))
	}
	return m
}

// Handle records one event. It has the events.Handler signature.
func (m *Metrics) Handle(_ context.Context, e events.Event) {
	switch evt := e.(type) {
	case events.VotingCreatedEvent:
		m.votingsCreated.WithLabelValues(string(evt.Voting.RiskLevel)).Inc()
	case events.VoteCastEvent:
		m.votesCast.WithLabelValues(string(evt.Vote.House), string(evt.Vote.Choice)).Inc()
		m.votePower.WithLabelValues(string(evt.Vote.House)).Add(float64(evt.Vote.VotingPower))
	case events.QuorumReachedEvent:
		m.quorumReached.WithLabelValues(string(evt.House)).Inc()
	case events.VotingFinalizedEvent:
		m.votingsFinalized.WithLabelValues(string(evt.Voting.Status), strconv.FormatBool(evt.Early)).Inc()
	case events.ApprovalEvent:
		m.approvals.WithLabelValues(string(evt.Kind)).Inc()
	case events.PipelineEvent:
		switch evt.Kind {
		case events.StageCompleted:
			stage := string(evt.Stage)
			m.stagesCompleted.WithLabelValues(stage).Inc()
			m.stageAttempts.WithLabelValues(stage).Observe(float64(evt.Attempts))
			m.stageDuration.WithLabelValues(stage).Observe(evt.Duration.Seconds())
		default:
			m.pipelineRuns.WithLabelValues(string(evt.Status)).Inc()
		}
	case events.MemberStatusEvent:
		m.memberStatus.WithLabelValues(string(evt.House), string(evt.To)).Inc()
	}
}

// Attach subscribes the metrics to every event on bus.
func (m *Metrics) Attach(bus *events.Bus) (unsubscribe func()) {
	return bus.SubscribeAll(m.Handle)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency labelled by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
