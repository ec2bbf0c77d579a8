package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Prometheus struct {
	sagaTransitions  *prometheus.CounterVec
	sagaFinished     *prometheus.CounterVec
	commandsEmitted  *prometheus.CounterVec
	eventsIgnored    *prometheus.CounterVec
	useCaseTotal     *prometheus.CounterVec
	useCaseDuration  *prometheus.HistogramVec
	httpDuration     *prometheus.HistogramVec
	versionConflicts prometheus.Counter
	timeoutsFired    *prometheus.CounterVec
	duplicates       *prometheus.CounterVec
	outboxEvents     *prometheus.CounterVec
}

func NewPrometheusMetrics(reg prometheus.Registerer, serviceName string) *Prometheus {
	constLabels := prometheus.Labels{"service": serviceName}
	m := &Prometheus{
		sagaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_saga_transitions_total",
			Help:        "Saga status transitions.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		sagaFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_saga_finished_total",
			Help:        "Sagas that reached a terminal status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		commandsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_saga_commands_emitted_total",
			Help:        "Commands emitted by the orchestrator.",
			ConstLabels: constLabels,
		}, []string{"command"}),
		eventsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_saga_events_ignored_total",
			Help:        "Inputs acknowledged and discarded.",
			ConstLabels: constLabels,
		}, []string{"event", "reason"}),
		useCaseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "app_usecase_total",
			Help:        "Total number of Use Case executions.",
			ConstLabels: constLabels,
		}, []string{"use_case", "status"}),
		useCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "app_usecase_duration_seconds",
			Help:        "Use Case execution latency.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"use_case", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "app_http_duration_seconds",
			Help:        "Duration of HTTP requests.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "path", "status_code"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "booking_saga_version_conflicts_total",
			Help:        "Optimistic concurrency collisions on save.",
			ConstLabels: constLabels,
		}),
		timeoutsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "booking_saga_timeouts_fired_total",
			Help:        "Timeouts delivered to the orchestrator.",
			ConstLabels: constLabels,
		}, []string{"step"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "app_duplicate_messages_dropped_total",
			Help:        "Redeliveries dropped by the idempotency guard.",
			ConstLabels: constLabels,
		}, []string{"handler"}),
		outboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "app_outbox_events_processed_total",
			Help:        "Total outbox events processed.",
			ConstLabels: constLabels,
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.sagaTransitions,
		m.sagaFinished,
		m.commandsEmitted,
		m.eventsIgnored,
		m.useCaseTotal,
		m.useCaseDuration,
		m.httpDuration,
		m.versionConflicts,
		m.timeoutsFired,
		m.duplicates,
		m.outboxEvents,
	)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (p *Prometheus) RecordSagaTransition(from, to string) {
	p.sagaTransitions.WithLabelValues(from, to).Inc()
}

func (p *Prometheus) RecordSagaFinished(status string) {
	p.sagaFinished.WithLabelValues(status).Inc()
}

func (p *Prometheus) RecordCommandEmitted(command string) {
	p.commandsEmitted.WithLabelValues(command).Inc()
}

func (p *Prometheus) RecordEventIgnored(event, reason string) {
	p.eventsIgnored.WithLabelValues(event, reason).Inc()
}

func (p *Prometheus) RecordUseCaseExecution(useCase string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	p.useCaseTotal.WithLabelValues(useCase, status).Inc()
	p.useCaseDuration.WithLabelValues(useCase, status).Observe(duration.Seconds())
}

func (p *Prometheus) ObserveHTTPRequestDuration(method, path, code string, duration float64) {
	p.httpDuration.WithLabelValues(method, path, code).Observe(duration)
}

func (p *Prometheus) IncVersionConflict() {
	p.versionConflicts.Inc()
}

func (p *Prometheus) IncTimeoutFired(step string) {
	p.timeoutsFired.WithLabelValues(step).Inc()
}

func (p *Prometheus) IncDuplicateDropped(handler string) {
	p.duplicates.WithLabelValues(handler).Inc()
}

func (p *Prometheus) IncOutboxEventsProcessed(status string) {
	p.outboxEvents.WithLabelValues(status).Inc()
}
