package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cascade/internal/bus"
	"github.com/shaiso/Cascade/internal/domain"
)

// Metrics — Prometheus метрики оркестратора.
//
// Заполняются подписчиком шины событий: метрики наблюдают run'ы
// снаружи, как любой другой потребитель событий, и не требуют
// инструментирования ядра.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	stepsFinished *prometheus.CounterVec
	stepDuration  prometheus.Histogram
	runDuration   prometheus.Histogram
	eventsTotal   *prometheus.CounterVec
	handlerErrors prometheus.Counter
}

// NewMetrics создаёт и регистрирует метрики в собственном registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_runs_started_total",
			Help: "Количество запущенных runs.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_runs_finished_total",
			Help: "Количество завершённых runs по статусу.",
		}, []string{"status"}),
		stepsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_steps_finished_total",
			Help: "Количество завершённых шагов по статусу.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_step_duration_seconds",
			Help:    "Длительность выполнения шагов.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cascade_run_duration_seconds",
			Help:    "Длительность выполнения runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_events_total",
			Help: "Количество опубликованных событий по типу.",
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_handler_errors_total",
			Help: "Количество сбоев обработчиков событий.",
		}),
	}

	m.registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.stepsFinished,
		m.stepDuration,
		m.runDuration,
		m.eventsTotal,
		m.handlerErrors,
	)

	return m
}

// Attach подписывает метрики на события шины.
// Подписка синхронная: инкремент счётчика дёшев и не задерживает Publish.
func (m *Metrics) Attach(eventBus *bus.Bus) {
	all := []bus.EventType{
		bus.EventWorkflowStarted,
		bus.EventStepStarted,
		bus.EventStepCompleted,
		bus.EventWorkflowCompleted,
		bus.EventWorkflowFailed,
		bus.EventWorkflowCancelled,
		bus.EventErrorOccurred,
	}
	for _, et := range all {
		eventBus.Subscribe(et, m.observe)
	}
}

// observe обновляет метрики по одному событию.
func (m *Metrics) observe(e *bus.Event) error {
	m.eventsTotal.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case bus.EventWorkflowStarted:
		m.runsStarted.Inc()

	case bus.EventWorkflowCompleted:
		m.runsFinished.WithLabelValues(string(domain.RunStatusCompleted)).Inc()
		m.observeRunDuration(e)

	case bus.EventWorkflowFailed:
		m.runsFinished.WithLabelValues(string(domain.RunStatusFailed)).Inc()
		m.observeRunDuration(e)

	case bus.EventWorkflowCancelled:
		m.runsFinished.WithLabelValues(string(domain.RunStatusCancelled)).Inc()
		m.observeRunDuration(e)

	case bus.EventStepCompleted:
		if status, ok := e.Payload["status"].(string); ok {
			m.stepsFinished.WithLabelValues(status).Inc()
		}
		if ms, ok := toMilliseconds(e.Payload["duration_ms"]); ok {
			m.stepDuration.Observe(ms / 1000)
		}

	case bus.EventErrorOccurred:
		m.handlerErrors.Inc()
	}

	return nil
}

func (m *Metrics) observeRunDuration(e *bus.Event) {
	if ms, ok := toMilliseconds(e.Payload["duration_ms"]); ok {
		m.runDuration.Observe(ms / 1000)
	}
}

// toMilliseconds приводит payload-значение длительности к float64.
func toMilliseconds(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// Handler возвращает HTTP handler для /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
