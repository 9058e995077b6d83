package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "gateway_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	exchangeTotal   *prometheus.CounterVec
	exchangeLatency *prometheus.HistogramVec

	translateErrors *prometheus.CounterVec

	alarmActive      *prometheus.GaugeVec
	alarmEventsTotal *prometheus.CounterVec
)

// Init registers gateway metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		exchangeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exchange_total",
				Help: "Total broker exchanges by data model, method and result",
			},
			[]string{"model", "method", "result"},
		)
		exchangeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "exchange_latency_seconds",
				Help:    "Broker exchange latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "method"},
		)

		translateErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "translate_errors_total",
				Help: "Total translation failures by error kind",
			},
			[]string{"kind"},
		)

		alarmActive = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alarm_active",
				Help: "Whether the alarm key is currently raised",
			},
			[]string{"key"},
		)
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm transitions by event",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			exchangeTotal,
			exchangeLatency,
			translateErrors,
			alarmActive,
			alarmEventsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveExchange records one broker exchange.
func ObserveExchange(model, method, result string, duration time.Duration) {
	if model == "" {
		model = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exchangeTotal != nil {
		exchangeTotal.WithLabelValues(model, method, result).Inc()
	}
	if exchangeLatency != nil {
		exchangeLatency.WithLabelValues(model, method).Observe(duration.Seconds())
	}
}

// IncTranslateError counts a failed translation by kind.
func IncTranslateError(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	if translateErrors != nil {
		translateErrors.WithLabelValues(kind).Inc()
	}
}

// SetAlarmActive mirrors the alarm gate state.
func SetAlarmActive(key string, active bool) {
	if alarmActive == nil {
		return
	}
	value := 0.0
	if active {
		value = 1
	}
	alarmActive.WithLabelValues(key).Set(value)
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// Exchange result labels. Typed failures are labelled with their error kind;
// ResultError covers the rest.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
