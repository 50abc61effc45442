// Package metrics exposes Prometheus instruments for engine operations, the
// settlement keeper and the HTTP API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	VolumeTotal       *prometheus.CounterVec
	FeesTotal         prometheus.Counter
	PayoutsTotal      prometheus.Counter
	Settlements       *prometheus.CounterVec
	KeeperSweeps      *prometheus.CounterVec
	KeeperLastSweep   prometheus.Gauge
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	EventsPublished   *prometheus.CounterVec
}

// New creates and registers all instruments on a dedicated registry so tests
// and multiple instances never collide on the default one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_operations_total",
			Help: "Engine operations by name and result code",
		}, []string{"operation", "code"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prediction_operation_duration_seconds",
			Help:    "Engine operation latency",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		VolumeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_trade_volume_total",
			Help: "Gross trade value in base units by side and direction",
		}, []string{"side", "direction"}),

		FeesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "prediction_fees_total",
			Help: "Fees credited to the treasury in base units",
		}),

		PayoutsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "prediction_payouts_total",
			Help: "Winnings paid out in base units",
		}),

		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_settlements_total",
			Help: "Markets settled by outcome",
		}, []string{"state"}),

		KeeperSweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_keeper_settle_attempts_total",
			Help: "Keeper settlement attempts by result code",
		}, []string{"code"}),

		KeeperLastSweep: f.NewGauge(prometheus.GaugeOpts{
			Name: "prediction_keeper_last_sweep_timestamp_seconds",
			Help: "Unix time of the last completed keeper sweep",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_http_requests_total",
			Help: "HTTP requests by method and status",
		}, []string{"method", "status"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prediction_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_events_published_total",
			Help: "Events published to the bus by channel",
		}, []string{"channel"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOperation counts one engine operation and its latency.
func (m *Metrics) RecordOperation(op, code string, elapsed time.Duration) {
	m.Operations.WithLabelValues(op, code).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordTrade adds a trade's gross value and fee.
func (m *Metrics) RecordTrade(side, direction string, price, fee uint64) {
	m.VolumeTotal.WithLabelValues(side, direction).Add(float64(price))
	m.FeesTotal.Add(float64(fee))
}

// RecordSettlement counts a settled market.
func (m *Metrics) RecordSettlement(state string) {
	m.Settlements.WithLabelValues(state).Inc()
}

// RecordPayout adds a claim payout.
func (m *Metrics) RecordPayout(amount uint64) {
	m.PayoutsTotal.Add(float64(amount))
}

// RecordKeeperAttempt counts one keeper settlement attempt.
func (m *Metrics) RecordKeeperAttempt(code string) {
	m.KeeperSweeps.WithLabelValues(code).Inc()
}

// RecordKeeperSweep stamps the end of a sweep.
func (m *Metrics) RecordKeeperSweep(at time.Time) {
	m.KeeperLastSweep.Set(float64(at.Unix()))
}

// RecordHTTP counts one HTTP request.
func (m *Metrics) RecordHTTP(method string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(method, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordEvent counts an event published on channel.
func (m *Metrics) RecordEvent(channel string) {
	m.EventsPublished.WithLabelValues(channel).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
