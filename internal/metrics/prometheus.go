// Package metrics exposes controller and HTTP measurements in the
// Prometheus exposition format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invar"

var phases = []string{"disconnected", "loading", "ready", "submitting"}

// Collector records contract reads and writes, busy rejections, the
// controller phase and HTTP traffic. Metrics are registered in a dedicated
// registry so they do not interfere with the default global registry.
type Collector struct {
	registry *prometheus.Registry

	readCount     *prometheus.CounterVec
	readDuration  *prometheus.HistogramVec
	writeCount    *prometheus.CounterVec
	writeDuration *prometheus.HistogramVec
	busyRejected  *prometheus.CounterVec
	phase         *prometheus.GaugeVec

	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	streamClients   prometheus.Gauge

	startTime time.Time
}

// NewCollector creates a collector with its own registry, including the Go
// runtime collector.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	start := time.Now()

	c := &Collector{
		registry: reg,
		readCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_reads_total",
			Help:      "Contract reads by view and result.",
		}, []string{"view", "result"}),
		readDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "contract_read_duration_seconds",
			Help:      "Contract read latency including retries, by view.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"view"}),
		writeCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Submitted transactions by step and result.",
		}, []string{"step", "result"}),
		writeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from submission to confirmation, by step.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"step"}),
		busyRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "busy_rejections_total",
			Help:      "Writes rejected because another write was in flight.",
		}, []string{"operation"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_phase",
			Help:      "1 for the current stake controller phase, 0 otherwise.",
		}, []string{"phase"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5, 30},
		}, []string{"route"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Connected WebSocket snapshot stream clients.",
		}),
		startTime: start,
	}

	reg.MustRegister(
		c.readCount,
		c.readDuration,
		c.writeCount,
		c.writeDuration,
		c.busyRejected,
		c.phase,
		c.requestCount,
		c.requestDuration,
		c.streamClients,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the process started in seconds.",
		}, func() float64 { return time.Since(start).Seconds() }),
		collectors.NewGoCollector(),
	)

	c.SetPhase("disconnected")
	return c
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRead records a contract read.
func (c *Collector) ObserveRead(view string, d time.Duration, err error) {
	c.readCount.WithLabelValues(view, result(err)).Inc()
	c.readDuration.WithLabelValues(view).Observe(d.Seconds())
}

// ObserveWrite records a transaction from submission to confirmation.
func (c *Collector) ObserveWrite(step string, d time.Duration, err error) {
	c.writeCount.WithLabelValues(step, result(err)).Inc()
	c.writeDuration.WithLabelValues(step).Observe(d.Seconds())
}

// BusyRejected counts a write rejected while another was in flight.
func (c *Collector) BusyRejected(op string) {
	c.busyRejected.WithLabelValues(op).Inc()
}

// SetPhase marks phase as the current controller phase.
func (c *Collector) SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.phase.WithLabelValues(p).Set(v)
	}
}

// ObserveRequest records a served HTTP request.
func (c *Collector) ObserveRequest(route string, code int, d time.Duration) {
	c.requestCount.WithLabelValues(route, strconv.Itoa(code)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track WebSocket stream clients.
func (c *Collector) StreamOpened() { c.streamClients.Inc() }

func (c *Collector) StreamClosed() { c.streamClients.Dec() }

// Handler serves the registry in the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
