// Package metrics exposes Prometheus collectors for the watch workflow, event
// delivery and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexuswatch"

type Collector struct {
	incidentsReported prometheus.Counter
	verifications     *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		incidentsReported: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "incidents_reported_total",
			Help:      "Number of incidents accepted by Submit.",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "deliveries_total",
			Help:      "Event deliveries to notification handlers by result.",
		}, []string{"handler", "kind", "result"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Tracks the number of HTTP requests.",
		}, []string{"route", "method", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Tracks the latencies for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (c *Collector) IncidentReported() {
	c.incidentsReported.Inc()
}

func (c *Collector) VerificationRecorded(outcome string) {
	c.verifications.WithLabelValues(outcome).Inc()
}

func (c *Collector) EventDelivered(handler string, kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.deliveries.WithLabelValues(handler, kind, result).Inc()
}

func (c *Collector) HTTPRequest(route, method string, code int, d time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
