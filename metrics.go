package auth

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts auth activity events
type MetricsSink struct {
	events          *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ ActivitySink = (*MetricsSink)(nil)

// NewMetricsSink registers the auth collectors with reg, or the default
// registerer when reg is nil.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsSink{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskauth",
				Name:      "events_total",
				Help:      "Total number of auth activity events",
			},
			[]string{"event"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "taskauth",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "taskauth",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latencies in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *MetricsSink) Record(_ context.Context, event ActivityEvent) error {
	m.events.WithLabelValues(string(event.EventType)).Inc()
	return nil
}

// EventCounter exposes the events counter for a single event type
func (m *MetricsSink) EventCounter(eventType ActivityEventType) prometheus.Counter {
	return m.events.WithLabelValues(string(eventType))
}

// Middleware records request counts and latencies per route
func (m *MetricsSink) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if ferr, ok := err.(*fiber.Error); ok {
				status = ferr.Code
			} else {
				status = HTTPStatus(err)
			}
		}

		route := c.Route().Path
		m.requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
