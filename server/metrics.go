package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	grantsIssued   *prometheus.CounterVec
	grantsDenied   *prometheus.CounterVec
	objectsDeleted prometheus.Counter
	requests       *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		grantsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_grants_issued_total",
			Help: "Presigned upload grants issued, by content type.",
		}, []string{"content_type"}),
		grantsDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_requests_denied_total",
			Help: "Broker requests refused, by reason.",
		}, []string{"reason"}),
		objectsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "upload_objects_deleted_total",
			Help: "Objects deleted through the broker.",
		}),
		requests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broker_request_duration_seconds",
			Help:    "Broker request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) issued(contentType string) {
	m.grantsIssued.WithLabelValues(contentType).Inc()
}

func (m *Metrics) denied(reason string) {
	m.grantsDenied.WithLabelValues(reason).Inc()
}

func (m *Metrics) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}
