// Package metrics exposes Prometheus collectors for the room server and the
// streaming engine.
//
// Room ids are never used as label values; per-room series would grow
// without bound.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arcfeed"

// Registry wraps a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry returns a registry with the Go runtime and process collectors
// installed.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{reg: reg}
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Server holds the room server collectors. It implements
// realtime.HubObserver and realtime.ConnObserver.
type Server struct {
	wsActive   prometheus.Gauge
	wsOpened   prometheus.Counter
	wsClosed   *prometheus.CounterVec
	broadcasts prometheus.Counter
	deliveries prometheus.Counter
	evictions  prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewServer registers the server collectors on r.
func NewServer(r *Registry) *Server {
	s := &Server{
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "sessions_active",
			Help: "Currently open websocket sessions.",
		}),
		wsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "sessions_opened_total",
			Help: "Websocket sessions accepted.",
		}),
		wsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "sessions_closed_total",
			Help: "Websocket sessions closed, by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "broadcasts_total",
			Help: "Envelopes fanned out to a room.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "deliveries_total",
			Help: "Envelopes queued to individual members.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "evictions_total",
			Help: "Members evicted for falling behind the fan-out.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	r.reg.MustRegister(s.wsActive, s.wsOpened, s.wsClosed, s.broadcasts, s.deliveries, s.evictions, s.httpRequests, s.httpDuration)
	return s
}

// SessionOpened implements realtime.ConnObserver.
func (s *Server) SessionOpened() {
	s.wsOpened.Inc()
	s.wsActive.Inc()
}

// SessionClosed implements realtime.ConnObserver.
func (s *Server) SessionClosed(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	s.wsActive.Dec()
	s.wsClosed.WithLabelValues(reason).Inc()
}

// Broadcast implements realtime.HubObserver.
func (s *Server) Broadcast(_ string, delivered int) {
	s.broadcasts.Inc()
	s.deliveries.Add(float64(delivered))
}

// Evicted implements realtime.HubObserver.
func (s *Server) Evicted(string) { s.evictions.Inc() }

// ObserveHTTP records one finished request. route should be the matched mux
// pattern, not the raw path.
func (s *Server) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
