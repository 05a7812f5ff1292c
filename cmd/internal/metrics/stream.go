package metrics

import (
	"arcfeed/cmd/internal/stream"

	"github.com/prometheus/client_golang/prometheus"
)

// Stream implements stream.Observer.
type Stream struct {
	started       prometheus.Counter
	historySize   prometheus.Histogram
	delivered     prometheus.Counter
	boundaryDrops prometheus.Counter
	ended         *prometheus.CounterVec
}

var _ stream.Observer = (*Stream)(nil)

// NewStream registers the engine collectors on r.
func NewStream(r *Registry) *Stream {
	s := &Stream{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "sessions_started_total",
			Help: "Sessions that completed setup.",
		}),
		historySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "stream", Name: "history_window_size",
			Help:    "Messages in the history window at session start.",
			Buckets: []float64{0, 1, 10, 25, 50, 100, 200},
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "messages_delivered_total",
			Help: "Live messages handed to consumers.",
		}),
		boundaryDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "boundary_duplicates_total",
			Help: "Live messages dropped because the history window already held them.",
		}),
		ended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "sessions_ended_total",
			Help: "Sessions that reached a terminal state, by state.",
		}, []string{"state"}),
	}
	r.reg.MustRegister(s.started, s.historySize, s.delivered, s.boundaryDrops, s.ended)
	return s
}

// SessionStarted implements stream.Observer.
func (s *Stream) SessionStarted(_ stream.RoomID, historySize int) {
	s.started.Inc()
	s.historySize.Observe(float64(historySize))
}

// MessageDelivered implements stream.Observer.
func (s *Stream) MessageDelivered(stream.RoomID) { s.delivered.Inc() }

// BoundaryDuplicate implements stream.Observer.
func (s *Stream) BoundaryDuplicate(stream.RoomID) { s.boundaryDrops.Inc() }

// SessionEnded implements stream.Observer. Sessions that never became active
// are counted too, under the state they ended in.
func (s *Stream) SessionEnded(_ stream.RoomID, state stream.State) {
	s.ended.WithLabelValues(state.String()).Inc()
}
