package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ConnectionsActive    prometheus.Gauge
	ConnectStateByRoom   *prometheus.GaugeVec
	Reconnects           prometheus.Counter
	EventsDecoded        *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec
	FramesSent           prometheus.Counter
	NotificationsDeduped prometheus.Counter
	TimerResyncs         prometheus.Counter
}

// New registers the engine metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Number of open push channel connections",
		}),
		ConnectStateByRoom: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_connection_state",
			Help: "Connection state per room (1 for the current state)",
		}, []string{"room_id", "state"}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_reconnects_total",
			Help: "Total number of reconnect attempts",
		}),
		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_decoded_total",
			Help: "Total number of successfully decoded inbound events",
		}, []string{"type"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Total number of inbound frames dropped",
		}, []string{"reason"}),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_frames_sent_total",
			Help: "Total number of advisory frames written to the push channel",
		}),
		NotificationsDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_notifications_deduped_total",
			Help: "Total number of duplicate notifications suppressed",
		}),
		TimerResyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "realtime_timer_resyncs_total",
			Help: "Total number of timer re-anchors to a server timestamp",
		}),
	}
}

// Default returns metrics registered on the global prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

func (m *Metrics) IncConnections() { m.ConnectionsActive.Inc() }
func (m *Metrics) DecConnections() { m.ConnectionsActive.Dec() }

func (m *Metrics) SetConnState(roomID, state string) {
	m.ConnectStateByRoom.WithLabelValues(roomID, state).Set(1)
}

func (m *Metrics) ClearConnState(roomID, state string) {
	m.ConnectStateByRoom.WithLabelValues(roomID, state).Set(0)
}

func (m *Metrics) IncReconnects() { m.Reconnects.Inc() }

func (m *Metrics) IncEventsDecoded(eventType string) {
	m.EventsDecoded.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncEventsDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncFramesSent() { m.FramesSent.Inc() }

func (m *Metrics) IncNotificationsDeduped() { m.NotificationsDeduped.Inc() }

func (m *Metrics) IncTimerResyncs() { m.TimerResyncs.Inc() }
