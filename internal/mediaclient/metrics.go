package mediaclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for engine control. A nil *Metrics records nothing.
type Metrics struct {
	// Instances tracks the number of registered engines
	Instances prometheus.Gauge

	// ChannelsAvailable and ChannelsActive track the aggregate engine reported totals
	ChannelsAvailable prometheus.Gauge
	ChannelsActive    prometheus.Gauge

	// ChannelTransitionsTotal counts channel state changes
	ChannelTransitionsTotal *prometheus.CounterVec

	// OperationTimeoutsTotal counts open/close requests the engine never answered
	OperationTimeoutsTotal *prometheus.CounterVec

	// MessagesTotal counts control messages by direction and kind
	MessagesTotal *prometheus.CounterVec

	// FramingErrorsTotal counts inbound frames discarded for a bad header
	FramingErrorsTotal prometheus.Counter

	// OpenLatencySeconds measures the time from open sent to open confirmed
	OpenLatencySeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Instances: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcontrol_instances",
			Help: "Number of connected media engines",
		}),
		ChannelsAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcontrol_channels_available",
			Help: "Available channels reported across all media engines",
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcontrol_channels_active",
			Help: "Active channels reported across all media engines",
		}),
		ChannelTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpcontrol_channel_transitions_total",
				Help: "Total number of channel state transitions",
			},
			[]string{"from", "to"},
		),
		OperationTimeoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpcontrol_operation_timeouts_total",
				Help: "Total number of channel operations that timed out",
			},
			[]string{"operation"},
		),
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtpcontrol_messages_total",
				Help: "Total number of control messages exchanged with media engines",
			},
			[]string{"direction", "kind"},
		),
		FramingErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rtpcontrol_framing_errors_total",
			Help: "Total number of inbound framing faults",
		}),
		OpenLatencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtpcontrol_open_latency_seconds",
			Help:    "Time between sending open and receiving the engine confirmation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		}),
	}
}

func (m *Metrics) setInstances(count int, totals Capacity) {
	if m == nil {
		return
	}
	m.Instances.Set(float64(count))
	m.ChannelsAvailable.Set(float64(totals.Available))
	m.ChannelsActive.Set(float64(totals.Active))
}

func (m *Metrics) transition(from, to ChannelState) {
	if m == nil {
		return
	}
	m.ChannelTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) timeout(op string) {
	if m == nil {
		return
	}
	m.OperationTimeoutsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) message(direction, kind string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) framingError() {
	if m == nil {
		return
	}
	m.FramingErrorsTotal.Inc()
}

func (m *Metrics) openLatency(seconds float64) {
	if m == nil {
		return
	}
	m.OpenLatencySeconds.Observe(seconds)
}
