package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the acoustic link
type Metrics struct {
	// PHY receive metrics
	FramesDecoded  prometheus.Counter
	SyncLocks      prometheus.Counter
	CRCErrors      prometheus.Counter
	HeaderErrors   prometheus.Counter
	LineCodeErrors prometheus.Counter
	FramesNotForUs prometheus.Counter
	ChannelPower   prometheus.Gauge

	// MAC metrics
	FramesSent       prometheus.Counter
	Retransmissions  prometheus.Counter
	AcksSent         prometheus.Counter
	AcksReceived     prometheus.Counter
	DuplicateFrames  prometheus.Counter
	DroppedFrames    prometheus.Counter
	LinkFailures     prometheus.Counter
	PacketsDelivered prometheus.Counter

	// Link metrics
	SamplesIn  prometheus.Counter
	SamplesOut prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests use
// a private registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// PHY receive metrics
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_frames_decoded_total",
			Help: "Total number of frames decoded from the channel",
		}),
		SyncLocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_sync_locks_total",
			Help: "Total number of preamble synchronization locks",
		}),
		CRCErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_crc_errors_total",
			Help: "Total number of frames rejected by CRC",
		}),
		HeaderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_header_errors_total",
			Help: "Total number of undecodable or invalid frame headers",
		}),
		LineCodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_line_code_errors_total",
			Help: "Total number of line coding violations while decoding",
		}),
		FramesNotForUs: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_frames_not_for_us_total",
			Help: "Total number of valid frames addressed to another node",
		}),
		ChannelPower: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acoustlink_channel_power",
			Help: "Smoothed mean squared sample power of the channel",
		}),

		// MAC metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_frames_sent_total",
			Help: "Total number of data frames transmitted, including retries",
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_retransmissions_total",
			Help: "Total number of data frame retransmissions",
		}),
		AcksSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_acks_sent_total",
			Help: "Total number of acknowledgements transmitted",
		}),
		AcksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_acks_received_total",
			Help: "Total number of matching acknowledgements received",
		}),
		DuplicateFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_duplicate_frames_total",
			Help: "Total number of duplicate data frames suppressed",
		}),
		DroppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_dropped_frames_total",
			Help: "Total number of frames dropped on full queues",
		}),
		LinkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_link_failures_total",
			Help: "Total number of sends abandoned after the retry budget",
		}),
		PacketsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_packets_delivered_total",
			Help: "Total number of unique payloads delivered to the application",
		}),

		// Link metrics
		SamplesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_samples_in_total",
			Help: "Total number of samples captured from the channel",
		}),
		SamplesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "acoustlink_samples_out_total",
			Help: "Total number of samples played into the channel",
		}),
	}
}
