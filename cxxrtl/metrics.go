package cxxrtl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	commandsSent    *prometheus.CounterVec
	responses       *prometheus.CounterVec
	roundTrip       *prometheus.HistogramVec
	mismatches      prometheus.Counter
	protocolErrors  prometheus.Counter
	events          *prometheus.CounterVec
	pendingCommands prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		commandsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cxxrtl_commands_sent_total",
			Help: "Commands written to the simulator, by command",
		}, []string{"command"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cxxrtl_responses_total",
			Help: "Responses received from the simulator, by command",
		}, []string{"command"}),
		roundTrip: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cxxrtl_command_round_trip_seconds",
			Help:    "Time from submitting a command to applying its response",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
		}, []string{"command"}),
		mismatches: factory.NewCounter(prometheus.CounterOpts{
			Name: "cxxrtl_response_mismatches_total",
			Help: "Responses that did not match the oldest pending command",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "cxxrtl_protocol_errors_total",
			Help: "Error messages and undecodable frames received",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cxxrtl_events_total",
			Help: "Asynchronous events received, by event",
		}, []string{"event"}),
		pendingCommands: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cxxrtl_pending_commands",
			Help: "Commands sent and waiting for a response",
		}),
	}
}
