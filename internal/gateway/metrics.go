package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	Requests      *prometheus.CounterVec
	RequestErrors *prometheus.CounterVec
	ActiveClients prometheus.Gauge
	FanoutEvents  prometheus.Counter
	FanoutDrops   prometheus.Counter
	Latency       *prometheus.SummaryVec
}

// NewMetrics creates the collectors and registers them. Pass nil to use
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentick_gateway_requests_total",
			Help: "RPC requests dispatched, by method.",
		}, []string{"method"}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentick_gateway_request_errors_total",
			Help: "RPC requests that returned an error, by code.",
		}, []string{"code"}),
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentick_gateway_active_clients",
			Help: "Currently connected transport clients.",
		}),
		FanoutEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentick_gateway_fanout_events_total",
			Help: "Session events fanned out to subscribed clients.",
		}),
		FanoutDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentick_gateway_fanout_drops_total",
			Help: "Events dropped by client event buffers.",
		}),
		Latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "agentick_gateway_request_seconds",
			Help:       "RPC request latency, by method.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"method"}),
	}
	reg.MustRegister(m.Requests, m.RequestErrors, m.ActiveClients, m.FanoutEvents, m.FanoutDrops, m.Latency)
	return m
}
