package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the process counters. Registered once at startup; tests pass
// their own registry.
type Metrics struct {
	TriggersTotal     *prometheus.CounterVec
	TriggersCoalesced prometheus.Counter
	SweepsTotal       *prometheus.CounterVec
	RevokesTotal      *prometheus.CounterVec
	EndpointRotations prometheus.Counter
	PriceFallbacks    prometheus.Counter
	DecimalsFallbacks prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "everro_triggers_total",
			Help: "Total number of emergency triggers by source",
		}, []string{"source"}),
		TriggersCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "everro_triggers_coalesced_total",
			Help: "Total number of triggers dropped because a sequence was already running",
		}),
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "everro_sweeps_total",
			Help: "Total number of sweep attempts by asset and outcome",
		}, []string{"asset", "outcome"}),
		RevokesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "everro_revokes_total",
			Help: "Total number of approval revocations by outcome",
		}, []string{"outcome"}),
		EndpointRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "everro_endpoint_rotations_total",
			Help: "Total number of RPC endpoint rotations",
		}),
		PriceFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "everro_price_fallbacks_total",
			Help: "Total number of price feed failures degraded to a zero price",
		}),
		DecimalsFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "everro_decimals_fallbacks_total",
			Help: "Total number of token decimals reads served from the fixed fallback",
		}),
	}
	reg.MustRegister(
		m.TriggersTotal,
		m.TriggersCoalesced,
		m.SweepsTotal,
		m.RevokesTotal,
		m.EndpointRotations,
		m.PriceFallbacks,
		m.DecimalsFallbacks,
	)
	return m
}
