package core

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	routed     *prometheus.CounterVec
	unroutable *prometheus.CounterVec
	delivered  prometheus.Counter
	failures   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		routed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_routed_total",
				Help: "messages handed to an address type plugin",
			},
			[]string{"address_type"},
		),
		unroutable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_messages_unroutable_total",
				Help: "messages dropped by the routing layer",
			},
			[]string{"reason"},
		),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_worker_deliveries_total",
			Help: "messages delivered to local workers",
		}),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_worker_failures_total",
				Help: "worker deliveries that returned an error or panicked",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		m.routed = register(reg, m.routed)
		m.unroutable = register(reg, m.unroutable)
		m.delivered = register(reg, m.delivered)
		m.failures = register(reg, m.failures)
	}
	return m
}

// register shares collectors between nodes using the same registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
		return c
	}
	if err != nil {
		panic(err)
	}
	return c
}

func reasonLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrEmptyRoute):
		return "empty_route"
	case errors.Is(reason, ErrNoPlugin):
		return "no_plugin"
	case errors.Is(reason, ErrUnknownAddress):
		return "unknown_address"
	case errors.Is(reason, ErrNodeStopped):
		return "node_stopped"
	default:
		return "other"
	}
}
