package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrderTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_order_transitions_total",
		Help: "Order status transitions by resulting status.",
	}, []string{"status"})

	DisputesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "p2p_disputes_opened_total",
		Help: "Disputes opened.",
	})

	DisputesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_disputes_resolved_total",
		Help: "Disputes resolved by outcome.",
	}, []string{"outcome"})

	AutoReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "p2p_auto_releases_total",
		Help: "Orders force-completed by the auto-release worker.",
	})

	EscrowVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_escrow_volume_total",
		Help: "Escrow movement volume by currency and direction.",
	}, []string{"currency", "direction"})
)

func Handler() http.Handler { return promhttp.Handler() }
