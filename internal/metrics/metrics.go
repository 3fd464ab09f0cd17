package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the cipo collectors.
	Registry = prometheus.NewRegistry()

	TransfersReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "router",
			Name:      "transfers_total",
			Help:      "Transfers and replayed credits seen by the router, including duplicates.",
		},
	)

	DuplicatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "router",
			Name:      "duplicates_total",
			Help:      "Items dropped because their txid was already dispatched.",
		},
	)

	RoutingErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "router",
			Name:      "routing_errors_total",
			Help:      "Credits dropped because no device is configured for the address.",
		},
	)

	CreditsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "router",
			Name:      "credits_dispatched_total",
			Help:      "Credits handed to a device controller.",
		},
		[]string{"device", "source"},
	)

	JournalAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "journal",
			Name:      "appends_total",
			Help:      "Journal entries durably appended.",
		},
	)

	DeliveriesCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "delivery",
			Name:      "completed_total",
			Help:      "Deliveries that reached their energy target.",
		},
		[]string{"device"},
	)

	DeliveredWattHours = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "delivery",
			Name:      "watt_hours_total",
			Help:      "Metered energy delivered against credits.",
		},
		[]string{"device"},
	)

	DriverErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "device",
			Name:      "errors_total",
			Help:      "Failed device driver calls.",
		},
		[]string{"device", "op"},
	)

	ControllerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cipo",
			Subsystem: "delivery",
			Name:      "state",
			Help:      "Current controller state (0 idle, 1 starting, 2 delivering, 3 done).",
		},
		[]string{"device"},
	)

	WalletPollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cipo",
			Subsystem: "wallet",
			Name:      "poll_errors_total",
			Help:      "Failed wallet RPC polls.",
		},
	)
)

func init() {
	Registry.MustRegister(
		TransfersReceived,
		DuplicatesDropped,
		RoutingErrors,
		CreditsDispatched,
		JournalAppends,
		DeliveriesCompleted,
		DeliveredWattHours,
		DriverErrors,
		ControllerState,
		WalletPollErrors,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
