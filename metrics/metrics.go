package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome (ok, rule kind, or error).",
		},
		[]string{"operation", "outcome"},
	)

	credited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_ledger",
			Name:      "credited_amount_total",
			Help:      "Currency units credited to member balances.",
		},
		[]string{"reason"},
	)

	debited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards_ledger",
			Name:      "debited_amount_total",
			Help:      "Currency units debited from member balances.",
		},
		[]string{"reason"},
	)
)

func init() {
	Registry.MustRegister(operations, credited, debited)
}

// ObserveOperation counts one ledger operation.
func ObserveOperation(operation, outcome string) {
	operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveMovement records a committed balance change; amount is signed.
func ObserveMovement(reason string, amount int64) {
	if amount >= 0 {
		credited.WithLabelValues(reason).Add(float64(amount))
		return
	}
	debited.WithLabelValues(reason).Add(float64(-amount))
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
