// Prometheus metrics for the order lifecycle engine:
//   - agent_orders_placed_total{side}       – orders accepted by the broker
//   - agent_orders_failed_total{reason}     – placement/rejection failures
//   - agent_orders_retried_total            – phase-1 retry attempts
//   - agent_orders_expired_total            – FAILED orders cancelled at the expiry bound
//   - agent_duplicates_skipped_total        – guard no-ops on unchanged parameters
//   - agent_ratchet_updates_total{axis}     – sell replacements (axis: price|quantity)
//   - agent_reconcile_passes_total{result}  – reconciliation passes (ok|error)
//   - agent_broker_call_failures_total{op}  – transient broker call failures
//
// Registered in init() and served at /metrics by cmd/agent.
package infra

import "github.com/prometheus/client_golang/prometheus"

var (
	MtxOrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_placed_total",
			Help: "Orders accepted by the broker",
		},
		[]string{"side"},
	)

	MtxOrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_orders_failed_total",
			Help: "Order placements that failed or were rejected",
		},
		[]string{"reason"},
	)

	MtxOrdersRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_orders_retried_total",
			Help: "Retry attempts on failed orders",
		},
	)

	MtxOrdersExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_orders_expired_total",
			Help: "Failed orders cancelled at the retry expiry bound",
		},
	)

	MtxDuplicatesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_duplicates_skipped_total",
			Help: "Placements skipped because an identical active order exists",
		},
	)

	MtxRatchetUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_ratchet_updates_total",
			Help: "Sell order cancel-and-replace operations by axis",
		},
		[]string{"axis"},
	)

	MtxReconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_reconcile_passes_total",
			Help: "Reconciliation passes by result",
		},
		[]string{"result"},
	)

	MtxBrokerCallFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_broker_call_failures_total",
			Help: "Transient broker call failures by operation",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		MtxOrdersPlaced,
		MtxOrdersFailed,
		MtxOrdersRetried,
		MtxOrdersExpired,
		MtxDuplicatesSkipped,
		MtxRatchetUpdates,
		MtxReconcilePasses,
		MtxBrokerCallFailures,
	)
}
