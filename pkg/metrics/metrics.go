// Package metrics holds the Prometheus collectors for the matching core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OrdersSubmitted counts orders accepted at admission.
	OrdersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_orders_submitted_total",
		Help: "Number of orders admitted into the matching core",
	})

	// OrdersRejected counts rejected orders by rejection reason.
	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmatch_orders_rejected_total",
		Help: "Number of rejected orders by reason",
	}, []string{"reason"})

	// OrdersCancelled counts explicit cancellations, including linked
	// (one-cancels-other) cancellations.
	OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_orders_cancelled_total",
		Help: "Number of cancelled orders",
	})

	// OrdersExpired counts orders transitioned to expired by the sweeper
	// or lazy expiry.
	OrdersExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_orders_expired_total",
		Help: "Number of expired orders",
	})

	// MatchesCreated counts committed matches.
	MatchesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_matches_total",
		Help: "Number of matches created",
	})

	// TriggersFired counts stop-loss/take-profit conversions by kind.
	TriggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmatch_triggers_fired_total",
		Help: "Number of stop-loss/take-profit triggers fired",
	}, []string{"kind"})

	// SourceBusyRejections counts bounded-wait timeouts on owner queues.
	SourceBusyRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_source_busy_total",
		Help: "Number of requests rejected because a source owner was busy",
	})

	// SettlementsPosted counts matches settled into the ledger.
	SettlementsPosted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_settlements_posted_total",
		Help: "Number of matches settled into the ledger",
	})

	// SettlementRetries counts settlement attempts that failed and were
	// rescheduled.
	SettlementRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gridmatch_settlement_retries_total",
		Help: "Number of settlement retries",
	})

	// PendingSettlements tracks matches awaiting settlement.
	PendingSettlements = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gridmatch_settlements_pending",
		Help: "Number of matches pending settlement",
	})
)

// Register registers all collectors on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OrdersSubmitted,
		OrdersRejected,
		OrdersCancelled,
		OrdersExpired,
		MatchesCreated,
		TriggersFired,
		SourceBusyRejections,
		SettlementsPosted,
		SettlementRetries,
		PendingSettlements,
	)
}
