package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger metrics
	settlementAccumulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_accumulations_total",
		Help: "Order accumulation attempts by outcome",
	}, []string{
		"result", // applied, duplicate, rejected, closed, conflict, error
	})

	settlementAccumulatedCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_accumulated_amount_cents_total",
		Help: "Amount due folded into settlement entries, in cents",
	}, []string{
		"currency",
	})

	settlementConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_accumulation_conflict_retries_total",
		Help: "Optimistic concurrency retries while accumulating orders",
	})

	// Processor metrics
	settlementBatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_batch_runs_total",
		Help: "Weekly settlement batch runs",
	}, []string{
		"trigger", // scheduler, cron, api, cli
		"status",  // completed, partial, rejected, error
	})

	settlementBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_batch_duration_seconds",
		Help:    "Duration of a weekly settlement batch",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	settlementEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_entries_processed_total",
		Help: "Settlement entries handled by the processor by outcome",
	}, []string{
		"status", // paid, failed, deferred, skipped
	})

	settlementPayoutCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_payout_amount_cents_total",
		Help: "Amount paid out to restaurants, in cents",
	}, []string{
		"currency",
	})

	bankTransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bank_transfer_duration_seconds",
		Help:    "Time spent in the bank transfer call",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{
		"outcome", // success, declined, error, timeout
	})

	bankCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bank_circuit_breaker_state",
		Help: "Bank circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	settlementNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_notifications_total",
		Help: "Settlement outcome notifications by delivery status",
	}, []string{
		"status", // sent, failed
	})
)

// RecordAccumulation records one AccumulateOrder outcome.
// amountCents is only counted for applied orders.
func RecordAccumulation(result string, amountCents int64, currency string) {
	settlementAccumulationsTotal.WithLabelValues(result).Inc()
	if result == "applied" {
		settlementAccumulatedCents.WithLabelValues(currency).Add(float64(amountCents))
	}
}

// RecordAccumulationRetry records a compare-and-swap retry
func RecordAccumulationRetry() {
	settlementConflictRetries.Inc()
}

// RecordBatchRun records a finished (or rejected) batch
func RecordBatchRun(trigger, status string, duration float64) {
	settlementBatchRunsTotal.WithLabelValues(trigger, status).Inc()
	if status != "rejected" {
		settlementBatchDuration.Observe(duration)
	}
}

// RecordSettlementOutcome records the processor outcome for one entry
func RecordSettlementOutcome(status string, amountCents int64, currency string) {
	settlementEntriesTotal.WithLabelValues(status).Inc()
	if status == "paid" {
		settlementPayoutCents.WithLabelValues(currency).Add(float64(amountCents))
	}
}

// RecordBankTransfer records a bank transfer call
func RecordBankTransfer(outcome string, duration float64) {
	bankTransferDuration.WithLabelValues(outcome).Observe(duration)
}

// SetBankCircuitState publishes the bank circuit breaker state
func SetBankCircuitState(state int) {
	bankCircuitState.Set(float64(state))
}

// RecordNotification records a notification delivery attempt
func RecordNotification(status string) {
	settlementNotificationsTotal.WithLabelValues(status).Inc()
}
