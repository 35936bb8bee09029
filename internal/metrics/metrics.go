package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	holdsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_holds_created_total",
			Help: "Tickets placed on hold, per ticket type",
		},
		[]string{"ticket_type_id"},
	)

	holdsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_holds_rejected_total",
			Help: "Checkout attempts rejected before payment",
		},
		[]string{"reason"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_tickets_issued_total",
			Help: "Issued tickets by payment method",
		},
		[]string{"payment_method"},
	)

	webhookOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_webhook_notifications_total",
			Help: "Checkout notifications by outcome",
		},
		[]string{"outcome"},
	)

	reaperHolds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_reaper_holds_total",
			Help: "Holds handled by the reaper",
		},
		[]string{"result"},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxoffice_confirmation_dispatch_total",
			Help: "Confirmation dispatch attempts",
		},
		[]string{"status"},
	)

	lockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxoffice_lock_wait_seconds",
			Help:    "Time spent acquiring row locks",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"operation"},
	)
)

func HoldsCreated(ticketTypeID string, quantity int) {
	holdsCreated.WithLabelValues(ticketTypeID).Add(float64(quantity))
}

func HoldRejected(reason string) {
	holdsRejected.WithLabelValues(reason).Inc()
}

func TicketsIssued(paymentMethod string, count int) {
	ticketsIssued.WithLabelValues(paymentMethod).Add(float64(count))
}

// WebhookOutcome: processed, duplicate, ignored, rejected, failed
func WebhookOutcome(outcome string) {
	webhookOutcomes.WithLabelValues(outcome).Inc()
}

func ReaperDeleted(n int) {
	reaperHolds.WithLabelValues("deleted").Add(float64(n))
}

func ReaperSkipped(n int) {
	reaperHolds.WithLabelValues("skipped").Add(float64(n))
}

func DispatchSent() {
	dispatchOutcomes.WithLabelValues("sent").Inc()
}

func DispatchFailed() {
	dispatchOutcomes.WithLabelValues("failed").Inc()
}

// ObserveLockWait records how long an operation waited for its row locks.
func ObserveLockWait(operation string, started time.Time) {
	lockWait.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
