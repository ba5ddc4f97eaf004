/*
Package metrics exposes the engine's Prometheus collectors.

PURPOSE:
  Central registry of the counters the services increment. Collectors are
  package-level promauto variables: registration happens at import time
  and the services just bump them. The /metrics endpoint is mounted by
  the API router.

NAMING:
  All metrics live under the "clinic" namespace, grouped by subsystem
  (schedule, billing, ledger).
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BookingsTotal counts booking attempts by outcome (created, conflict,
// rejected).
var BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "schedule",
	Name:      "bookings_total",
	Help:      "Booking attempts by outcome.",
}, []string{"outcome"})

// TransitionsTotal counts session lifecycle transitions by target state.
var TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "schedule",
	Name:      "transitions_total",
	Help:      "Session lifecycle transitions by target state.",
}, []string{"state"})

// PaymentsTotal counts registered payments by kind (cash, credit_draw).
var PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "billing",
	Name:      "payments_total",
	Help:      "Registered payments by kind.",
}, []string{"kind"})

// VoidsTotal counts payment voids by outcome (voided, guarded).
var VoidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "billing",
	Name:      "voids_total",
	Help:      "Payment void attempts by outcome.",
}, []string{"outcome"})

// RefundsTotal counts registered refunds by target kind.
var RefundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "billing",
	Name:      "refunds_total",
	Help:      "Registered refunds by target kind.",
}, []string{"target"})

// RecomputesTotal counts full ledger recomputations.
var RecomputesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "ledger",
	Name:      "recomputes_total",
	Help:      "Full per-patient ledger recomputations.",
})

// DiscrepanciesFound counts integrity-sweep findings by kind.
var DiscrepanciesFound = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "clinic",
	Subsystem: "ledger",
	Name:      "discrepancies_total",
	Help:      "Integrity sweep findings by kind.",
}, []string{"kind"})
