// Package metrics exposes Prometheus counters for the arena.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MatchesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_matches_created_total",
			Help: "Total number of matches created",
		},
	)

	MatchesJoinedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_matches_joined_total",
			Help: "Total number of second participants joining a match",
		},
	)

	MovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_moves_total",
			Help: "Total number of submitted moves by result",
		},
		[]string{"result"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_settlements_total",
			Help: "Total number of settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	PlatformFeesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_platform_fees_tokens_total",
			Help: "Tokens collected by the platform account",
		},
	)

	LedgerTransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_ledger_transactions_total",
			Help: "Total number of ledger transactions by kind",
		},
		[]string{"kind"},
	)

	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_events_dropped_total",
			Help: "Events dropped because the notification buffer was full",
		},
	)

	EventQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_event_queue_length",
			Help: "Current length of the notification queue",
		},
	)
)

// Move results.
const (
	MoveAccepted = "accepted"
	MoveFinished = "finished"
	MoveRejected = "rejected"
)

// Settlement outcomes.
const (
	SettlementWin            = "win"
	SettlementDraw           = "draw"
	SettlementAlreadySettled = "already_settled"
	SettlementFailed         = "failed"
)

func RecordMatchCreated() {
	MatchesCreatedTotal.Inc()
}

func RecordMatchJoined() {
	MatchesJoinedTotal.Inc()
}

func RecordMove(result string) {
	MovesTotal.WithLabelValues(result).Inc()
}

// RecordSettlement counts a settlement attempt and any fee it collected.
func RecordSettlement(outcome string, fee int64) {
	SettlementsTotal.WithLabelValues(outcome).Inc()
	if fee > 0 {
		PlatformFeesTotal.Add(float64(fee))
	}
}

func RecordLedgerTransaction(kind string) {
	LedgerTransactionsTotal.WithLabelValues(kind).Inc()
}

func RecordEventDropped() {
	EventsDroppedTotal.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
