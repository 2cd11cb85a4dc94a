// Package metrics exports prometheus gauges and counters for the node's
// mempool, voting and slashing activity, following the same
// package-level gauge/counter-plus-init() idiom used for pool metrics
// elsewhere, renamed from the p2pool namespace to posnode.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "posnode",
		Name:      "mempool_size",
		Help:      "Number of transactions currently pending in the mempool.",
	})

	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "posnode",
		Name:      "chain_height",
		Help:      "Height of the highest committed block.",
	})

	MinersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "posnode",
		Name:      "miners_registered",
		Help:      "Number of miners known to the registry.",
	})

	VotingRoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "posnode",
		Name:      "voting_round_duration_seconds",
		Help:      "Wall-clock duration of one voting round, cast through tally.",
	})

	VotesCast = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posnode",
		Name:      "votes_cast_total",
		Help:      "Votes cast by this node, by outcome.",
	}, []string{"outcome"})

	RoundsEscalated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posnode",
		Name:      "rounds_escalated_total",
		Help:      "Total voting rounds that failed to reach supermajority.",
	})

	TxsAdmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "posnode",
		Name:      "transactions_admitted_total",
		Help:      "Transactions presented to the mempool, by admission outcome.",
	}, []string{"outcome"})

	SlashesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "posnode",
		Name:      "slashes_applied_total",
		Help:      "Total slash transactions applied to the miner registry.",
	})

	ParticipationRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "posnode",
		Name:      "participation_rate",
		Help:      "Current rolling participation rate per miner.",
	}, []string{"miner_address"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "posnode",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})
)

func init() {
	prometheus.MustRegister(
		MempoolSize,
		ChainHeight,
		MinersRegistered,
		VotingRoundDuration,
		VotesCast,
		RoundsEscalated,
		TxsAdmitted,
		SlashesApplied,
		ParticipationRate,
		UptimeSeconds,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
