package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the worker's domain metrics.
type Registry struct {
	BidsAccepted     prometheus.Counter
	BidsRejected     prometheus.Counter
	StageTransitions prometheus.Counter
	StoreSaveRetries prometheus.Counter
	AuctionsEnded    prometheus.Counter
	RoundLength      prometheus.Histogram
}

// NewRegistry registers the worker metrics on the given registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		BidsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_bids_accepted_total",
			Help: "Bids accepted and applied to the auction document.",
		}),
		BidsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_bids_rejected_total",
			Help: "Bids rejected by validation or stage checks.",
		}),
		StageTransitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_stage_transitions_total",
			Help: "Advances of the auction's current stage.",
		}),
		StoreSaveRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_store_save_retries_total",
			Help: "Document saves retried after a revision refresh.",
		}),
		AuctionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "auction_ended_total",
			Help: "Auctions driven to their END stage.",
		}),
		RoundLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_round_length_seconds",
			Help:    "Observed length of main rounds, from open to close.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// NewNopRegistry returns metrics bound to a throwaway registry, for tests
// and commands that do not serve /metrics.
func NewNopRegistry() *Registry {
	return NewRegistry(prometheus.NewRegistry())
}
