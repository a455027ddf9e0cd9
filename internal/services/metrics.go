package services

import "github.com/prometheus/client_golang/prometheus"

var (
	providerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_provider_calls_total",
			Help: "Generation provider calls by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	mintSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_mint_submissions_total",
			Help: "Mint submissions by outcome (minted, replayed, transient, permanent).",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(providerCalls, mintSubmissions)
}
