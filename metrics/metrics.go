// Package metrics exposes prometheus collectors for the signing service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts dispatched requests by endpoint and outcome code
	// ("OK" for success).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "enclave_signer_requests_total",
		Help: "Total requests handled, by endpoint and outcome code",
	}, []string{"endpoint", "code"})

	// RequestDuration observes end-to-end dispatcher handling time.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "enclave_signer_request_duration_seconds",
		Help:    "Request handling duration by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// ActiveSessions tracks the current size of the session map.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "enclave_signer_active_sessions",
		Help: "Sessions currently held by the session manager",
	})

	// SessionsSweptTotal counts sessions removed by the expiry sweeper.
	SessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enclave_signer_sessions_swept_total",
		Help: "Expired sessions removed by the background sweeper",
	})

	// AccountsCreatedTotal counts completed key generations.
	AccountsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enclave_signer_accounts_created_total",
		Help: "Accounts created by completed DKG runs",
	})

	// SignaturesTotal counts completed signing runs.
	SignaturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enclave_signer_signatures_total",
		Help: "Signing sessions driven to completion",
	})
)
