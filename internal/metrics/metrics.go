// Package metrics exposes Prometheus collectors for the cursor exchange
// engine, following the teacher's flat var-block of promauto collectors
// (see the original internal/metrics package this was adapted from),
// renamed to this engine's own concerns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangesActive is the number of exchanges currently occupying the
	// single-writer slot on a connection.
	ExchangesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cursor_exchange_active",
		Help: "Number of exchanges currently holding the connection's single-writer slot.",
	})

	// ExchangeQueueLength is the number of exchanges waiting FIFO for
	// their turn.
	ExchangeQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cursor_exchange_queue_length",
		Help: "Number of exchanges queued waiting for the single-writer slot.",
	})

	// ExchangeWaitDuration observes how long an exchange waited in the
	// FIFO queue before being dispatched.
	ExchangeWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cursor_exchange_wait_duration_seconds",
		Help:    "Time an exchange spent queued before dispatch.",
		Buckets: prometheus.DefBuckets,
	})

	// FetchRoundTrips counts the follow-up round trips issued by the
	// cursor flow engine: sp_cursorfetch ("continue") and sp_cursorclose
	// ("close").
	FetchRoundTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cursor_fetch_roundtrips_total",
		Help: "Number of sp_cursorfetch (continue) and sp_cursorclose (close) round trips issued, labeled by outcome.",
	}, []string{"outcome"})

	// PrepareCacheResult counts prepared-statement cache lookups by hit/miss.
	PrepareCacheResult = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cursor_prepare_cache_result_total",
		Help: "Prepared-statement cache lookups, labeled hit or miss.",
	}, []string{"result"})

	// PrepareRetries counts the prepare-retry protocol firing.
	PrepareRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cursor_prepare_retries_total",
		Help: "Number of times the silent sp_cursorprepexec retry fired.",
	})

	// ExchangeErrors counts exchanges completing in the ERROR phase,
	// labeled by classifier outcome.
	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cursor_exchange_errors_total",
		Help: "Exchanges completing in the ERROR phase, labeled by classification.",
	}, []string{"classification"})

	// RowsObserved counts RowToken messages delivered downstream.
	RowsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cursor_rows_observed_total",
		Help: "Total RowToken messages delivered downstream across all exchanges.",
	})
)
