package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsInserted counts warehouse rows actually inserted per table
	RowsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_rows_inserted_total",
			Help: "Total number of rows inserted into the warehouse",
		},
		[]string{"chain", "table"},
	)

	// RowsSkipped counts candidate rows skipped as duplicates per table
	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_rows_skipped_total",
			Help: "Total number of candidate rows skipped as already present",
		},
		[]string{"chain", "table"},
	)

	// RPCCalls counts RPC requests by chain and method
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_rpc_calls_total",
			Help: "Total number of RPC calls issued",
		},
		[]string{"chain", "method"},
	)

	// StepDuration tracks how long each sync step takes
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warehouse_sync_step_duration_seconds",
			Help:    "Sync step duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"chain", "step"},
	)

	// StepFailures counts sync step failures
	StepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_sync_step_failures_total",
			Help: "Total number of failed sync steps",
		},
		[]string{"chain", "step"},
	)

	// LastSyncedBlock tracks the highest block ingested per chain and table
	LastSyncedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warehouse_last_synced_block",
			Help: "Highest block ingested per chain and table",
		},
		[]string{"chain", "table"},
	)

	// PlansIngested counts solver rebalance plans ingested
	PlansIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_rebalance_plans_ingested_total",
			Help: "Total number of solver rebalance plans ingested",
		},
		[]string{"chain"},
	)

	// BlockLookups counts timestamp-to-block lookup requests
	BlockLookups = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warehouse_block_lookups_total",
			Help: "Total number of timestamp-to-block lookup requests",
		},
	)

	// QuoteRequests counts third-party quote API requests by outcome
	QuoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warehouse_quote_requests_total",
			Help: "Total number of swap-quote API requests",
		},
		[]string{"provider", "status"},
	)
)
