package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
)

// Updater is one sync step. Reads and Writes declare the warehouse tables it
// touches so the orchestrator can validate ordering instead of relying on a
// hand-maintained call sequence.
type Updater struct {
	Name   string
	Reads  []string
	Writes []string
	Run    func(ctx context.Context) error
}

// Orchestrator runs one chain's updaters in dependency order
type Orchestrator struct {
	chainName string
	updaters  []Updater
	logger    *zap.Logger
}

// NewOrchestrator validates the updater dependency graph and returns an
// orchestrator that runs the steps in a topological order. An unsatisfiable
// graph (cycle) is a programming error and fails construction.
func NewOrchestrator(chainName string, updaters []Updater, logger *zap.Logger) (*Orchestrator, error) {
	ordered, err := topoSort(updaters)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		chainName: chainName,
		updaters:  ordered,
		logger:    logger.With(zap.String("chain", chainName)),
	}, nil
}

// RunPass executes every updater once. A failed step skips downstream steps
// that read any table it writes, but independent steps still run; all step
// errors are joined into the returned error.
func (o *Orchestrator) RunPass(ctx context.Context) error {
	tainted := make(map[string]bool)
	var errs []error

	for _, updater := range o.updaters {
		if table, skip := readsTainted(updater, tainted); skip {
			o.logger.Warn("Skipping step, upstream failed",
				zap.String("step", updater.Name),
				zap.String("tainted_table", table))
			taint(updater, tainted)
			continue
		}

		o.logger.Info("Running step", zap.String("step", updater.Name))
		started := time.Now()
		err := updater.Run(ctx)
		metrics.StepDuration.WithLabelValues(o.chainName, updater.Name).Observe(time.Since(started).Seconds())

		if err != nil {
			metrics.StepFailures.WithLabelValues(o.chainName, updater.Name).Inc()
			o.logger.Error("Step failed",
				zap.String("step", updater.Name),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("step %s: %w", updater.Name, err))
			taint(updater, tainted)
			continue
		}
		o.logger.Info("Step complete",
			zap.String("step", updater.Name),
			zap.Duration("elapsed", time.Since(started)))
	}
	return errors.Join(errs...)
}

func readsTainted(updater Updater, tainted map[string]bool) (string, bool) {
	for _, table := range updater.Reads {
		if tainted[table] {
			return table, true
		}
	}
	return "", false
}

func taint(updater Updater, tainted map[string]bool) {
	for _, table := range updater.Writes {
		tainted[table] = true
	}
}

// topoSort orders updaters so every table is written before it is read,
// preserving the given order among independent steps. A step may read a
// table it also writes (incremental self-reads) without creating an edge.
func topoSort(updaters []Updater) ([]Updater, error) {
	writers := make(map[string][]int)
	for i, updater := range updaters {
		for _, table := range updater.Writes {
			writers[table] = append(writers[table], i)
		}
	}

	// edge from writer to reader for every shared table
	deps := make([][]int, len(updaters))
	indegree := make([]int, len(updaters))
	for i, updater := range updaters {
		seen := make(map[int]bool)
		for _, table := range updater.Reads {
			for _, writer := range writers[table] {
				if writer == i || seen[writer] {
					continue
				}
				seen[writer] = true
				deps[writer] = append(deps[writer], i)
				indegree[i]++
			}
		}
	}

	var ready []int
	for i := range updaters {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]Updater, 0, len(updaters))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, updaters[next])
		for _, reader := range deps[next] {
			indegree[reader]--
			if indegree[reader] == 0 {
				ready = append(ready, reader)
			}
		}
	}

	if len(ordered) != len(updaters) {
		var stuck []string
		for i, updater := range updaters {
			if indegree[i] > 0 {
				stuck = append(stuck, updater.Name)
			}
		}
		return nil, fmt.Errorf("updater dependency cycle involving %v", stuck)
	}
	return ordered, nil
}

// Updaters returns the full sync pass for this chain with each step's table
// dependencies declared. Incidental backfills (blocks, transactions, tokens
// inserted as event dependencies) are append-only and order-free, so they are
// not declared as writes.
func (s *Syncer) Updaters() []Updater {
	return []Updater{
		{
			Name:   "blocks",
			Writes: []string{"blocks"},
			Run:    s.EnsureBlocksCurrent,
		},
		{
			Name:   "autopools",
			Reads:  []string{"blocks"},
			Writes: []string{"autopools", "destinations", "autopool_destinations", "destination_tokens", "tokens"},
			Run:    s.EnsureAutopoolsCurrent,
		},
		{
			Name:   "deposits",
			Reads:  []string{"autopools"},
			Writes: []string{"deposits"},
			Run:    s.EnsureDepositsCurrent,
		},
		{
			Name:   "withdrawals",
			Reads:  []string{"autopools"},
			Writes: []string{"withdrawals"},
			Run:    s.EnsureWithdrawalsCurrent,
		},
		{
			Name:   "share_transfers",
			Reads:  []string{"autopools"},
			Writes: []string{"share_transfers"},
			Run:    s.EnsureShareTransfersCurrent,
		},
		{
			Name:   "fee_collections",
			Reads:  []string{"autopools"},
			Writes: []string{"fee_collections"},
			Run:    s.EnsureFeeCollectionsCurrent,
		},
		{
			Name:   "incentive_swaps",
			Reads:  []string{"autopools"},
			Writes: []string{"incentive_swaps"},
			Run:    s.EnsureIncentiveSwapsCurrent,
		},
		{
			Name:   "incentive_claims",
			Reads:  []string{"destinations"},
			Writes: []string{"incentive_claims"},
			Run:    s.EnsureIncentiveClaimsCurrent,
		},
		{
			Name:   "underlying_deposits",
			Reads:  []string{"destinations", "destination_tokens"},
			Writes: []string{"underlying_deposits"},
			Run:    s.EnsureUnderlyingDepositsCurrent,
		},
		{
			Name:   "underlying_withdrawals",
			Reads:  []string{"destinations", "destination_tokens"},
			Writes: []string{"underlying_withdrawals"},
			Run:    s.EnsureUnderlyingWithdrawalsCurrent,
		},
		{
			Name:   "balance_updates",
			Reads:  []string{"autopools", "destinations"},
			Writes: []string{"balance_updates"},
			Run:    s.EnsureBalanceUpdatesCurrent,
		},
		{
			Name:   "destination_states",
			Reads:  []string{"destinations", "blocks"},
			Writes: []string{"destination_states"},
			Run:    s.EnsureDestinationStatesCurrent,
		},
		{
			Name:   "autopool_destination_states",
			Reads:  []string{"autopools", "destinations", "destination_states"},
			Writes: []string{"autopool_destination_states"},
			Run:    s.EnsureAutopoolDestinationStatesCurrent,
		},
		{
			Name:   "autopool_states",
			Reads:  []string{"autopools", "autopool_destination_states"},
			Writes: []string{"autopool_states"},
			Run:    s.EnsureAutopoolStatesCurrent,
		},
		{
			Name:   "destination_token_values",
			Reads:  []string{"destinations", "destination_tokens", "destination_states"},
			Writes: []string{"destination_token_values"},
			Run:    s.EnsureDestinationTokenValuesCurrent,
		},
	}
}
