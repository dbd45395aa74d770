package sync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// EnsureBlocksCurrent guarantees every complete UTC day since the chain's
// first deployment has stored blocks spanning the configured minimum
// coverage. The current (incomplete) day is never touched.
func (s *Syncer) EnsureBlocksCurrent(ctx context.Context) error {
	coverage, err := s.store.DayCoverage(ctx, s.client.ChainID())
	if err != nil {
		return fmt.Errorf("failed to read day coverage: %w", err)
	}

	days := incompleteDays(coverage, s.chainCfg.DeployDate(), time.Now().UTC(), s.cfg.DayCoverageMin)
	if len(days) == 0 {
		s.logger.Debug("All days fully covered")
		return nil
	}
	s.logger.Info("Filling block coverage", zap.Int("incomplete_days", len(days)))

	candidates := make([]int64, 0, len(days)*len(s.cfg.DayEdgeOffsets))
	seen := make(map[int64]struct{})
	for _, day := range days {
		for _, offset := range s.cfg.DayEdgeOffsets {
			target := day.Add(time.Duration(offset) * time.Second)
			blockNumber, _, err := s.finder.BlockAt(ctx, s.client.ChainID(), target)
			if err != nil {
				return fmt.Errorf("block lookup for %s failed: %w", target.Format(time.RFC3339), err)
			}
			if blockNumber < s.chainCfg.FirstDeployBlock {
				continue
			}
			if _, ok := seen[blockNumber]; !ok {
				seen[blockNumber] = struct{}{}
				candidates = append(candidates, blockNumber)
			}
		}
	}

	return s.EnsureBlocksSaved(ctx, candidates)
}

// EnsureBlocksSaved inserts block rows for any of the given block numbers not
// already stored, fetching their timestamps over RPC
func (s *Syncer) EnsureBlocksSaved(ctx context.Context, blockNumbers []int64) error {
	missing, err := s.store.MissingBlockNumbers(ctx, s.client.ChainID(), blockNumbers)
	if err != nil {
		return fmt.Errorf("failed to find missing blocks: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	rows := make([]warehouse.Block, 0, len(missing))
	for _, blockNumber := range missing {
		ts, err := s.client.HeaderTime(ctx, blockNumber)
		if err != nil {
			return fmt.Errorf("failed to get timestamp of block %d: %w", blockNumber, err)
		}
		rows = append(rows, warehouse.Block{
			ChainID:     s.client.ChainID(),
			BlockNumber: blockNumber,
			Datetime:    ts,
		})
	}

	inserted, err := s.store.InsertIgnoreDuplicates(ctx, &rows)
	if err != nil {
		return fmt.Errorf("failed to insert blocks: %w", err)
	}
	metrics.RowsInserted.WithLabelValues(s.chainCfg.Name, "blocks").Add(float64(inserted))
	s.logger.Info("Inserted blocks", zap.Int64("count", inserted))
	return nil
}

// incompleteDays returns, in ascending order, every UTC day from firstDay up
// to but excluding today whose stored block span falls short of minSpan
func incompleteDays(coverage map[time.Time]warehouse.DaySpan, firstDay, now time.Time, minSpan time.Duration) []time.Time {
	today := now.UTC().Truncate(24 * time.Hour)
	day := firstDay.UTC().Truncate(24 * time.Hour)

	var days []time.Time
	for ; day.Before(today); day = day.Add(24 * time.Hour) {
		span, ok := coverage[day]
		if ok && span.Last.Sub(span.First) >= minSpan {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
