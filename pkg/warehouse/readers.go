package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// DaySpan summarizes stored block coverage for one UTC calendar day
type DaySpan struct {
	Day   time.Time `bun:"day"`
	First time.Time `bun:"min_dt"`
	Last  time.Time `bun:"max_dt"`
}

// DayCoverage returns, per UTC day with any stored blocks, the earliest and
// latest stored block timestamps for that day on the given chain.
func (s *Store) DayCoverage(ctx context.Context, chainID int64) (map[time.Time]DaySpan, error) {
	var spans []DaySpan
	err := s.db.NewSelect().
		Model((*Block)(nil)).
		ColumnExpr("date_trunc('day', datetime AT TIME ZONE 'UTC') AS day").
		ColumnExpr("min(datetime) AS min_dt").
		ColumnExpr("max(datetime) AS max_dt").
		Where("chain_id = ?", chainID).
		GroupExpr("1").
		Scan(ctx, &spans)
	if err != nil {
		return nil, fmt.Errorf("failed to read day coverage: %w", err)
	}

	out := make(map[time.Time]DaySpan, len(spans))
	for _, span := range spans {
		out[span.Day.UTC()] = span
	}
	return out, nil
}

// BlockTimes resolves stored block timestamps for the given block numbers
func (s *Store) BlockTimes(ctx context.Context, chainID int64, blockNumbers []int64) (map[int64]time.Time, error) {
	if len(blockNumbers) == 0 {
		return map[int64]time.Time{}, nil
	}

	var blocks []Block
	err := s.db.NewSelect().
		Model(&blocks).
		Where("chain_id = ?", chainID).
		Where("block_number IN (?)", bun.In(blockNumbers)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read block times: %w", err)
	}

	out := make(map[int64]time.Time, len(blocks))
	for _, b := range blocks {
		out[b.BlockNumber] = b.Datetime
	}
	return out, nil
}

// ListAutopools returns all autopools tracked for a chain
func (s *Store) ListAutopools(ctx context.Context, chainID int64) ([]Autopool, error) {
	var pools []Autopool
	err := s.db.NewSelect().
		Model(&pools).
		Where("chain_id = ?", chainID).
		Order("vault_address").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list autopools: %w", err)
	}
	return pools, nil
}

// ListDestinations returns the destinations linked to an autopool, the
// synthetic idle destination included
func (s *Store) ListDestinations(ctx context.Context, chainID int64, autopoolAddress string) ([]Destination, error) {
	var dests []Destination
	err := s.db.NewSelect().
		Model(&dests).
		Join("JOIN autopool_destinations AS ad ON ad.chain_id = destination.chain_id AND ad.destination_address = destination.destination_address").
		Where("destination.chain_id = ?", chainID).
		Where("ad.autopool_address = ?", autopoolAddress).
		Order("destination.destination_address").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations for %s: %w", autopoolAddress, err)
	}
	return dests, nil
}

// ListAllDestinations returns every destination tracked for a chain
func (s *Store) ListAllDestinations(ctx context.Context, chainID int64) ([]Destination, error) {
	var dests []Destination
	err := s.db.NewSelect().
		Model(&dests).
		Where("chain_id = ?", chainID).
		Order("destination_address").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	return dests, nil
}

// ListDestinationTokens returns a destination's underlying tokens in on-chain
// order
func (s *Store) ListDestinationTokens(ctx context.Context, chainID int64, destinationAddress string) ([]DestinationToken, error) {
	var tokens []DestinationToken
	err := s.db.NewSelect().
		Model(&tokens).
		Where("chain_id = ?", chainID).
		Where("destination_address = ?", destinationAddress).
		Order("token_index").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list destination tokens: %w", err)
	}
	return tokens, nil
}

// GetToken returns one token's metadata, or nil when unseen
func (s *Store) GetToken(ctx context.Context, chainID int64, tokenAddress string) (*Token, error) {
	var tokens []Token
	err := s.db.NewSelect().
		Model(&tokens).
		Where("chain_id = ?", chainID).
		Where("token_address = ?", tokenAddress).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token %s: %w", tokenAddress, err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	return &tokens[0], nil
}

// TokenDecimals returns the decimals of every stored token on a chain
func (s *Store) TokenDecimals(ctx context.Context, chainID int64) (map[string]int, error) {
	var tokens []Token
	err := s.db.NewSelect().
		Model(&tokens).
		Where("chain_id = ?", chainID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read token decimals: %w", err)
	}
	out := make(map[string]int, len(tokens))
	for _, t := range tokens {
		out[t.TokenAddress] = t.Decimals
	}
	return out, nil
}

// MaxEventBlock returns the highest ingested block for an event model scoped
// by the given filters, or ok=false when no rows match. Used as the
// per-entity watermark, defaulting to the entity's deploy block upstream.
func (s *Store) MaxEventBlock(ctx context.Context, model any, chainID int64, filters ...Filter) (int64, bool, error) {
	var max *int64
	q := s.db.NewSelect().
		Model(model).
		ColumnExpr("max(block_number)").
		Where("chain_id = ?", chainID)
	for _, f := range filters {
		q = q.Where("? = ?", bun.Ident(f.Column), f.Value)
	}
	if err := q.Scan(ctx, &max); err != nil {
		return 0, false, fmt.Errorf("failed to read max event block: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// MissingDestinationStateBlocks finds blocks stored for the chain that have
// no destination_states snapshot for the given destination yet (anti-join).
func (s *Store) MissingDestinationStateBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error) {
	var blocks []int64
	err := s.db.NewSelect().
		Model((*Block)(nil)).
		ColumnExpr("block.block_number").
		Where("block.chain_id = ?", chainID).
		Where("NOT EXISTS (SELECT 1 FROM destination_states ds WHERE ds.chain_id = block.chain_id AND ds.block_number = block.block_number AND ds.destination_address = ?)", destinationAddress).
		OrderExpr("block.block_number").
		Scan(ctx, &blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to find missing destination state blocks: %w", err)
	}
	return blocks, nil
}

// MissingAutopoolDestinationStateBlocks finds blocks that have a
// destination_states snapshot but no owned-shares snapshot for the
// (autopool, destination) pair yet.
func (s *Store) MissingAutopoolDestinationStateBlocks(ctx context.Context, chainID int64, autopoolAddress, destinationAddress string) ([]int64, error) {
	var blocks []int64
	err := s.db.NewSelect().
		Model((*DestinationState)(nil)).
		ColumnExpr("destination_state.block_number").
		Where("destination_state.chain_id = ?", chainID).
		Where("destination_state.destination_address = ?", destinationAddress).
		Where("NOT EXISTS (SELECT 1 FROM autopool_destination_states ads WHERE ads.chain_id = destination_state.chain_id AND ads.block_number = destination_state.block_number AND ads.autopool_address = ? AND ads.destination_address = destination_state.destination_address)", autopoolAddress).
		OrderExpr("destination_state.block_number").
		Scan(ctx, &blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to find missing autopool destination state blocks: %w", err)
	}
	return blocks, nil
}

// MissingAutopoolStateBlocks finds blocks that have owned-shares snapshots
// for an autopool but no NAV snapshot for the autopool itself yet.
func (s *Store) MissingAutopoolStateBlocks(ctx context.Context, chainID int64, autopoolAddress string) ([]int64, error) {
	var blocks []int64
	err := s.db.NewSelect().
		Model((*AutopoolDestinationState)(nil)).
		ColumnExpr("DISTINCT autopool_destination_state.block_number").
		Where("autopool_destination_state.chain_id = ?", chainID).
		Where("autopool_destination_state.autopool_address = ?", autopoolAddress).
		Where("NOT EXISTS (SELECT 1 FROM autopool_states aps WHERE aps.chain_id = autopool_destination_state.chain_id AND aps.block_number = autopool_destination_state.block_number AND aps.autopool_address = autopool_destination_state.autopool_address)").
		OrderExpr("autopool_destination_state.block_number").
		Scan(ctx, &blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to find missing autopool state blocks: %w", err)
	}
	return blocks, nil
}

// MissingDestinationTokenValueBlocks finds blocks that have a
// destination_states snapshot but no per-token values for the destination yet.
func (s *Store) MissingDestinationTokenValueBlocks(ctx context.Context, chainID int64, destinationAddress string) ([]int64, error) {
	var blocks []int64
	err := s.db.NewSelect().
		Model((*DestinationState)(nil)).
		ColumnExpr("destination_state.block_number").
		Where("destination_state.chain_id = ?", chainID).
		Where("destination_state.destination_address = ?", destinationAddress).
		Where("NOT EXISTS (SELECT 1 FROM destination_token_values dtv WHERE dtv.chain_id = destination_state.chain_id AND dtv.block_number = destination_state.block_number AND dtv.destination_address = destination_state.destination_address)").
		OrderExpr("destination_state.block_number").
		Scan(ctx, &blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to find missing destination token value blocks: %w", err)
	}
	return blocks, nil
}

// PlansForAutopool returns every ingested plan for one autopool, used by the
// rebalance-event correlator
func (s *Store) PlansForAutopool(ctx context.Context, chainID int64, autopoolAddress string) ([]RebalancePlan, error) {
	var plans []RebalancePlan
	err := s.db.NewSelect().
		Model(&plans).
		Where("chain_id = ?", chainID).
		Where("autopool_address = ?", autopoolAddress).
		Order("datetime_generated").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans for %s: %w", autopoolAddress, err)
	}
	return plans, nil
}
