// Package warehouse is the relational store access layer. Every write goes
// through insert-skip-duplicates so re-runs are idempotent and safe to retry
// after partial failure.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

const insertChunkSize = 1000

// ErrNothingInserted is returned when a caller opted into RequireInsert and a
// batch of candidate rows turned out to be entirely duplicates.
var ErrNothingInserted = errors.New("no rows inserted")

// Store provides warehouse database operations
type Store struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewStore creates a new warehouse store
func NewStore(db *bun.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for migrations and tests
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertOption configures InsertIgnoreDuplicates
type InsertOption func(*insertOptions)

type insertOptions struct {
	requireInsert bool
}

// RequireInsert makes the call fail with ErrNothingInserted when candidate
// rows were supplied but every one already existed. Used as a sanity check by
// callers that just computed a non-empty missing set.
func RequireInsert() InsertOption {
	return func(o *insertOptions) { o.requireInsert = true }
}

// InsertIgnoreDuplicates bulk-inserts rows with "ON CONFLICT DO NOTHING" on
// the primary key, inside a single transaction so a crash mid-batch leaves
// the table unchanged. rows must be a slice (or pointer to slice) of one bun
// model type. Returns the number of rows actually inserted; duplicates are
// skipped silently.
func (s *Store) InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...InsertOption) (int64, error) {
	var options insertOptions
	for _, opt := range opts {
		opt(&options)
	}

	v := reflect.ValueOf(rows)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		return 0, fmt.Errorf("InsertIgnoreDuplicates expects a slice, got %T", rows)
	}
	if v.Len() == 0 {
		return 0, nil
	}

	var inserted int64
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for start := 0; start < v.Len(); start += insertChunkSize {
			end := start + insertChunkSize
			if end > v.Len() {
				end = v.Len()
			}
			chunk := v.Slice(start, end).Interface()
			res, err := tx.NewInsert().
				Model(chunk).
				Ignore().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to insert chunk [%d:%d]: %w", start, end, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to read rows affected: %w", err)
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if options.requireInsert && inserted == 0 {
		return 0, fmt.Errorf("expected at least one of %d candidate rows to be new: %w", v.Len(), ErrNothingInserted)
	}

	s.logger.Debug("Bulk insert finished",
		zap.Int("candidates", v.Len()),
		zap.Int64("inserted", inserted))

	return inserted, nil
}

// Filter scopes a query to rows matching one column value
type Filter struct {
	Column string
	Value  any
}

// MissingValues returns exactly the candidate values not already present in
// the given model column, deduplicated and in first-occurrence order. The
// scan is chunked so millions of candidates never become per-value round
// trips.
func (s *Store) MissingValues(ctx context.Context, model any, column string, candidates []string, filters ...Filter) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(candidates))
	deduped := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}

	existing := make(map[string]struct{}, len(deduped))
	const scanChunk = 10000
	for start := 0; start < len(deduped); start += scanChunk {
		end := start + scanChunk
		if end > len(deduped) {
			end = len(deduped)
		}

		var found []string
		q := s.db.NewSelect().
			Model(model).
			ColumnExpr("DISTINCT ?", bun.Ident(column)).
			Where("? IN (?)", bun.Ident(column), bun.In(deduped[start:end]))
		for _, f := range filters {
			q = q.Where("? = ?", bun.Ident(f.Column), f.Value)
		}
		if err := q.Scan(ctx, &found); err != nil {
			return nil, fmt.Errorf("failed to scan existing %s values: %w", column, err)
		}
		for _, f := range found {
			existing[f] = struct{}{}
		}
	}

	missing := make([]string, 0, len(deduped))
	for _, c := range deduped {
		if _, ok := existing[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// MissingBlockNumbers is MissingValues for integer block keys
func (s *Store) MissingBlockNumbers(ctx context.Context, chainID int64, candidates []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(candidates))
	deduped := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		deduped = append(deduped, c)
	}
	if len(deduped) == 0 {
		return nil, nil
	}

	var found []int64
	err := s.db.NewSelect().
		Model((*Block)(nil)).
		ColumnExpr("DISTINCT block_number").
		Where("chain_id = ?", chainID).
		Where("block_number IN (?)", bun.In(deduped)).
		Scan(ctx, &found)
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing block numbers: %w", err)
	}

	existing := make(map[int64]struct{}, len(found))
	for _, f := range found {
		existing[f] = struct{}{}
	}

	missing := make([]int64, 0, len(deduped))
	for _, c := range deduped {
		if _, ok := existing[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing, nil
}

// Join describes one JOIN leg of a Merge query
type Join struct {
	Model any
	On    string
	Args  []any
}

// Merge builds a typed join query: the first model is the FROM table and each
// join becomes an explicit JOIN predicate. Callers add WHERE/ORDER BY on the
// returned query before scanning.
func (s *Store) Merge(base any, joins ...Join) *bun.SelectQuery {
	q := s.db.NewSelect().Model(base)
	for _, j := range joins {
		tableName := s.db.NewSelect().Model(j.Model).GetTableName()
		q = q.Join(fmt.Sprintf("JOIN %s ON %s", tableName, j.On), j.Args...)
	}
	return q
}

// GetWatermark returns the last fully processed block for a (chain, table)
// stream, or (0, false) when no pass has completed yet.
func (s *Store) GetWatermark(ctx context.Context, chainID int64, tableName string) (int64, bool, error) {
	wm := new(SyncWatermark)
	err := s.db.NewSelect().
		Model(wm).
		Where("chain_id = ?", chainID).
		Where("table_name = ?", tableName).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get watermark for %s: %w", tableName, err)
	}
	return wm.LastBlock, true, nil
}

// SetWatermark advances the watermark for a (chain, table) stream. Callers
// must only invoke this after the corresponding upsert succeeded.
func (s *Store) SetWatermark(ctx context.Context, chainID int64, tableName string, lastBlock int64) error {
	wm := &SyncWatermark{
		ChainID:   chainID,
		TableName: tableName,
		LastBlock: lastBlock,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().
		Model(wm).
		On("CONFLICT (chain_id, table_name) DO UPDATE").
		Set("last_block = EXCLUDED.last_block").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set watermark for %s: %w", tableName, err)
	}
	return nil
}

// NullifyColumns sets the given columns to NULL on rows matching the filters.
// This is the narrow maintenance path for retroactively invalidating
// known-bad historical rows; everything else in the warehouse is immutable.
func (s *Store) NullifyColumns(ctx context.Context, model any, columns []string, filters ...Filter) (int64, error) {
	if len(columns) == 0 || len(filters) == 0 {
		return 0, fmt.Errorf("NullifyColumns requires at least one column and one filter")
	}

	q := s.db.NewUpdate().Model(model)
	for _, col := range columns {
		q = q.Set("? = NULL", bun.Ident(col))
	}
	for _, f := range filters {
		q = q.Where("? = ?", bun.Ident(f.Column), f.Value)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to nullify columns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	s.logger.Warn("Nullified columns on historical rows",
		zap.Strings("columns", columns),
		zap.Int64("rows", n))
	return n, nil
}
