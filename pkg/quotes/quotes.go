// Package quotes samples third-party swap quotes and reported asset
// liquidity into the warehouse. Rows taken within one sampling round share a
// quote_batch id so consumers can group or median them.
package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autopool-labs/autopool-warehouse/internal/metrics"
	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

// Pair is one swap quote request
type Pair struct {
	TokenIn  string
	TokenOut string
	AmountIn float64
}

// Warehouse is the store surface the sampler needs
type Warehouse interface {
	InsertIgnoreDuplicates(ctx context.Context, rows any, opts ...warehouse.InsertOption) (int64, error)
}

// Sampler pulls quotes under a request-rate limit with a bounded number of
// in-flight requests, respecting the providers' documented limits
type Sampler struct {
	cfg        config.QuotesConfig
	store      Warehouse
	chainID    int64
	provider   string
	limiter    *rate.Limiter
	inflight   chan struct{}
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewSampler builds a Sampler for one chain
func NewSampler(cfg config.QuotesConfig, store Warehouse, chainID int64, retryCfg retry.Config, logger *zap.Logger) *Sampler {
	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 60
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 5
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Sampler{
		cfg:        cfg,
		store:      store,
		chainID:    chainID,
		provider:   providerName(cfg.QuoteURL),
		limiter:    rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 1),
		inflight:   make(chan struct{}, maxInFlight),
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger.With(zap.String("component", "quotes")),
		now:        time.Now,
	}
}

func providerName(quoteURL string) string {
	if u, err := url.Parse(quoteURL); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return "quote"
}

// Sample takes one quote per pair and one exposure snapshot per token,
// grouped under a fresh quote_batch id. A failed quote skips that pair; the
// round continues and the partial batch is still stored.
func (s *Sampler) Sample(ctx context.Context, pairs []Pair, tokens []string) error {
	batch := uuid.NewString()
	takenAt := s.now().UTC()

	quoteRows, quoteErr := s.sampleQuotes(ctx, batch, takenAt, pairs)
	exposureRows, exposureErr := s.sampleExposure(ctx, batch, takenAt, tokens)

	if len(quoteRows) > 0 {
		if _, err := s.store.InsertIgnoreDuplicates(ctx, &quoteRows); err != nil {
			return fmt.Errorf("failed to insert swap quotes: %w", err)
		}
	}
	if len(exposureRows) > 0 {
		if _, err := s.store.InsertIgnoreDuplicates(ctx, &exposureRows); err != nil {
			return fmt.Errorf("failed to insert asset exposures: %w", err)
		}
	}

	s.logger.Info("Sampled quotes",
		zap.String("batch", batch),
		zap.Int("quotes", len(quoteRows)),
		zap.Int("exposures", len(exposureRows)))
	return errors.Join(quoteErr, exposureErr)
}

func (s *Sampler) sampleQuotes(ctx context.Context, batch string, takenAt time.Time, pairs []Pair) ([]warehouse.SwapQuote, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rows     []warehouse.SwapQuote
		failures []error
	)
	for _, pair := range pairs {
		wg.Add(1)
		go func() {
			defer wg.Done()

			amountOut, err := s.fetchQuote(ctx, pair)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, fmt.Errorf("quote %s->%s: %w", pair.TokenIn, pair.TokenOut, err))
				return
			}
			rows = append(rows, warehouse.SwapQuote{
				QuoteBatch: batch,
				Provider:   s.provider,
				ChainID:    s.chainID,
				TokenIn:    pair.TokenIn,
				TokenOut:   pair.TokenOut,
				AmountIn:   pair.AmountIn,
				AmountOut:  amountOut,
				Datetime:   takenAt,
			})
		}()
	}
	wg.Wait()
	return rows, errors.Join(failures...)
}

type quoteResponse struct {
	AmountOut float64 `json:"amountOut"`
}

func (s *Sampler) fetchQuote(ctx context.Context, pair Pair) (float64, error) {
	var resp quoteResponse
	err := retry.Do(ctx, s.retryCfg, s.logger, fmt.Sprintf("quote %s->%s", pair.TokenIn, pair.TokenOut), func() error {
		query := url.Values{}
		query.Set("chainId", strconv.FormatInt(s.chainID, 10))
		query.Set("tokenIn", pair.TokenIn)
		query.Set("tokenOut", pair.TokenOut)
		query.Set("amountIn", strconv.FormatFloat(pair.AmountIn, 'f', -1, 64))
		return s.get(ctx, s.cfg.QuoteURL+"?"+query.Encode(), &resp)
	})
	if err != nil {
		metrics.QuoteRequests.WithLabelValues(s.provider, "error").Inc()
		return 0, err
	}
	metrics.QuoteRequests.WithLabelValues(s.provider, "ok").Inc()
	return resp.AmountOut, nil
}

type exposureResponse struct {
	Token     string  `json:"token"`
	Liquidity float64 `json:"liquidity"`
}

func (s *Sampler) sampleExposure(ctx context.Context, batch string, takenAt time.Time, tokens []string) ([]warehouse.AssetExposure, error) {
	if len(tokens) == 0 || s.cfg.ExposureURL == "" {
		return nil, nil
	}

	var entries []exposureResponse
	err := retry.Do(ctx, s.retryCfg, s.logger, "asset exposure", func() error {
		query := url.Values{}
		query.Set("chainId", strconv.FormatInt(s.chainID, 10))
		for _, token := range tokens {
			query.Add("token", token)
		}
		return s.get(ctx, s.cfg.ExposureURL+"?"+query.Encode(), &entries)
	})
	if err != nil {
		return nil, err
	}

	rows := make([]warehouse.AssetExposure, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, warehouse.AssetExposure{
			QuoteBatch:   batch,
			ChainID:      s.chainID,
			TokenAddress: entry.Token,
			Liquidity:    entry.Liquidity,
			Datetime:     takenAt,
		})
	}
	return rows, nil
}

// get performs one rate-limited request. The limiter paces request starts;
// the inflight channel bounds simultaneous requests.
func (s *Sampler) get(ctx context.Context, endpoint string, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	select {
	case s.inflight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.inflight }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("quote endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode quote response: %w", err)
	}
	return nil
}
