// Package solver ingests solver-generated rebalance plans from object
// storage and reconciles them with the on-chain rebalance events that
// executed them.
package solver

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

// ObjectStore lists and fetches plan blobs. Keys are stable identifiers and
// double as the plan primary key in the warehouse.
type ObjectStore interface {
	ListKeys(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Bucket reads a public S3-compatible bucket over plain HTTP. The solver
// publishes plans to a bucket without authentication, so the V2 list API and
// object GETs are enough.
type Bucket struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	retryCfg   retry.Config
	logger     *zap.Logger
}

// NewBucket builds a Bucket client for the configured plan storage
func NewBucket(cfg config.SolverConfig, retryCfg retry.Config, logger *zap.Logger) *Bucket {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Bucket{
		baseURL:    strings.TrimRight(cfg.BucketURL, "/"),
		prefix:     cfg.Prefix,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
		logger:     logger,
	}
}

type listBucketResult struct {
	XMLName               xml.Name `xml:"ListBucketResult"`
	IsTruncated           bool     `xml:"IsTruncated"`
	NextContinuationToken string   `xml:"NextContinuationToken"`
	Contents              []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

// ListKeys pages through the bucket listing and returns every object key
// under the configured prefix
func (b *Bucket) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	token := ""
	for {
		var page listBucketResult
		err := retry.Do(ctx, b.retryCfg, b.logger, "list plan bucket", func() error {
			return b.listPage(ctx, token, &page)
		})
		if err != nil {
			return nil, err
		}

		for _, object := range page.Contents {
			keys = append(keys, object.Key)
		}
		if !page.IsTruncated {
			return keys, nil
		}
		if page.NextContinuationToken == "" {
			return nil, fmt.Errorf("bucket listing truncated without a continuation token")
		}
		token = page.NextContinuationToken
	}
}

func (b *Bucket) listPage(ctx context.Context, token string, out *listBucketResult) error {
	query := url.Values{}
	query.Set("list-type", "2")
	if b.prefix != "" {
		query.Set("prefix", b.prefix)
	}
	if token != "" {
		query.Set("continuation-token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build list request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bucket list request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bucket list returned %d: %s", resp.StatusCode, snippet)
	}

	*out = listBucketResult{}
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode bucket listing: %w", err)
	}
	return nil
}

// Fetch downloads one object by key
func (b *Bucket) Fetch(ctx context.Context, key string) ([]byte, error) {
	endpoint, err := url.JoinPath(b.baseURL, key)
	if err != nil {
		return nil, fmt.Errorf("failed to build object URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build object request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("object fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("object fetch of %s returned %d: %s", key, resp.StatusCode, snippet)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return body, nil
}
