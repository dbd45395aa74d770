package solver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autopool-labs/autopool-warehouse/pkg/config"
	"github.com/autopool-labs/autopool-warehouse/pkg/retry"
)

func newTestBucket(url string) *Bucket {
	return NewBucket(config.SolverConfig{
		BucketURL: url,
		Prefix:    "plans/",
	}, retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2.0,
	}, zap.NewNop())
}

func TestListKeysFollowsContinuationTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("list-type"))
		assert.Equal(t, "plans/", r.URL.Query().Get("prefix"))

		if r.URL.Query().Get("continuation-token") == "" {
			fmt.Fprint(w, `<?xml version="1.0"?>
<ListBucketResult>
  <IsTruncated>true</IsTruncated>
  <NextContinuationToken>page2</NextContinuationToken>
  <Contents><Key>plans/a.json</Key></Contents>
  <Contents><Key>plans/b.json</Key></Contents>
</ListBucketResult>`)
			return
		}
		assert.Equal(t, "page2", r.URL.Query().Get("continuation-token"))
		fmt.Fprint(w, `<?xml version="1.0"?>
<ListBucketResult>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>plans/c.json</Key></Contents>
</ListBucketResult>`)
	}))
	defer server.Close()

	keys, err := newTestBucket(server.URL).ListKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"plans/a.json", "plans/b.json", "plans/c.json"}, keys)
}

func TestListKeysRejectsTruncationWithoutToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<ListBucketResult><IsTruncated>true</IsTruncated></ListBucketResult>`)
	}))
	defer server.Close()

	_, err := newTestBucket(server.URL).ListKeys(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "continuation token")
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plans/a.json", r.URL.Path)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	body, err := newTestBucket(server.URL).Fetch(context.Background(), "plans/a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := newTestBucket(server.URL).Fetch(context.Background(), "plans/missing.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
