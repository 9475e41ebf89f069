package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ad-scout/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
}

func TestNewWithoutKeyIsNoop(t *testing.T) {
	c, err := New(&Config{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, c)

	categories, err := c.ClassifyBatch(context.Background(), []Site{{PageID: "111"}})
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(&Config{APIKey: "key"})
	assert.Error(t, err)
}

func TestClassifyBatchSplitsAndMerges(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		batchSizes = append(batchSizes, len(req.Sites))

		categories := make(map[string]Result, len(req.Sites))
		for _, site := range req.Sites {
			categories[site.PageID] = Result{Category: "jewelry", Subcategory: "handmade", Confidence: 80}
		}
		json.NewEncoder(w).Encode(classifyResponse{Categories: categories})
	}))
	defer server.Close()

	c, err := New(&Config{APIKey: "test-key", Endpoint: server.URL, BatchSize: 2, Retry: fastRetry()})
	require.NoError(t, err)

	sites := []Site{{PageID: "1"}, {PageID: "2"}, {PageID: "3"}}
	categories, err := c.ClassifyBatch(context.Background(), sites)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 1}, batchSizes)
	require.Len(t, categories, 3)
	assert.Equal(t, Result{Category: "jewelry", Subcategory: "handmade", Confidence: 80}, categories["1"])
}

func TestClassifyBatchSkipsFailedBatch(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls.Add(1)

		// fail every request for the first batch's page ids
		if req.Sites[0].PageID == "1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(classifyResponse{Categories: map[string]Result{"3": {Category: "fashion"}}})
	}))
	defer server.Close()

	c, err := New(&Config{APIKey: "test-key", Endpoint: server.URL, BatchSize: 2, Retry: fastRetry()})
	require.NoError(t, err)

	categories, err := c.ClassifyBatch(context.Background(), []Site{{PageID: "1"}, {PageID: "2"}, {PageID: "3"}})
	require.NoError(t, err)

	assert.Equal(t, map[string]Result{"3": {Category: "fashion"}}, categories)
	// first batch retried, second succeeded first try
	assert.Equal(t, int64(3), calls.Load())
}

func TestClassifyBatchAPIErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(classifyResponse{Error: "quota exceeded"})
	}))
	defer server.Close()

	c, err := New(&Config{APIKey: "test-key", Endpoint: server.URL, Retry: fastRetry()})
	require.NoError(t, err)

	categories, err := c.ClassifyBatch(context.Background(), []Site{{PageID: "1"}})
	require.NoError(t, err)
	assert.Empty(t, categories)
}

func TestClassifyBatchHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := New(&Config{APIKey: "test-key", Endpoint: "http://localhost:0", Retry: fastRetry()})
	require.NoError(t, err)

	_, err = c.ClassifyBatch(ctx, []Site{{PageID: "1"}})
	assert.ErrorIs(t, err, context.Canceled)
}
