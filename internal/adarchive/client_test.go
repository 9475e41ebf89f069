package adarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/ad-scout/internal/models"
	"github.com/ad-scout/internal/tokenpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, tokens []string) *Client {
	t.Helper()
	pool, err := tokenpool.New(tokens, nil)
	require.NoError(t, err)

	client, err := NewClient(&Config{
		BaseURL:           baseURL,
		Pool:              pool,
		RequestsPerSecond: 1000,
		PageLimit:         500,
		PageLimitFloor:    100,
		BatchSize:         10,
	})
	require.NoError(t, err)
	return client
}

func writeAds(w http.ResponseWriter, next string, ads ...models.RawAd) {
	resp := map[string]interface{}{"data": ads}
	if next != "" {
		resp["paging"] = map[string]string{"next": next}
	}
	json.NewEncoder(w).Encode(resp)
}

func writeAPIError(w http.ResponseWriter, status, code int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"message": message, "code": code},
	})
}

func TestNewClientValidation(t *testing.T) {
	pool, err := tokenpool.New([]string{"tok"}, nil)
	require.NoError(t, err)

	_, err = NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "https://x", PageLimit: 500, PageLimitFloor: 100})
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "https://x", Pool: pool, PageLimit: 50, PageLimitFloor: 100})
	assert.Error(t, err)
}

func TestSearchByKeywordPaginatesAndTags(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bijoux", r.URL.Query().Get("search_terms"))
		require.Equal(t, `["FR"]`, r.URL.Query().Get("ad_reached_countries"))
		require.Equal(t, "test-token", r.URL.Query().Get("access_token"))

		if r.URL.Query().Get("after") == "" {
			next := server.URL + "/ads_archive?" + r.URL.RawQuery + "&after=cursor1"
			writeAds(w, next, models.RawAd{ID: "1", PageID: "111"}, models.RawAd{ID: "2", PageID: "111"})
			return
		}
		writeAds(w, "", models.RawAd{ID: "3", PageID: "222"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"test-token"})
	ads, err := client.SearchByKeyword(context.Background(), "bijoux", []string{"FR"}, []string{"fr"})
	require.NoError(t, err)

	require.Len(t, ads, 3)
	for _, ad := range ads {
		assert.Equal(t, "bijoux", ad.Keyword)
	}
}

func TestSearchHalvesPageSizeToFloor(t *testing.T) {
	var mu sync.Mutex
	var limits []int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := parseInt(r.URL.Query().Get("limit"))
		mu.Lock()
		limits = append(limits, limit)
		mu.Unlock()

		if limit > 100 {
			writeAPIError(w, http.StatusInternalServerError, 1, "Please reduce the amount of data you're asking for")
			return
		}
		writeAds(w, "", models.RawAd{ID: "1", PageID: "111"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"tok"})
	ads, err := client.SearchByKeyword(context.Background(), "montres", []string{"FR"}, []string{"fr"})
	require.NoError(t, err)
	assert.Len(t, ads, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{500, 250, 125, 100}, limits)
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func TestSearchRotatesCredentialOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "bad-token" {
			writeAPIError(w, http.StatusForbidden, 190, "Invalid OAuth access token")
			return
		}
		writeAds(w, "", models.RawAd{ID: "1", PageID: "111"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"bad-token", "good-token"})
	ads, err := client.SearchByKeyword(context.Background(), "deco", []string{"FR"}, []string{"fr"})
	require.NoError(t, err)
	assert.Len(t, ads, 1)
	assert.Equal(t, 1, client.cfg.Pool.Rotations())
}

func TestSearchFailsOnNonTransientError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest, 100, "Unsupported request")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"tok"})
	_, err := client.SearchByKeyword(context.Background(), "deco", []string{"FR"}, []string{"fr"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, apiErr.IsTransient())
}

func TestFetchAdsForPagesBatchesAndCounts(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("search_page_ids")), &ids))
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()

		var ads []models.RawAd
		for _, id := range ids {
			if id == "empty" {
				continue
			}
			ads = append(ads, models.RawAd{ID: "ad-" + id, PageID: id}, models.RawAd{ID: "ad2-" + id, PageID: id})
		}
		writeAds(w, "", ads...)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"tok"})

	pageIDs := make([]string, 0, 12)
	for i := 0; i < 11; i++ {
		pageIDs = append(pageIDs, fmt.Sprintf("p%d", i))
	}
	pageIDs = append(pageIDs, "empty")

	results := client.FetchAdsForPages(context.Background(), pageIDs, []string{"FR"}, []string{"fr"})

	mu.Lock()
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 2)
	mu.Unlock()

	require.Len(t, results, 12)
	assert.Equal(t, 2, results["p0"].Count)
	assert.Len(t, results["p0"].Ads, 2)
	assert.Equal(t, 0, results["empty"].Count)
	assert.Empty(t, results["empty"].Ads)
}

func TestFetchAdsForPagesMarksFailedBatches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusBadRequest, 100, "Unsupported request")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, []string{"tok"})
	results := client.FetchAdsForPages(context.Background(), []string{"111", "222"}, []string{"FR"}, []string{"fr"})

	require.Len(t, results, 2)
	assert.Equal(t, -1, results["111"].Count)
	assert.Equal(t, -1, results["222"].Count)
}

func TestWithTokenAndLimit(t *testing.T) {
	authed, err := withToken("https://api.example.com/ads_archive?limit=500", "tok")
	require.NoError(t, err)
	u, err := url.Parse(authed)
	require.NoError(t, err)
	assert.Equal(t, "tok", u.Query().Get("access_token"))

	rewritten, err := withLimit(authed, 250)
	require.NoError(t, err)
	u, err = url.Parse(rewritten)
	require.NoError(t, err)
	assert.Equal(t, "250", u.Query().Get("limit"))
	assert.Equal(t, "tok", u.Query().Get("access_token"))
}
