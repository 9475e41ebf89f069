// Package adarchive implements the client for the public ad-archive API:
// keyword search and exact per-page ad fetching, with pagination, page-size
// halving on protocol pushback and linear backoff on throttling.
package adarchive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
	"github.com/ad-scout/internal/tokenpool"
)

// adFields is the field list requested on every archive call
const adFields = "id,page_id,page_name,ad_creation_time,ad_creative_bodies," +
	"ad_creative_link_captions,ad_creative_link_titles,ad_snapshot_url," +
	"eu_total_reach,languages,publisher_platforms,target_ages,target_gender," +
	"beneficiary_payers,currency"

// PageAds holds the exact-count fetch result for one page.
// Count is len(Ads) on success, 0 for a clean empty page and -1 when the
// batch fetch failed for this page.
type PageAds struct {
	Ads   []models.RawAd
	Count int
}

// Config configures the archive client
type Config struct {
	BaseURL           string
	Pool              *tokenpool.Pool
	RequestsPerSecond float64
	Timeout           time.Duration
	PageLimit         int
	PageLimitFloor    int
	BatchSize         int
	PageDelay         time.Duration
	BatchDelay        time.Duration
}

// Client talks to the ad-archive API using the credential pool
type Client struct {
	cfg     *Config
	limiter *rate.Limiter

	// one HTTP client per proxy, built lazily
	clients map[string]*http.Client
}

// NewClient creates an archive client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.PageLimitFloor <= 0 || cfg.PageLimit < cfg.PageLimitFloor {
		return nil, fmt.Errorf("invalid page limits: limit=%d floor=%d", cfg.PageLimit, cfg.PageLimitFloor)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		clients: make(map[string]*http.Client),
	}, nil
}

// httpClientFor returns the HTTP client for a credential, routing through
// its proxy when one is configured.
func (c *Client) httpClientFor(cred tokenpool.Credential) (*http.Client, error) {
	if client, ok := c.clients[cred.Proxy]; ok {
		return client, nil
	}

	client := &http.Client{Timeout: c.cfg.Timeout}
	if cred.Proxy != "" {
		proxyURL, err := url.Parse(cred.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for %s: %w", cred.Label, err)
		}
		client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	c.clients[cred.Proxy] = client
	return client, nil
}

type archiveResponse struct {
	Data   []models.RawAd `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SearchByKeyword runs a full paginated keyword search. Each returned ad
// carries the keyword that surfaced it. On failure the credential is rotated
// once and the whole keyword retried before giving up.
func (c *Client) SearchByKeyword(ctx context.Context, keyword string, countries, languages []string) ([]models.RawAd, error) {
	ads, err := c.searchOnce(ctx, keyword, countries, languages)
	if err != nil && c.cfg.Pool.Size() > 1 && ctx.Err() == nil {
		cred := c.cfg.Pool.Rotate()
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"keyword":    keyword,
			"credential": cred.Label,
			"error":      err.Error(),
		}).Warn("keyword search failed, retrying with next credential")
		ads, err = c.searchOnce(ctx, keyword, countries, languages)
	}
	if err != nil {
		return nil, err
	}
	for i := range ads {
		ads[i].Keyword = keyword
	}
	return ads, nil
}

func (c *Client) searchOnce(ctx context.Context, keyword string, countries, languages []string) ([]models.RawAd, error) {
	params := url.Values{}
	params.Set("search_terms", keyword)
	params.Set("search_type", "KEYWORD_UNORDERED")
	params.Set("ad_type", "ALL")
	params.Set("ad_active_status", "ACTIVE")
	params.Set("ad_reached_countries", jsonList(countries))
	params.Set("languages", jsonList(languages))
	params.Set("fields", adFields)
	params.Set("limit", strconv.Itoa(c.cfg.PageLimit))

	return c.paginate(ctx, c.cfg.BaseURL+"/ads_archive?"+params.Encode())
}

// FetchAdsForPages fetches the full active ad set for each page, batching
// up to BatchSize page ids per request. Failed batches are marked with
// Count -1 after a single rotate-and-retry; the scan continues.
func (c *Client) FetchAdsForPages(ctx context.Context, pageIDs []string, countries, languages []string) map[string]PageAds {
	logger := logging.FromContext(ctx)
	results := make(map[string]PageAds, len(pageIDs))

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	for start := 0; start < len(pageIDs); start += batchSize {
		if ctx.Err() != nil {
			// remaining pages are marked failed so callers can tell
			// cancellation apart from a clean zero
			for _, id := range pageIDs[start:] {
				results[id] = PageAds{Count: -1}
			}
			return results
		}

		end := start + batchSize
		if end > len(pageIDs) {
			end = len(pageIDs)
		}
		batch := pageIDs[start:end]

		ads, err := c.fetchBatch(ctx, batch, countries, languages)
		if err != nil && c.cfg.Pool.Size() > 1 && ctx.Err() == nil {
			cred := c.cfg.Pool.Rotate()
			logger.WithFields(map[string]interface{}{
				"batch_size": len(batch),
				"credential": cred.Label,
				"error":      err.Error(),
			}).Warn("batch fetch failed, retrying with next credential")
			ads, err = c.fetchBatch(ctx, batch, countries, languages)
		}

		if err != nil {
			logger.WithError(err).Warnf("batch fetch failed for %d pages", len(batch))
			for _, id := range batch {
				results[id] = PageAds{Count: -1}
			}
		} else {
			grouped := make(map[string][]models.RawAd, len(batch))
			for _, ad := range ads {
				grouped[ad.PageID] = append(grouped[ad.PageID], ad)
			}
			for _, id := range batch {
				pageAds := grouped[id]
				results[id] = PageAds{Ads: pageAds, Count: len(pageAds)}
			}
		}

		if end < len(pageIDs) && c.cfg.BatchDelay > 0 {
			select {
			case <-time.After(c.cfg.BatchDelay):
			case <-ctx.Done():
			}
		}
	}
	return results
}

func (c *Client) fetchBatch(ctx context.Context, pageIDs []string, countries, languages []string) ([]models.RawAd, error) {
	params := url.Values{}
	params.Set("search_page_ids", jsonList(pageIDs))
	params.Set("ad_active_status", "ACTIVE")
	params.Set("ad_type", "ALL")
	params.Set("ad_reached_countries", jsonList(countries))
	params.Set("languages", jsonList(languages))
	params.Set("fields", adFields)
	params.Set("limit", strconv.Itoa(c.cfg.PageLimit))

	return c.paginate(ctx, c.cfg.BaseURL+"/ads_archive?"+params.Encode())
}

// paginate walks an archive result set. The next-page URL from the response
// is followed opaquely; page-size pushback halves the limit down to the
// configured floor and retries the same cursor.
func (c *Client) paginate(ctx context.Context, requestURL string) ([]models.RawAd, error) {
	logger := logging.FromContext(ctx)

	var all []models.RawAd
	currentLimit := c.cfg.PageLimit

	for {
		body, err := c.doRequest(ctx, requestURL)
		if err != nil {
			var apiErr *APIError
			if asAPIError(err, &apiErr) && apiErr.IsPageSizeError() && currentLimit > c.cfg.PageLimitFloor {
				currentLimit = currentLimit / 2
				if currentLimit < c.cfg.PageLimitFloor {
					currentLimit = c.cfg.PageLimitFloor
				}
				requestURL, err = withLimit(requestURL, currentLimit)
				if err != nil {
					return nil, err
				}
				logger.WithField("limit", currentLimit).Warn("page size rejected, halving limit")
				continue
			}
			return nil, err
		}

		var page archiveResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to parse archive response: %w", err)
		}

		all = append(all, page.Data...)

		if page.Paging.Next == "" {
			return all, nil
		}
		requestURL = page.Paging.Next

		if c.cfg.PageDelay > 0 {
			select {
			case <-time.After(c.cfg.PageDelay):
			case <-ctx.Done():
				return all, ctx.Err()
			}
		}
	}
}

// doRequest performs one archive call with the current credential, retrying
// transient failures (429, 500, network) on a linear 0.5s, 1s, 1.5s schedule.
func (c *Client) doRequest(ctx context.Context, requestURL string) ([]byte, error) {
	const maxAttempts = 4
	baseDelay := 500 * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		cred := c.cfg.Pool.Current()
		httpClient, err := c.httpClientFor(cred)
		if err != nil {
			return nil, err
		}

		authedURL, err := withToken(requestURL, cred.Token)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, authedURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if ctx.Err() != nil {
				return nil, lastErr
			}
			if !sleepLinear(ctx, baseDelay, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		apiErr := parseAPIError(resp.StatusCode, body)
		if apiErr.IsPageSizeError() {
			// surfaced immediately so the caller can halve the page size
			return nil, apiErr
		}
		if apiErr.IsTransient() && attempt < maxAttempts {
			lastErr = apiErr
			if !sleepLinear(ctx, baseDelay, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		return nil, apiErr
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: truncate(string(body), 200)}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Message = parsed.Error.Message
		apiErr.Code = parsed.Error.Code
	}
	return apiErr
}

func sleepLinear(ctx context.Context, base time.Duration, attempt int) bool {
	select {
	case <-time.After(base * time.Duration(attempt)):
		return true
	case <-ctx.Done():
		return false
	}
}

// withToken appends the access token to a request URL
func withToken(requestURL, token string) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	q := u.Query()
	q.Set("access_token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// withLimit rewrites the page limit of a request URL
func withLimit(requestURL string, limit int) (string, error) {
	u, err := url.Parse(requestURL)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func jsonList(values []string) string {
	b, _ := json.Marshal(values)
	return string(b)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
