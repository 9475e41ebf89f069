// Package cmsdetect identifies the e-commerce platform behind a storefront
// URL. Shopify gets a weighted multi-signal score over HTML, headers and
// cookies; weak scores are confirmed by probing storefront JSON endpoints;
// everything else falls through an ordered fingerprint table.
package cmsdetect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/types"
)

// maxHTMLBytes caps how much of the homepage is scanned for fingerprints
const maxHTMLBytes = 200_000

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// Detection is the outcome of platform detection. Fetch failures yield
// {Unknown, 0}, never an error.
type Detection struct {
	Platform   types.Platform
	Confidence int // 0-100
	Evidence   []string
}

// Config configures the detector
type Config struct {
	Timeout      time.Duration // base homepage timeout, escalated per attempt
	ProbeTimeout time.Duration
	MaxAttempts  int
	ProxyURL     string // optional scraping proxy, tried before direct access
}

// Detector fetches storefront homepages and classifies their platform
type Detector struct {
	cfg    *Config
	client *http.Client
	proxy  *http.Client
}

// NewDetector creates a detector
func NewDetector(cfg *Config) (*Detector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	d := &Detector{
		cfg:    cfg,
		client: &http.Client{},
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		d.proxy = &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}
	}
	return d, nil
}

// fetched is one successful homepage response
type fetched struct {
	html    string // lower-cased, truncated
	headers http.Header
	cookies []*http.Cookie
}

// Detect fetches the site and classifies its platform. All failures
// degrade to Unknown.
func (d *Detector) Detect(ctx context.Context, siteURL string) Detection {
	logger := logging.FromContext(ctx)

	if !strings.HasPrefix(siteURL, "http") {
		siteURL = "https://" + siteURL
	}
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Host == "" {
		return Detection{Platform: types.PlatformUnknown}
	}
	baseURL := parsed.Scheme + "://" + parsed.Host

	page, ok := d.fetchHomepage(ctx, siteURL)
	if !ok {
		logger.WithField("url", siteURL).Warn("homepage fetch failed, platform unknown")
		return Detection{Platform: types.PlatformUnknown}
	}

	detection := classify(page)
	if detection.Platform == types.PlatformShopify && detection.Confidence == 0 {
		// weak score, confirm against storefront endpoints
		if d.probeShopify(ctx, baseURL) {
			detection.Confidence = 80
			detection.Evidence = append(detection.Evidence, "probe:endpoint")
			return detection
		}
		return classifySecondary(page.html)
	}
	return detection
}

// classify scores the fetched page. A Shopify result with Confidence 0
// means the score was too weak to decide and needs an endpoint probe.
func classify(page fetched) Detection {
	score := 0
	var evidence []string

	for _, wp := range shopifyHTMLPatterns {
		if wp.pattern == "shopify.com" {
			// only counts when it appears outside the CDN host names,
			// which already scored above
			if hasStandaloneShopifyCom(page.html) {
				score += wp.score
				evidence = append(evidence, "html:"+wp.pattern)
			}
			continue
		}
		if strings.Contains(page.html, wp.pattern) {
			score += wp.score
			evidence = append(evidence, "html:"+wp.pattern)
		}
	}

	for _, key := range shopifyHeaderKeys {
		if page.headers.Get(key) != "" {
			score += 2
			evidence = append(evidence, "header:"+key)
		}
	}
	for _, key := range []string{"x-powered-by", "server"} {
		if strings.Contains(strings.ToLower(page.headers.Get(key)), "shopify") {
			score += 2
			evidence = append(evidence, "header:"+key)
		}
	}

	setCookie := strings.ToLower(strings.Join(page.headers.Values("Set-Cookie"), ";"))
	for _, name := range shopifyCookies {
		if hasCookie(page.cookies, name) || strings.Contains(setCookie, name) {
			score += 2
			evidence = append(evidence, "cookie:"+name)
		}
	}

	if score >= 3 {
		confidence := score * 10
		if confidence > 100 {
			confidence = 100
		}
		return Detection{Platform: types.PlatformShopify, Confidence: confidence, Evidence: evidence}
	}
	if score >= 1 {
		// needs probe confirmation
		return Detection{Platform: types.PlatformShopify, Confidence: 0, Evidence: evidence}
	}
	return classifySecondary(page.html)
}

func classifySecondary(html string) Detection {
	for _, platform := range secondaryPlatforms {
		for _, pattern := range platform.patterns {
			if strings.Contains(html, pattern) {
				return Detection{
					Platform:   platform.name,
					Confidence: platform.confidence,
					Evidence:   []string{"html:" + pattern},
				}
			}
		}
	}
	return Detection{Platform: types.PlatformUnknown}
}

// fetchHomepage tries the proxy first with escalating timeouts, then falls
// back to direct access with a randomized User-Agent.
func (d *Detector) fetchHomepage(ctx context.Context, siteURL string) (fetched, bool) {
	if d.proxy != nil {
		for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
			timeout := d.cfg.Timeout + time.Duration(attempt)*5*time.Second
			if page, ok := d.fetchOnce(ctx, d.proxy, siteURL, timeout, ""); ok {
				return page, true
			}
			if attempt < d.cfg.MaxAttempts-1 && !sleepOrDone(ctx, time.Second) {
				return fetched{}, false
			}
		}
	}

	attempts := 2
	if d.proxy == nil {
		attempts = d.cfg.MaxAttempts
	}
	for attempt := 0; attempt < attempts; attempt++ {
		timeout := d.cfg.Timeout + time.Duration(attempt)*5*time.Second
		ua := userAgents[rand.Intn(len(userAgents))]
		if page, ok := d.fetchOnce(ctx, d.client, siteURL, timeout, ua); ok {
			return page, true
		}
		if attempt < attempts-1 && !sleepOrDone(ctx, time.Second) {
			return fetched{}, false
		}
	}
	return fetched{}, false
}

func (d *Detector) fetchOnce(ctx context.Context, client *http.Client, siteURL string, timeout time.Duration, userAgent string) (fetched, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, siteURL, nil)
	if err != nil {
		return fetched{}, false
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fetched{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fetched{}, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBytes))
	if err != nil {
		return fetched{}, false
	}

	return fetched{
		html:    strings.ToLower(string(body)),
		headers: resp.Header,
		cookies: resp.Cookies(),
	}, true
}

// probeShopify checks storefront JSON endpoints that only Shopify serves
func (d *Detector) probeShopify(ctx context.Context, baseURL string) bool {
	for _, endpoint := range shopifyProbeEndpoints {
		reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+endpoint, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := d.client.Do(req)
		if err != nil {
			cancel()
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		cancel()
		if readErr != nil || resp.StatusCode != http.StatusOK {
			continue
		}

		var parsed map[string]interface{}
		if json.Unmarshal(body, &parsed) == nil {
			return true
		}
		if strings.Contains(strings.ToLower(string(body)), "shopify") {
			return true
		}
	}
	return false
}

func hasStandaloneShopifyCom(html string) bool {
	total := strings.Count(html, "shopify.com")
	return total > strings.Count(html, "cdn.shopify.com")+strings.Count(html, "myshopify.com")
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
