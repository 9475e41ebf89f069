// Package catalog estimates storefront catalog size and extracts homepage
// metadata. Counting is budget-bounded: a capped number of product sitemaps
// is parsed, counting stops early at the product ceiling, and the storefront
// products.json API is the fallback.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
)

var (
	sitemapLocPattern = regexp.MustCompile(`(?i)<loc>([^<]+)</loc>`)
	sitemapURLTag     = regexp.MustCompile(`<url>`)
	langPrefixPattern = regexp.MustCompile(`^/([a-z]{2})(?:-[a-z]{2})?/`)
	fileLocalePattern = regexp.MustCompile(`sitemap_products_([a-z]{2})(?:-[a-z]{2})?_`)
)

// otherLanguages are locale prefixes excluded from counting unless they
// match the scan country. The root sitemap (no prefix) is the fallback.
var otherLanguages = map[string]struct{}{
	"fr": {}, "en": {}, "es": {}, "de": {}, "it": {}, "pt": {},
	"nl": {}, "pl": {}, "ru": {}, "ja": {}, "zh": {}, "ko": {}, "ar": {},
}

// CounterConfig bounds the catalog counting work
type CounterConfig struct {
	MaxSitemaps     int
	MaxProducts     int
	ProductsPerPage int
	MaxJSONPages    int
	Timeout         time.Duration
}

// Counter counts storefront products from sitemaps with a JSON API fallback
type Counter struct {
	cfg    *CounterConfig
	client *http.Client
}

// NewCounter creates a counter
func NewCounter(cfg *CounterConfig) (*Counter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.MaxSitemaps <= 0 {
		cfg.MaxSitemaps = 10
	}
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = 5000
	}
	if cfg.ProductsPerPage <= 0 {
		cfg.ProductsPerPage = 250
	}
	if cfg.MaxJSONPages <= 0 {
		cfg.MaxJSONPages = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &Counter{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

// CountResult is a catalog size estimate
type CountResult struct {
	Count  int
	Method string // CountMethodSitemap or CountMethodProductsJSON, empty when nothing worked
	Capped bool   // the product ceiling was hit, Count is a floor
}

// CountProducts counts products for the storefront at origin, preferring
// sitemaps for the scan country's locale, then root sitemaps, then the
// products.json API. Never returns an error; failures yield a zero result.
func (c *Counter) CountProducts(ctx context.Context, origin, countryCode string) CountResult {
	logger := logging.FromContext(ctx)

	if !strings.HasPrefix(origin, "http") {
		origin = "https://" + origin
	}
	origin = strings.TrimRight(origin, "/")

	index, ok := c.fetchText(ctx, origin+"/sitemap.xml")
	if !ok {
		return c.countViaAPI(ctx, origin)
	}

	sitemaps := selectProductSitemaps(index, countryCode)
	if len(sitemaps) == 0 {
		return c.countViaAPI(ctx, origin)
	}
	if len(sitemaps) > c.cfg.MaxSitemaps {
		sitemaps = sitemaps[:c.cfg.MaxSitemaps]
	}

	total := 0
	capped := false
	seen := make(map[string]struct{}, len(sitemaps))
	for _, sm := range sitemaps {
		if _, dup := seen[sm]; dup {
			continue
		}
		seen[sm] = struct{}{}

		if ctx.Err() != nil {
			break
		}
		body, ok := c.fetchText(ctx, sm)
		if !ok {
			continue
		}
		total += len(sitemapURLTag.FindAllStringIndex(body, -1))

		if total >= c.cfg.MaxProducts {
			logger.WithField("limit", c.cfg.MaxProducts).Debug("product ceiling reached, stopping sitemap parse")
			capped = true
			break
		}
	}

	if total == 0 {
		return c.countViaAPI(ctx, origin)
	}
	return CountResult{Count: total, Method: models.CountMethodSitemap, Capped: capped}
}

// selectProductSitemaps filters a sitemap index down to product sitemaps for
// the wanted locale. Country-prefixed sitemaps win over root ones; other
// locales are dropped entirely.
func selectProductSitemaps(index, countryCode string) []string {
	country := strings.ToLower(countryCode)

	var countrySitemaps, rootSitemaps []string
	for _, match := range sitemapLocPattern.FindAllStringSubmatch(index, -1) {
		loc := strings.TrimSpace(match[1])
		locLower := strings.ToLower(loc)
		if !strings.Contains(locLower, "sitemap_products") {
			continue
		}

		path := locLower
		if parsed, err := url.Parse(loc); err == nil {
			path = strings.ToLower(parsed.Path)
		}

		if lang := sitemapLocale(path); lang != "" {
			if lang == country {
				countrySitemaps = append(countrySitemaps, loc)
				continue
			}
			if _, other := otherLanguages[lang]; other {
				continue
			}
		}
		rootSitemaps = append(rootSitemaps, loc)
	}

	if len(countrySitemaps) > 0 {
		return countrySitemaps
	}
	return rootSitemaps
}

// sitemapLocale extracts the locale of a product sitemap from its path
// prefix (/fr/...) or its filename (sitemap_products_fr_1.xml). Empty when
// the sitemap carries no locale marker.
func sitemapLocale(path string) string {
	if m := langPrefixPattern.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	if m := fileLocalePattern.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}

// countViaAPI estimates the catalog from the storefront products.json API.
// Full pages mean there may be more, so pagination continues up to the
// page budget.
func (c *Counter) countViaAPI(ctx context.Context, origin string) CountResult {
	perPage := c.cfg.ProductsPerPage

	count, ok := c.fetchProductsPage(ctx, fmt.Sprintf("%s/products.json?limit=%d", origin, perPage))
	if !ok {
		return CountResult{}
	}
	total := count

	if count == perPage {
		for page := 2; page <= c.cfg.MaxJSONPages; page++ {
			batch, ok := c.fetchProductsPage(ctx, fmt.Sprintf("%s/products.json?limit=%d&page=%d", origin, perPage, page))
			if !ok || batch == 0 {
				break
			}
			total += batch
			if batch < perPage {
				break
			}
		}
	}

	if total == 0 {
		return CountResult{}
	}
	return CountResult{Count: total, Method: models.CountMethodProductsJSON, Capped: false}
}

func (c *Counter) fetchProductsPage(ctx context.Context, pageURL string) (int, bool) {
	body, ok := c.fetchText(ctx, pageURL)
	if !ok {
		return 0, false
	}
	var parsed struct {
		Products []json.RawMessage `json:"products"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return 0, false
	}
	return len(parsed.Products), true
}

func (c *Counter) fetchText(ctx context.Context, fetchURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil || len(body) == 0 {
		return "", false
	}
	return string(body), true
}
