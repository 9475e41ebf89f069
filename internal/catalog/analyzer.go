package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
	"github.com/ad-scout/internal/types"
)

// maxPageBytes caps how much of a page is read during analysis
const maxPageBytes = 1 << 20

// homepage metadata caps, in runes
const (
	maxTitleLen       = 200
	maxDescriptionLen = 400
	maxH1Len          = 150
	maxKeywordsLen    = 200
)

var (
	shopifyCurrencyPattern = regexp.MustCompile(`Shopify\.currency\s*=\s*\{[^}]*"active"\s*:\s*"([A-Z]{3})"`)
	ogCurrencyPattern      = regexp.MustCompile(`(?i)property=["']og:price:currency["']\s+content=["']([A-Za-z]{3})["']`)
	priceCurrencyPattern   = regexp.MustCompile(`"priceCurrency"\s*:\s*"([A-Z]{3})"`)
)

// defaultPaymentMethods are the payment providers looked for on storefront
// pages, in page text and image alt/src attributes.
var defaultPaymentMethods = []string{
	"Visa", "Mastercard", "American Express", "Discover", "Diners Club",
	"Apple Pay", "Google Pay", "Shop Pay", "PayPal", "Amazon Pay",
	"Klarna", "Clearpay", "Afterpay", "Alma", "Scalapay",
	"Virement SEPA", "Paiement à la livraison", "Crypto-monnaies",
	"Stripe", "Mollie", "PayPlug", "2Checkout", "Checkout.com",
}

// Analyzer builds a full site profile from a storefront homepage
type Analyzer struct {
	counter *Counter
	client  *http.Client
}

// NewAnalyzer creates an analyzer that shares the counter's HTTP budget
func NewAnalyzer(counter *Counter, timeout time.Duration) (*Analyzer, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Analyzer{
		counter: counter,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Analyze fetches the homepage and assembles a site profile: metadata,
// payment methods, currency, and for Shopify stores the theme and a
// catalog size estimate. Fetch failures degrade to an empty profile
// rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, siteURL string, platform types.Platform, confidence int, countryCode string) *models.SiteProfile {
	logger := logging.FromContext(ctx)

	if !strings.HasPrefix(siteURL, "http") {
		siteURL = "https://" + siteURL
	}
	siteURL = strings.TrimRight(siteURL, "/")

	profile := &models.SiteProfile{
		URL:        siteURL,
		Platform:   platform,
		Confidence: confidence,
		Theme:      "NA",
		AnalyzedAt: time.Now().UTC(),
	}

	html, ok := a.fetchPage(ctx, siteURL)
	if ok {
		a.fillMetadata(profile, html)
		profile.PaymentMethods = extractPayments(html)
		profile.Currency = extractCurrency(html)
		if platform == types.PlatformShopify {
			profile.Theme, profile.ThemeID = a.detectTheme(ctx, siteURL, html)
		}
	} else {
		logger.WithField("url", siteURL).Warn("homepage fetch failed during analysis")
	}

	if platform == types.PlatformShopify {
		result := a.counter.CountProducts(ctx, siteURL, countryCode)
		// an empty method means counting failed outright; the count stays
		// nil so the cached entry does not pass for a complete analysis
		if result.Method != "" {
			count := result.Count
			profile.ProductCount = &count
			profile.CountMethod = result.Method
			profile.CountCapped = result.Capped
		}
	}

	return profile
}

// fillMetadata extracts the title, meta description, first h1 and meta
// keywords from the homepage
func (a *Analyzer) fillMetadata(profile *models.SiteProfile, html string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return
	}

	profile.Title = truncateRunes(cleanText(doc.Find("title").First().Text()), maxTitleLen)
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		profile.Description = truncateRunes(cleanText(desc), maxDescriptionLen)
	}
	profile.H1 = truncateRunes(cleanText(doc.Find("h1").First().Text()), maxH1Len)
	if kw, ok := doc.Find(`meta[name="keywords"]`).First().Attr("content"); ok {
		profile.Keywords = truncateRunes(cleanText(kw), maxKeywordsLen)
	}
}

// extractPayments scans page text and image attributes for known payment
// providers. Results are sorted for stable output.
func extractPayments(html string) []string {
	lower := strings.ToLower(html)

	var found []string
	for _, method := range defaultPaymentMethods {
		if strings.Contains(lower, strings.ToLower(method)) {
			found = append(found, method)
		}
	}
	sort.Strings(found)
	return found
}

// extractCurrency reads the active storefront currency, preferring the
// Shopify currency object over the og:price:currency meta tag
func extractCurrency(html string) string {
	if m := shopifyCurrencyPattern.FindStringSubmatch(html); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := ogCurrencyPattern.FindStringSubmatch(html); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := priceCurrencyPattern.FindStringSubmatch(html); m != nil {
		return m[1]
	}
	return ""
}

func (a *Analyzer) fetchPage(ctx context.Context, pageURL string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil || len(body) == 0 {
		return "", false
	}
	return string(body), true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
