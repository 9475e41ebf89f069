package cmsdetect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ad-scout/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(&Config{
		Timeout:      2 * time.Second,
		ProbeTimeout: 2 * time.Second,
		MaxAttempts:  1,
	})
	require.NoError(t, err)
	return d
}

func TestDetectShopifyFromHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><script src="https://cdn.shopify.com/s/files/1/app.js"></script></head></html>`))
	}))
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformShopify, detection.Platform)
	assert.Equal(t, 30, detection.Confidence)
	assert.Contains(t, detection.Evidence, "html:cdn.shopify.com")
	assert.NotContains(t, detection.Evidence, "html:shopify.com")
}

func TestDetectShopifyFromHeadersAndCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Shopify-Stage", "production")
		http.SetCookie(w, &http.Cookie{Name: "_shopify_y", Value: "abc"})
		w.Write([]byte(`<html><body>plain storefront</body></html>`))
	}))
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformShopify, detection.Platform)
	assert.Equal(t, 40, detection.Confidence)
}

func TestDetectConfidenceCappedAt100(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`cdn.shopify.com myshopify.com monorail-edge.shopifysvc.com
			/cdn/shop/ shopify-analytics shopify.theme shopify-section data-shopify`))
	}))
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformShopify, detection.Platform)
	assert.Equal(t, 100, detection.Confidence)
}

func TestDetectWeakScoreConfirmedByProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// a single weak signal, not enough to decide
		w.Write([]byte(`<a href="https://www.shopify.com">powered</a>`))
	})
	mux.HandleFunc("/products.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"products":[]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformShopify, detection.Platform)
	assert.Equal(t, 80, detection.Confidence)
	assert.Contains(t, detection.Evidence, "probe:endpoint")
}

func TestDetectWeakScoreWithoutProbeFallsThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a href="https://www.shopify.com">powered</a>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformUnknown, detection.Platform)
	assert.Equal(t, 0, detection.Confidence)
}

func TestDetectSecondaryPlatforms(t *testing.T) {
	tests := []struct {
		name       string
		html       string
		platform   types.Platform
		confidence int
	}{
		{"woocommerce strong", `<script src="/wc-ajax/cart.js"></script>`, "WooCommerce", 90},
		{"woocommerce medium", `<link href="/wp-content/plugins/woocommerce/style.css">`, "WooCommerce", 75},
		{"wordpress plain", `<link href="/wp-includes/theme.css">`, "WordPress", 80},
		{"prestashop", `<div class="prestashop-page"></div>`, "PrestaShop", 90},
		{"wix", `<img src="https://static.wixstatic.com/img.png">`, "Wix", 90},
		{"none", `<html><body>hand rolled shop</body></html>`, types.PlatformUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection := classifySecondary(tt.html)
			assert.Equal(t, tt.platform, detection.Platform)
			assert.Equal(t, tt.confidence, detection.Confidence)
		})
	}
}

func TestDetectOrderFirstMatchWins(t *testing.T) {
	// WooCommerce appears before Wix in the table
	detection := classifySecondary(`woocommerce wixstatic.com`)
	assert.Equal(t, types.Platform("WooCommerce"), detection.Platform)
}

func TestDetectUnreachableSiteIsUnknown(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close() // immediately closed, connection refused

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformUnknown, detection.Platform)
	assert.Equal(t, 0, detection.Confidence)
}

func TestDetectErrorStatusIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	detection := newTestDetector(t).Detect(context.Background(), server.URL)
	assert.Equal(t, types.PlatformUnknown, detection.Platform)
}

func TestDetectInvalidURL(t *testing.T) {
	detection := newTestDetector(t).Detect(context.Background(), "://not-a-url")
	assert.Equal(t, types.PlatformUnknown, detection.Platform)
}
