package models

import (
	"time"

	"github.com/ad-scout/internal/types"
)

// Catalog count methods
const (
	CountMethodSitemap      = "sitemap"
	CountMethodProductsJSON = "products_json"
)

// SiteProfile is the result of analyzing an advertiser's storefront:
// platform detection, homepage metadata and the catalog size estimate.
type SiteProfile struct {
	URL           string         `json:"url"`
	Platform      types.Platform `json:"platform"`
	Confidence    int            `json:"confidence"` // 0-100

	// ProductCount is nil when counting was not attempted or failed.
	ProductCount *int   `json:"product_count,omitempty"`
	CountMethod  string `json:"count_method,omitempty"`
	CountCapped  bool   `json:"count_capped,omitempty"` // budget hit, count is a floor

	Theme   string `json:"theme,omitempty"`
	ThemeID string `json:"theme_id,omitempty"`

	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	H1          string `json:"h1,omitempty"`
	Keywords    string `json:"keywords,omitempty"`

	PaymentMethods []string `json:"payment_methods,omitempty"`
	Currency       string   `json:"currency,omitempty"`

	// Category and Subcategory come from the external niche classifier,
	// empty when the classifier is disabled or gave no answer.
	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`

	AnalyzedAt time.Time `json:"analyzed_at"`
}
