package models

import (
	"time"

	"github.com/ad-scout/internal/types"
)

// ScanCacheEntry is what a previous run learned about a page. Each field
// has its own reuse rule: the website URL and a known CMS are reused at any
// age, the site analysis only while fresh and complete.
type ScanCacheEntry struct {
	PageID        string         `json:"page_id"`
	WebsiteURL    string         `json:"website_url,omitempty"`
	CMS           types.Platform `json:"cms,omitempty"`
	CMSConfidence int            `json:"cms_confidence,omitempty"`
	ProductCount  *int           `json:"product_count,omitempty"`
	Category      string         `json:"category,omitempty"`
	Subcategory   string         `json:"subcategory,omitempty"`
	ScannedAt     time.Time      `json:"scanned_at"`
}

// HasWebsite reports whether the entry carries a usable website URL
func (e *ScanCacheEntry) HasWebsite() bool {
	return e.WebsiteURL != ""
}

// HasKnownCMS reports whether the entry carries an informative CMS value
func (e *ScanCacheEntry) HasKnownCMS() bool {
	return e.CMS.Known()
}

// IsFresh reports whether the entry was written within the freshness window
func (e *ScanCacheEntry) IsFresh(now time.Time, window time.Duration) bool {
	if e.ScannedAt.IsZero() {
		return false
	}
	return now.Sub(e.ScannedAt) < window
}

// IsComplete reports whether the site analysis can be reused wholesale:
// both the product count and the category must be present.
func (e *ScanCacheEntry) IsComplete() bool {
	return e.ProductCount != nil && e.Category != ""
}
