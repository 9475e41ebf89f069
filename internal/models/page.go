package models

import "github.com/ad-scout/internal/types"

// AdvertiserPage aggregates everything the pipeline learns about one
// advertiser page across the phases.
type AdvertiserPage struct {
	PageID   string   `json:"page_id"`
	PageName string   `json:"page_name"`
	Keywords []string `json:"keywords,omitempty"` // search terms that surfaced this page

	// AdsFoundSearch counts distinct ads seen during keyword search.
	AdsFoundSearch int `json:"ads_found_search"`

	// AdsActiveTotal is the exact active-ad count from the per-page fetch.
	// 0 means a clean empty result, -1 means the fetch failed.
	AdsActiveTotal int `json:"ads_active_total"`

	WebsiteURL string `json:"website_url,omitempty"`

	// Currency is the most frequent non-empty ad currency for this page.
	Currency string `json:"currency,omitempty"`

	CMS           types.Platform  `json:"cms,omitempty"`
	CMSConfidence int             `json:"cms_confidence,omitempty"`
	Tier          types.StateTier `json:"tier,omitempty"`

	// IsTargetPlatform marks pages whose CMS is in the scan's platform set;
	// only those continue past detection.
	IsTargetPlatform bool `json:"is_target_platform"`
}

// FinalAdCount is the count used for tiering and export thresholds: the
// exact count when the fetch succeeded, else the search-phase count.
func (p *AdvertiserPage) FinalAdCount() int {
	if p.AdsActiveTotal >= 0 {
		return p.AdsActiveTotal
	}
	return p.AdsFoundSearch
}
