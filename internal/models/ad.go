// Package models defines the domain entities flowing through the pipeline:
// raw ads from the archive API, aggregated advertiser pages, site profiles
// and winning-ad records.
package models

import "time"

// adCreationLayout is the date format the archive API uses for ad_creation_time
const adCreationLayout = "2006-01-02"

// BeneficiaryPayer identifies who pays for and who benefits from an ad
type BeneficiaryPayer struct {
	Beneficiary string `json:"beneficiary,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

// RawAd is a single ad as returned by the archive API
type RawAd struct {
	ID                     string             `json:"id"`
	PageID                 string             `json:"page_id"`
	PageName               string             `json:"page_name"`
	AdCreationTime         string             `json:"ad_creation_time,omitempty"`
	AdCreativeBodies       []string           `json:"ad_creative_bodies,omitempty"`
	AdCreativeLinkCaptions []string           `json:"ad_creative_link_captions,omitempty"`
	AdCreativeLinkTitles   []string           `json:"ad_creative_link_titles,omitempty"`
	AdSnapshotURL          string             `json:"ad_snapshot_url,omitempty"`
	EUTotalReach           int64              `json:"eu_total_reach,omitempty"`
	Languages              []string           `json:"languages,omitempty"`
	PublisherPlatforms     []string           `json:"publisher_platforms,omitempty"`
	TargetAges             []string           `json:"target_ages,omitempty"`
	TargetGender           string             `json:"target_gender,omitempty"`
	BeneficiaryPayers      []BeneficiaryPayer `json:"beneficiary_payers,omitempty"`
	Currency               string             `json:"currency,omitempty"`

	// Keyword records which search term surfaced this ad. Set by the
	// pipeline, never returned by the API.
	Keyword string `json:"-"`
}

// CreatedAt parses the ad creation date. The second return is false when the
// field is missing or malformed.
func (a *RawAd) CreatedAt() (time.Time, bool) {
	if a.AdCreationTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(adCreationLayout, a.AdCreationTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// AgeDays returns the ad age in whole days relative to now.
// Returns -1 when the creation time is unknown.
func (a *RawAd) AgeDays(now time.Time) int {
	created, ok := a.CreatedAt()
	if !ok {
		return -1
	}
	return int(now.Sub(created).Hours() / 24)
}
