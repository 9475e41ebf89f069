package models

// WinningAdRecord is an ad that cleared one of the age/reach criteria,
// ready for persistence or export.
type WinningAdRecord struct {
	AdID           string `json:"ad_id"`
	PageID         string `json:"page_id"`
	PageName       string `json:"page_name"`
	AdCreationTime string `json:"ad_creation_time"`
	Reach          int64  `json:"reach"`
	AgeDays        int    `json:"age_days"`

	// CriterionLabel names the matched criterion, e.g. "4d/15k".
	CriterionLabel string `json:"criterion"`

	SnapshotURL string `json:"snapshot_url,omitempty"`
	WebsiteURL  string `json:"website_url,omitempty"`
}
