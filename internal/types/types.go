// Package types provides common type definitions for the ad discovery pipeline.
package types

// ScanStatus represents the terminal outcome of a pipeline run
type ScanStatus string

const (
	// ScanCompleted represents a run that finished all phases
	ScanCompleted ScanStatus = "completed"
	// ScanNoResults represents a run where no ads or pages survived the
	// early phases
	ScanNoResults ScanStatus = "no_results"
	// ScanFailed represents a run aborted by an unrecoverable error
	ScanFailed ScanStatus = "failed"
	// ScanCancelled represents a run stopped by caller cancellation
	ScanCancelled ScanStatus = "cancelled"
)

// StateTier buckets an advertiser page by its active ad volume
type StateTier string

const (
	TierXXL StateTier = "XXL"
	TierXL  StateTier = "XL"
	TierL   StateTier = "L"
	TierM   StateTier = "M"
	TierS   StateTier = "S"
	TierXS  StateTier = "XS"
)

// TierFromAdCount maps a final ad count to its tier.
// Counts of -1 (fetch failed) fall through to XS like any low count.
func TierFromAdCount(count int) StateTier {
	switch {
	case count >= 50:
		return TierXXL
	case count >= 30:
		return TierXL
	case count >= 20:
		return TierL
	case count >= 10:
		return TierM
	case count >= 5:
		return TierS
	default:
		return TierXS
	}
}

// Platform identifies a detected e-commerce platform
type Platform string

const (
	// PlatformShopify is the primary platform the detector scores for
	PlatformShopify Platform = "Shopify"
	// PlatformUnknown means no platform signal was found (or the fetch failed)
	PlatformUnknown Platform = "Unknown"
)

// Known reports whether the platform value carries information.
// Both the empty string and Unknown count as unknown.
func (p Platform) Known() bool {
	return p != "" && p != PlatformUnknown
}
