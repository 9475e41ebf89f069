// Package winning flags ads whose audience reach is exceptional for their
// age. An ad wins when any age/reach criterion admits it: the younger the
// ad, the lower the reach bar.
package winning

import (
	"fmt"
	"sort"
	"time"

	"github.com/ad-scout/internal/models"
)

// Criterion admits ads at most MaxAgeDays old with at least MinReach
// accounts reached
type Criterion struct {
	MaxAgeDays int
	MinReach   int64
}

// Label renders a criterion as e.g. "4d/15k"
func (c Criterion) Label() string {
	return fmt.Sprintf("%dd/%dk", c.MaxAgeDays, c.MinReach/1000)
}

// DefaultCriteria is ordered from youngest to oldest; the first admitting
// criterion labels the ad
var DefaultCriteria = []Criterion{
	{MaxAgeDays: 4, MinReach: 15_000},
	{MaxAgeDays: 5, MinReach: 20_000},
	{MaxAgeDays: 6, MinReach: 30_000},
	{MaxAgeDays: 7, MinReach: 40_000},
	{MaxAgeDays: 8, MinReach: 50_000},
	{MaxAgeDays: 15, MinReach: 100_000},
	{MaxAgeDays: 22, MinReach: 200_000},
	{MaxAgeDays: 29, MinReach: 400_000},
}

// Matcher evaluates ads against a criteria table
type Matcher struct {
	criteria []Criterion
}

// NewMatcher creates a matcher; nil criteria means DefaultCriteria
func NewMatcher(criteria []Criterion) *Matcher {
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}
	sorted := make([]Criterion, len(criteria))
	copy(sorted, criteria)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaxAgeDays < sorted[j].MaxAgeDays })
	return &Matcher{criteria: sorted}
}

// Match returns the first criterion admitting the ad at the given time.
// Ads with unknown creation time, unknown or zero reach, or a creation
// time in the future never win.
func (m *Matcher) Match(ad models.RawAd, now time.Time) (Criterion, bool) {
	age := ad.AgeDays(now)
	if age < 0 {
		return Criterion{}, false
	}
	if ad.EUTotalReach <= 0 {
		return Criterion{}, false
	}
	for _, c := range m.criteria {
		if age <= c.MaxAgeDays && ad.EUTotalReach >= c.MinReach {
			return c, true
		}
	}
	return Criterion{}, false
}

// Result is the winning-ad outcome for one page's ads
type Result struct {
	Records      []models.WinningAdRecord
	Distribution map[string]int // criterion label -> count
}

// Detect evaluates a page's ads and returns records for the winners along
// with a per-criterion distribution
func (m *Matcher) Detect(page *models.AdvertiserPage, ads []models.RawAd, now time.Time) Result {
	result := Result{Distribution: make(map[string]int)}

	for _, ad := range ads {
		criterion, ok := m.Match(ad, now)
		if !ok {
			continue
		}
		label := criterion.Label()
		result.Distribution[label]++
		result.Records = append(result.Records, models.WinningAdRecord{
			AdID:           ad.ID,
			PageID:         page.PageID,
			PageName:       page.PageName,
			AdCreationTime: ad.AdCreationTime,
			Reach:          ad.EUTotalReach,
			AgeDays:        ad.AgeDays(now),
			CriterionLabel: label,
			SnapshotURL:    ad.AdSnapshotURL,
			WebsiteURL:     page.WebsiteURL,
		})
	}
	return result
}
