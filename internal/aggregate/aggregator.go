// Package aggregate groups raw ads into advertiser pages: cross-keyword
// dedup, blacklist filtering, and website/currency resolution from the ad
// creatives.
package aggregate

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
)

// domainPattern matches bare domains inside link captions and titles
var domainPattern = regexp.MustCompile(`(?:https?://)?(?:www\.)?([a-z0-9-]+(?:\.[a-z0-9-]+)*\.[a-z]{2,})`)

// excludedDomains never count as an advertiser's own storefront
var excludedDomains = []string{"facebook.com", "instagram.com", "fb.me"}

// Aggregator builds per-page aggregates from a raw ad stream
type Aggregator struct {
	blacklist *Blacklist
}

// NewAggregator creates an aggregator. A nil blacklist means no filtering.
func NewAggregator(blacklist *Blacklist) *Aggregator {
	if blacklist == nil {
		blacklist = NewBlacklist()
	}
	return &Aggregator{blacklist: blacklist}
}

// Result holds the aggregation output
type Result struct {
	Pages      map[string]*models.AdvertiserPage
	PageAds    map[string][]models.RawAd // surviving ads grouped by page
	Duplicates int
	Blocked    int // ads dropped by the blacklist
}

// Aggregate folds ads into pages. Duplicate ad ids are counted once; ads
// without a page id are dropped; blacklisted pages never appear in the
// output.
func (a *Aggregator) Aggregate(ctx context.Context, ads []models.RawAd) *Result {
	logger := logging.FromContext(ctx)

	result := &Result{
		Pages:   make(map[string]*models.AdvertiserPage),
		PageAds: make(map[string][]models.RawAd),
	}

	seenAds := make(map[string]struct{}, len(ads))
	keywords := make(map[string]map[string]struct{})
	names := make(map[string]map[string]int)

	for _, ad := range ads {
		if ad.PageID == "" {
			continue
		}
		deduped := false
		if ad.ID != "" {
			if _, dup := seenAds[ad.ID]; dup {
				result.Duplicates++
				continue
			}
			seenAds[ad.ID] = struct{}{}
			deduped = true
		}
		if a.blacklist.Contains(ad.PageID, ad.PageName) {
			result.Blocked++
			continue
		}

		page, ok := result.Pages[ad.PageID]
		if !ok {
			page = &models.AdvertiserPage{PageID: ad.PageID}
			result.Pages[ad.PageID] = page
			keywords[ad.PageID] = make(map[string]struct{})
			names[ad.PageID] = make(map[string]int)
		}
		if ad.PageName != "" {
			names[ad.PageID][ad.PageName]++
		}
		// only ads that entered the dedup set count toward the search total
		if deduped {
			page.AdsFoundSearch++
		}
		if ad.Keyword != "" {
			keywords[ad.PageID][ad.Keyword] = struct{}{}
		}
		result.PageAds[ad.PageID] = append(result.PageAds[ad.PageID], ad)
	}

	for pageID, page := range result.Pages {
		page.PageName = mostFrequent(names[pageID])
		page.Keywords = sortedKeys(keywords[pageID])
		page.WebsiteURL = ResolveWebsite(result.PageAds[pageID])
		page.Currency = ResolveCurrency(result.PageAds[pageID])
	}

	logger.WithFields(map[string]interface{}{
		"ads":        len(ads),
		"pages":      len(result.Pages),
		"duplicates": result.Duplicates,
		"blocked":    result.Blocked,
	}).Info("aggregated ads into pages")

	return result
}

// FilterMinAds drops pages below the minimum search-phase ad count
func FilterMinAds(pages map[string]*models.AdvertiserPage, minAds int) map[string]*models.AdvertiserPage {
	out := make(map[string]*models.AdvertiserPage, len(pages))
	for id, page := range pages {
		if page.AdsFoundSearch >= minAds {
			out[id] = page
		}
	}
	return out
}

// ResolveWebsite picks the advertiser's storefront domain: the most frequent
// domain across link captions and titles, social platforms excluded,
// normalized to https.
func ResolveWebsite(ads []models.RawAd) string {
	counts := make(map[string]int)

	for _, ad := range ads {
		for _, field := range [][]string{ad.AdCreativeLinkCaptions, ad.AdCreativeLinkTitles} {
			for _, value := range field {
				value = strings.ToLower(strings.TrimSpace(value))
				if value == "" {
					continue
				}
				for _, match := range domainPattern.FindAllStringSubmatch(value, -1) {
					domain := strings.Trim(strings.TrimPrefix(match[1], "www."), "/")
					if len(domain) <= 4 || !strings.Contains(domain, ".") {
						continue
					}
					if isExcludedDomain(domain) {
						continue
					}
					counts[domain]++
				}
			}
		}
	}

	best := mostFrequent(counts)
	if best == "" {
		return ""
	}
	return "https://" + best
}

// ResolveCurrency picks the most frequent non-empty ad currency
func ResolveCurrency(ads []models.RawAd) string {
	counts := make(map[string]int)
	for _, ad := range ads {
		currency := strings.ToUpper(strings.TrimSpace(ad.Currency))
		if currency != "" {
			counts[currency]++
		}
	}

	return mostFrequent(counts)
}

// mostFrequent picks the highest-count value with a deterministic tie-break
// on the value itself
func mostFrequent(counts map[string]int) string {
	best := ""
	bestCount := 0
	for value, count := range counts {
		if count > bestCount || (count == bestCount && (best == "" || value < best)) {
			best, bestCount = value, count
		}
	}
	return best
}

func isExcludedDomain(domain string) bool {
	for _, excluded := range excludedDomains {
		if strings.Contains(domain, excluded) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
