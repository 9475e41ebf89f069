package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-scout/internal/adarchive"
	"github.com/ad-scout/internal/aggregate"
	"github.com/ad-scout/internal/classifier"
	"github.com/ad-scout/internal/cmsdetect"
	"github.com/ad-scout/internal/models"
	"github.com/ad-scout/internal/types"
)

var fixedNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

type fakeArchive struct {
	searchResults map[string][]models.RawAd
	searchErrs    map[string]error
	fetchResults  map[string]adarchive.PageAds
	searchCalls   []string
	fetchedIDs    []string
}

func (f *fakeArchive) SearchByKeyword(ctx context.Context, keyword string, countries, languages []string) ([]models.RawAd, error) {
	f.searchCalls = append(f.searchCalls, keyword)
	if err, ok := f.searchErrs[keyword]; ok {
		return nil, err
	}
	return f.searchResults[keyword], nil
}

func (f *fakeArchive) FetchAdsForPages(ctx context.Context, pageIDs []string, countries, languages []string) map[string]adarchive.PageAds {
	f.fetchedIDs = pageIDs
	results := make(map[string]adarchive.PageAds, len(pageIDs))
	for _, id := range pageIDs {
		if r, ok := f.fetchResults[id]; ok {
			results[id] = r
		} else {
			results[id] = adarchive.PageAds{Count: -1}
		}
	}
	return results
}

type fakeDetector struct {
	mu       sync.Mutex
	detected []string
	result   cmsdetect.Detection
	results  map[string]cmsdetect.Detection // per-URL overrides
}

func (f *fakeDetector) Detect(ctx context.Context, siteURL string) cmsdetect.Detection {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detected = append(f.detected, siteURL)
	if r, ok := f.results[siteURL]; ok {
		return r
	}
	return f.result
}

func shopifyDetector() *fakeDetector {
	return &fakeDetector{result: cmsdetect.Detection{Platform: types.PlatformShopify, Confidence: 90}}
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	analyzed []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, siteURL string, platform types.Platform, confidence int, countryCode string) *models.SiteProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, siteURL)
	count := 42
	return &models.SiteProfile{
		URL:          siteURL,
		Platform:     platform,
		Confidence:   confidence,
		ProductCount: &count,
		Currency:     "EUR",
		Title:        "storefront",
		AnalyzedAt:   fixedNow,
	}
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]models.ScanCacheEntry
	puts    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]models.ScanCacheEntry)}
}

func (m *memoryCache) Get(ctx context.Context, pageIDs []string) (map[string]models.ScanCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := make(map[string]models.ScanCacheEntry)
	for _, id := range pageIDs {
		if entry, ok := m.entries[id]; ok {
			found[id] = entry
		}
	}
	return found, nil
}

func (m *memoryCache) Put(ctx context.Context, entry models.ScanCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.PageID] = entry
	m.puts++
	return nil
}

type fakeSink struct {
	pages   []*models.AdvertiserPage
	winning []models.WinningAdRecord
	err     error
}

func (f *fakeSink) SaveResults(ctx context.Context, pages []*models.AdvertiserPage, profiles map[string]*models.SiteProfile,
	winning []models.WinningAdRecord, countries, languages []string) (int, int, error) {
	if f.err != nil {
		return 0, 0, f.err
	}
	f.pages = pages
	f.winning = winning
	return len(pages), 0, nil
}

type stubClassifier struct {
	categories map[string]classifier.Result
}

func (s stubClassifier) ClassifyBatch(ctx context.Context, sites []classifier.Site) (map[string]classifier.Result, error) {
	return s.categories, nil
}

func testConfig() *Config {
	return &Config{
		Countries:      []string{"FR"},
		Languages:      []string{"fr"},
		MinAdsInitial:  1,
		MinAdsTracking: 3,
		MinAdsExport:   10,
		Workers:        2,
		Freshness:      24 * time.Hour,
	}
}

func searchAd(id, pageID, domain string, reach int64, ageDays int) models.RawAd {
	return models.RawAd{
		ID:                     id,
		PageID:                 pageID,
		PageName:               "page-" + pageID,
		AdCreationTime:         fixedNow.AddDate(0, 0, -ageDays).Format("2006-01-02"),
		AdCreativeLinkCaptions: []string{domain},
		EUTotalReach:           reach,
		Currency:               "EUR",
	}
}

func TestRunFullPipeline(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {
				searchAd("a1", "111", "maisonlumi.com", 30_000, 3),
				searchAd("a2", "111", "maisonlumi.com", 500, 3),
				searchAd("a3", "222", "atelier-nord.fr", 100, 40),
			},
		},
		fetchResults: map[string]adarchive.PageAds{
			"111": {Count: 12, Ads: []models.RawAd{
				searchAd("a1", "111", "maisonlumi.com", 30_000, 3),
				searchAd("a9", "111", "maisonlumi.com", 250_000, 10),
			}},
			"222": {Count: 1},
		},
	}
	detector := shopifyDetector()
	analyzer := &fakeAnalyzer{}
	cache := newMemoryCache()
	sink := &fakeSink{}

	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(detector),
		WithAnalyzer(analyzer),
		WithScanCache(cache),
		WithSink(sink),
		withClock(func() time.Time { return fixedNow }),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	assert.Equal(t, types.ScanCompleted, report.Status)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.AdsFound)
	assert.Equal(t, 2, report.PagesFound)
	// page 222 has exact count 1, below the tracking threshold of 3
	assert.Equal(t, 1, report.PagesTracked)
	assert.Len(t, report.Phases, 8)

	require.Len(t, report.Pages, 1)
	page := report.Pages[0]
	assert.Equal(t, "111", page.PageID)
	assert.Equal(t, 12, page.FinalAdCount())
	assert.Equal(t, types.TierM, page.Tier)
	assert.Equal(t, types.PlatformShopify, page.CMS)
	assert.True(t, page.IsTargetPlatform)

	// winning ads come from the exact-count fetch: a1 (3d/30k) and a9 (15d/250k)
	assert.Equal(t, 2, report.WinningAds)
	assert.Equal(t, map[string]int{"4d/15k": 1, "15d/100k": 1}, report.WinningDistribution)

	// the analysis used the resolved website and cached its outcome
	assert.Equal(t, []string{"https://maisonlumi.com"}, analyzer.analyzed)
	assert.Equal(t, 1, cache.puts)
	entry := cache.entries["111"]
	assert.Equal(t, "https://maisonlumi.com", entry.WebsiteURL)
	assert.Equal(t, types.PlatformShopify, entry.CMS)
	require.NotNil(t, entry.ProductCount)
	assert.Equal(t, 42, *entry.ProductCount)

	assert.Equal(t, 1, report.Written)
	require.Len(t, sink.pages, 1)
}

func TestRunNoResults(t *testing.T) {
	archive := &fakeArchive{searchResults: map[string][]models.RawAd{}}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil))

	report := p.Run(context.Background(), []string{"bijoux"})

	assert.Equal(t, types.ScanNoResults, report.Status)
	assert.Len(t, report.Phases, 1)
	assert.Zero(t, report.PagesFound)
}

func TestRunAllKeywordsFailed(t *testing.T) {
	archive := &fakeArchive{
		searchErrs: map[string]error{
			"bijoux":  fmt.Errorf("api down"),
			"montres": fmt.Errorf("api down"),
		},
	}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil))

	report := p.Run(context.Background(), []string{"bijoux", "montres"})

	assert.Equal(t, types.ScanFailed, report.Status)
	assert.Equal(t, 2, report.FailedKeywords)
}

func TestRunPartialKeywordFailure(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {searchAd("a1", "111", "maisonlumi.com", 100, 3)},
		},
		searchErrs: map[string]error{"montres": fmt.Errorf("api down")},
		fetchResults: map[string]adarchive.PageAds{
			"111": {Count: 5},
		},
	}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil), WithDetector(shopifyDetector()))

	report := p.Run(context.Background(), []string{"bijoux", "montres"})

	assert.Equal(t, types.ScanCompleted, report.Status)
	assert.Equal(t, 1, report.FailedKeywords)
	assert.Equal(t, 1, report.PagesTracked)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	archive := &fakeArchive{}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil))

	report := p.Run(ctx, []string{"bijoux"})
	assert.Equal(t, types.ScanCancelled, report.Status)
}

func TestRunReusesCachedWebsiteAndCMS(t *testing.T) {
	// the ad carries no usable domain, the cache knows the site already
	ad := searchAd("a1", "111", "Shop now!", 100, 3)

	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{"bijoux": {ad}},
		fetchResults:  map[string]adarchive.PageAds{"111": {Count: 8}},
	}
	detector := &fakeDetector{result: cmsdetect.Detection{Platform: types.PlatformUnknown}}
	analyzer := &fakeAnalyzer{}
	cache := newMemoryCache()
	cache.entries["111"] = models.ScanCacheEntry{
		PageID:        "111",
		WebsiteURL:    "https://maisonlumi.com",
		CMS:           types.PlatformShopify,
		CMSConfidence: 90,
		ScannedAt:     fixedNow.Add(-48 * time.Hour), // stale, but URL and CMS reuse has no age limit
	}

	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(detector),
		WithAnalyzer(analyzer),
		WithScanCache(cache),
		withClock(func() time.Time { return fixedNow }),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	require.Len(t, report.Pages, 1)
	page := report.Pages[0]
	assert.Equal(t, "https://maisonlumi.com", page.WebsiteURL)
	assert.Equal(t, types.PlatformShopify, page.CMS)
	assert.Empty(t, detector.detected, "known CMS must not be re-detected")
	// the stale entry is incomplete, so the site is still analyzed
	assert.Len(t, analyzer.analyzed, 1)
}

func TestRunDropsNonTargetPlatformPages(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {
				searchAd("a1", "111", "maisonlumi.com", 100, 3),
				searchAd("a2", "222", "atelier-nord.fr", 100, 3),
			},
		},
		fetchResults: map[string]adarchive.PageAds{
			"111": {Count: 8},
			"222": {Count: 8},
		},
	}
	detector := shopifyDetector()
	detector.results = map[string]cmsdetect.Detection{
		"https://atelier-nord.fr": {Platform: types.PlatformUnknown},
	}
	sink := &fakeSink{}

	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(detector),
		WithSink(sink),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	// only the Shopify page reaches exact counting and the sink
	assert.Equal(t, []string{"111"}, archive.fetchedIDs)
	require.Len(t, report.Pages, 1)
	assert.Equal(t, "111", report.Pages[0].PageID)
	assert.True(t, report.Pages[0].IsTargetPlatform)
	require.Len(t, sink.pages, 1)
}

func TestRunNoTargetPlatformsShortCircuits(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {searchAd("a1", "111", "maisonlumi.com", 100, 3)},
		},
		fetchResults: map[string]adarchive.PageAds{"111": {Count: 8}},
	}
	detector := &fakeDetector{result: cmsdetect.Detection{Platform: types.PlatformUnknown}}
	sink := &fakeSink{}

	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(detector),
		WithSink(sink),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	assert.Equal(t, types.ScanNoResults, report.Status)
	assert.Len(t, report.Phases, 4)
	assert.Empty(t, archive.fetchedIDs)
	assert.Empty(t, report.Pages)
	assert.Nil(t, sink.pages)
}

func TestRunReusesFreshCompleteAnalysis(t *testing.T) {
	ad := searchAd("a1", "111", "maisonlumi.com", 100, 3)
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{"bijoux": {ad}},
		fetchResults:  map[string]adarchive.PageAds{"111": {Count: 8}},
	}
	analyzer := &fakeAnalyzer{}
	cache := newMemoryCache()
	count := 17
	cache.entries["111"] = models.ScanCacheEntry{
		PageID:        "111",
		WebsiteURL:    "https://maisonlumi.com",
		CMS:           types.PlatformShopify,
		CMSConfidence: 90,
		ProductCount:  &count,
		Category:      "jewelry",
		ScannedAt:     fixedNow.Add(-1 * time.Hour),
	}

	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithAnalyzer(analyzer),
		WithScanCache(cache),
		withClock(func() time.Time { return fixedNow }),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	assert.Empty(t, analyzer.analyzed, "fresh complete analysis must be reused")
	profile := report.Profiles["111"]
	require.NotNil(t, profile)
	require.NotNil(t, profile.ProductCount)
	assert.Equal(t, 17, *profile.ProductCount)
	assert.Equal(t, "jewelry", profile.Category)
}

func TestRunFailedFetchFallsBackToSearchCount(t *testing.T) {
	ads := []models.RawAd{
		searchAd("a1", "111", "maisonlumi.com", 100, 3),
		searchAd("a2", "111", "maisonlumi.com", 100, 3),
		searchAd("a3", "111", "maisonlumi.com", 100, 3),
	}
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{"bijoux": ads},
		// no fetch result for 111: the fetch failed, count -1
	}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(shopifyDetector()),
		withClock(func() time.Time { return fixedNow }),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	require.Len(t, report.Pages, 1)
	page := report.Pages[0]
	assert.Equal(t, -1, page.AdsActiveTotal)
	assert.Equal(t, 3, page.FinalAdCount(), "search count is the fallback")
	assert.Equal(t, 1, report.PagesTracked)
}

func TestRunSinkFailureMarksRunFailed(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {searchAd("a1", "111", "maisonlumi.com", 100, 3)},
		},
		fetchResults: map[string]adarchive.PageAds{"111": {Count: 5}},
	}
	sink := &fakeSink{err: fmt.Errorf("backend down")}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(shopifyDetector()),
		WithSink(sink),
	)

	report := p.Run(context.Background(), []string{"bijoux"})
	assert.Equal(t, types.ScanFailed, report.Status)
}

func TestRunClassifiesProfiles(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {searchAd("a1", "111", "maisonlumi.com", 100, 3)},
		},
		fetchResults: map[string]adarchive.PageAds{"111": {Count: 8}},
	}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil),
		WithDetector(shopifyDetector()),
		WithAnalyzer(&fakeAnalyzer{}),
		WithClassifier(stubClassifier{categories: map[string]classifier.Result{
			"111": {Category: "jewelry", Subcategory: "handmade"},
		}}),
	)

	report := p.Run(context.Background(), []string{"bijoux"})

	profile := report.Profiles["111"]
	require.NotNil(t, profile)
	assert.Equal(t, "jewelry", profile.Category)
	assert.Equal(t, "handmade", profile.Subcategory)
}

func TestRunExportThreshold(t *testing.T) {
	archive := &fakeArchive{
		searchResults: map[string][]models.RawAd{
			"bijoux": {
				searchAd("a1", "111", "maisonlumi.com", 100, 3),
				searchAd("a2", "222", "atelier-nord.fr", 100, 3),
			},
		},
		fetchResults: map[string]adarchive.PageAds{
			"111": {Count: 25},
			"222": {Count: 5},
		},
	}
	p := New(testConfig(), archive, aggregate.NewAggregator(nil), WithDetector(shopifyDetector()))

	report := p.Run(context.Background(), []string{"bijoux"})

	assert.Equal(t, 2, report.PagesTracked)
	assert.Equal(t, 1, report.PagesExport)
}
