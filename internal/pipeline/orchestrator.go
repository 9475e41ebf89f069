// Package pipeline orchestrates a scan run: keyword search against the ad
// archive, page aggregation, website and platform discovery, exact ad
// counting, site analysis with niche classification, winning-ad detection
// and the final save. Phases hand page sets to each other; a page dropped
// by a threshold never reaches the later, more expensive phases.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ad-scout/internal/adarchive"
	"github.com/ad-scout/internal/aggregate"
	"github.com/ad-scout/internal/classifier"
	"github.com/ad-scout/internal/cmsdetect"
	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
	"github.com/ad-scout/internal/storage"
	"github.com/ad-scout/internal/types"
	"github.com/ad-scout/internal/winning"
)

// ArchiveClient is the ad-archive API surface the pipeline needs
type ArchiveClient interface {
	SearchByKeyword(ctx context.Context, keyword string, countries, languages []string) ([]models.RawAd, error)
	FetchAdsForPages(ctx context.Context, pageIDs []string, countries, languages []string) map[string]adarchive.PageAds
}

// PlatformDetector identifies the e-commerce platform behind a URL
type PlatformDetector interface {
	Detect(ctx context.Context, siteURL string) cmsdetect.Detection
}

// SiteAnalyzer builds a full site profile for a storefront
type SiteAnalyzer interface {
	Analyze(ctx context.Context, siteURL string, platform types.Platform, confidence int, countryCode string) *models.SiteProfile
}

// RotationCounter exposes how often credentials were rotated during a run
type RotationCounter interface {
	Rotations() int
}

// Config tunes a pipeline run
type Config struct {
	Countries []string
	Languages []string

	// Platforms is the CMS set a page must match to survive detection.
	// Empty means Shopify only.
	Platforms []types.Platform

	MinAdsInitial  int // pages below this after search are dropped
	MinAdsTracking int // pages below this after exact counting are dropped
	MinAdsExport   int // marks pages worth exporting, reported only

	Workers      int           // fan-out for CMS detection and site analysis
	KeywordDelay time.Duration // pause between keyword searches
	Freshness    time.Duration // cache age limit for reusing full analyses
}

// Pipeline wires the scan phases together
type Pipeline struct {
	cfg        *Config
	client     ArchiveClient
	aggregator *aggregate.Aggregator
	detector   PlatformDetector
	analyzer   SiteAnalyzer
	matcher    *winning.Matcher
	classifier classifier.Classifier
	cache      storage.ScanCache
	sink       storage.ResultSink
	progress   ProgressReporter
	rotations  RotationCounter

	now func() time.Time
}

// New creates a pipeline. Detector, analyzer, classifier, cache, sink and
// progress may be nil; sensible no-ops take their place.
func New(cfg *Config, client ArchiveClient, aggregator *aggregate.Aggregator, opts ...Option) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Freshness <= 0 {
		cfg.Freshness = 24 * time.Hour
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = []types.Platform{types.PlatformShopify}
	}
	p := &Pipeline{
		cfg:        cfg,
		client:     client,
		aggregator: aggregator,
		matcher:    winning.NewMatcher(nil),
		classifier: classifier.Noop{},
		cache:      storage.NoopScanCache{},
		progress:   NoopProgress{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Option configures optional pipeline collaborators
type Option func(*Pipeline)

// WithDetector sets the platform detector
func WithDetector(d PlatformDetector) Option { return func(p *Pipeline) { p.detector = d } }

// WithAnalyzer sets the site analyzer
func WithAnalyzer(a SiteAnalyzer) Option { return func(p *Pipeline) { p.analyzer = a } }

// WithMatcher overrides the winning-ad criteria
func WithMatcher(m *winning.Matcher) Option { return func(p *Pipeline) { p.matcher = m } }

// WithClassifier sets the niche classifier
func WithClassifier(c classifier.Classifier) Option { return func(p *Pipeline) { p.classifier = c } }

// WithScanCache sets the cross-run scan cache
func WithScanCache(c storage.ScanCache) Option { return func(p *Pipeline) { p.cache = c } }

// WithSink sets the result sink
func WithSink(s storage.ResultSink) Option { return func(p *Pipeline) { p.sink = s } }

// WithProgress sets the progress reporter
func WithProgress(r ProgressReporter) Option { return func(p *Pipeline) { p.progress = r } }

// WithRotationCounter wires the credential pool's rotation count into the report
func WithRotationCounter(r RotationCounter) Option { return func(p *Pipeline) { p.rotations = r } }

// withClock fixes the clock, used by tests
func withClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// Report is the outcome of one scan run
type Report struct {
	RunID    string           `json:"run_id"`
	Status   types.ScanStatus `json:"status"`
	Keywords []string         `json:"keywords"`

	AdsFound       int `json:"ads_found"`
	PagesFound     int `json:"pages_found"`
	PagesTracked   int `json:"pages_tracked"`
	PagesExport    int `json:"pages_export"`
	FailedKeywords int `json:"failed_keywords"`
	WinningAds     int `json:"winning_ads"`
	TokenRotations int `json:"token_rotations"`

	Written int `json:"written"`
	Updated int `json:"updated"`

	Phases   []PhaseReport `json:"phases"`
	Duration time.Duration `json:"duration"`

	Pages    []*models.AdvertiserPage       `json:"-"`
	Profiles map[string]*models.SiteProfile `json:"-"`
	Winning  []models.WinningAdRecord       `json:"-"`

	// WinningDistribution counts winners per criterion label
	WinningDistribution map[string]int `json:"winning_distribution,omitempty"`
}

// Run executes all phases for the given keywords
func (p *Pipeline) Run(ctx context.Context, keywords []string) *Report {
	logger := logging.FromContext(ctx)
	start := p.now()

	report := &Report{
		RunID:    uuid.New().String(),
		Status:   types.ScanCompleted,
		Keywords: keywords,
		Profiles: make(map[string]*models.SiteProfile),
	}
	defer func() { report.Duration = p.now().Sub(start) }()

	logger = logger.WithField("run_id", report.RunID)
	ctx = logging.WithLogger(ctx, logger)

	// phase 1: keyword search
	ads, failed := p.runSearch(ctx, report, keywords)
	report.AdsFound = len(ads)
	report.FailedKeywords = failed
	if p.finishRotations(report); ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}
	if len(ads) == 0 {
		if failed == len(keywords) && failed > 0 {
			report.Status = types.ScanFailed
		} else {
			report.Status = types.ScanNoResults
		}
		return report
	}

	// phase 2: aggregation and the initial threshold
	pages, pageAds := p.runAggregate(ctx, report, ads)
	report.PagesFound = len(pages)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}
	if len(pages) == 0 {
		report.Status = types.ScanNoResults
		return report
	}

	cached := p.loadCache(ctx, pages)

	// phase 3: website extraction, cache-first
	p.runWebsites(ctx, report, pages, cached)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}

	// phase 4: platform detection and the target-platform filter
	pages = p.runDetection(ctx, report, pages, cached)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}
	if len(pages) == 0 {
		report.Status = types.ScanNoResults
		return report
	}

	// phase 5: exact ad counts and the tracking threshold
	pages, fetched := p.runCounting(ctx, report, pages, pageAds)
	report.PagesTracked = len(pages)
	p.finishRotations(report)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}
	if len(pages) == 0 {
		report.Status = types.ScanNoResults
		return report
	}

	// phase 6: site analysis and niche classification
	p.runAnalysis(ctx, report, pages, cached)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}

	// phase 7: winning ads
	p.runWinning(ctx, report, pages, fetched, pageAds)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
		return report
	}

	// phase 8: tiers, cache write-back, save
	p.runSave(ctx, report, pages)
	if ctx.Err() != nil {
		report.Status = types.ScanCancelled
	}
	return report
}

func (p *Pipeline) runSearch(ctx context.Context, report *Report, keywords []string) ([]models.RawAd, int) {
	logger := logging.FromContext(ctx)
	phase := p.startPhase(report, 1, "keyword_search", len(keywords))

	var ads []models.RawAd
	failed := 0
	for i, keyword := range keywords {
		if ctx.Err() != nil {
			break
		}
		found, err := p.client.SearchByKeyword(ctx, keyword, p.cfg.Countries, p.cfg.Languages)
		if err != nil {
			logger.WithError(err).WithField("keyword", keyword).Warn("keyword search failed")
			failed++
		} else {
			ads = append(ads, found...)
		}
		if i < len(keywords)-1 && p.cfg.KeywordDelay > 0 {
			if !sleepOrDone(ctx, p.cfg.KeywordDelay) {
				break
			}
		}
	}

	p.endPhase(report, phase, len(ads))
	return ads, failed
}

func (p *Pipeline) runAggregate(ctx context.Context, report *Report, ads []models.RawAd) (map[string]*models.AdvertiserPage, map[string][]models.RawAd) {
	phase := p.startPhase(report, 2, "aggregate", len(ads))

	result := p.aggregator.Aggregate(ctx, ads)
	pages := aggregate.FilterMinAds(result.Pages, p.cfg.MinAdsInitial)

	p.endPhase(report, phase, len(pages))
	return pages, result.PageAds
}

func (p *Pipeline) loadCache(ctx context.Context, pages map[string]*models.AdvertiserPage) map[string]models.ScanCacheEntry {
	logger := logging.FromContext(ctx)

	entries, err := p.cache.Get(ctx, sortedPageIDs(pages))
	if err != nil {
		logger.WithError(err).Warn("scan cache unavailable, proceeding without it")
		return map[string]models.ScanCacheEntry{}
	}
	return entries
}

// runWebsites fills missing website URLs from the cache. The URL from ads
// was already resolved during aggregation; a cached URL is reused at any age.
func (p *Pipeline) runWebsites(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage, cached map[string]models.ScanCacheEntry) {
	phase := p.startPhase(report, 3, "website_extraction", len(pages))

	withSite := 0
	for id, page := range pages {
		if page.WebsiteURL == "" {
			if entry, ok := cached[id]; ok && entry.HasWebsite() {
				page.WebsiteURL = entry.WebsiteURL
			}
		}
		if page.WebsiteURL != "" {
			withSite++
		}
	}

	p.endPhase(report, phase, withSite)
}

// runDetection resolves the platform for every page with a website, then
// keeps only pages on a target platform. A cached known CMS is reused at
// any age; unknown cached results are retried.
func (p *Pipeline) runDetection(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage, cached map[string]models.ScanCacheEntry) map[string]*models.AdvertiserPage {
	phase := p.startPhase(report, 4, "cms_detection", len(pages))

	var toDetect []*models.AdvertiserPage
	for id, page := range pages {
		if page.WebsiteURL == "" {
			continue
		}
		if entry, ok := cached[id]; ok && entry.HasKnownCMS() {
			page.CMS = entry.CMS
			page.CMSConfidence = entry.CMSConfidence
			continue
		}
		toDetect = append(toDetect, page)
	}

	if p.detector != nil && len(toDetect) > 0 {
		p.forEachPage(ctx, toDetect, func(ctx context.Context, page *models.AdvertiserPage) {
			detection := p.detector.Detect(ctx, page.WebsiteURL)
			page.CMS = detection.Platform
			page.CMSConfidence = detection.Confidence
		})
	}

	kept := make(map[string]*models.AdvertiserPage, len(pages))
	for id, page := range pages {
		if !p.isTargetPlatform(page.CMS) {
			continue
		}
		page.IsTargetPlatform = true
		kept[id] = page
	}

	p.endPhase(report, phase, len(kept))
	return kept
}

func (p *Pipeline) isTargetPlatform(platform types.Platform) bool {
	for _, target := range p.cfg.Platforms {
		if platform == target {
			return true
		}
	}
	return false
}

// runCounting fetches exact active-ad counts in batches and applies the
// tracking threshold on the final count.
func (p *Pipeline) runCounting(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage, pageAds map[string][]models.RawAd) (map[string]*models.AdvertiserPage, map[string]adarchive.PageAds) {
	phase := p.startPhase(report, 5, "exact_count", len(pages))

	fetched := p.client.FetchAdsForPages(ctx, sortedPageIDs(pages), p.cfg.Countries, p.cfg.Languages)
	for id, page := range pages {
		if result, ok := fetched[id]; ok {
			page.AdsActiveTotal = result.Count
		} else {
			page.AdsActiveTotal = -1
		}
	}

	kept := make(map[string]*models.AdvertiserPage, len(pages))
	for id, page := range pages {
		if page.FinalAdCount() >= p.cfg.MinAdsTracking {
			kept[id] = page
		}
	}

	p.endPhase(report, phase, len(kept))
	return kept, fetched
}

// runAnalysis profiles each page's storefront. Fresh, complete cache
// entries are reused wholesale; everything else is analyzed and then sent
// through the niche classifier.
func (p *Pipeline) runAnalysis(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage, cached map[string]models.ScanCacheEntry) {
	logger := logging.FromContext(ctx)
	phase := p.startPhase(report, 6, "site_analysis", len(pages))

	country := ""
	if len(p.cfg.Countries) > 0 {
		country = p.cfg.Countries[0]
	}

	var mu sync.Mutex
	var toAnalyze []*models.AdvertiserPage
	now := p.now()

	for id, page := range pages {
		if page.WebsiteURL == "" {
			continue
		}
		if entry, ok := cached[id]; ok && entry.IsFresh(now, p.cfg.Freshness) && entry.IsComplete() {
			report.Profiles[id] = profileFromCache(page, entry)
			continue
		}
		toAnalyze = append(toAnalyze, page)
	}

	if p.analyzer != nil && len(toAnalyze) > 0 {
		p.forEachPage(ctx, toAnalyze, func(ctx context.Context, page *models.AdvertiserPage) {
			profile := p.analyzer.Analyze(ctx, page.WebsiteURL, page.CMS, page.CMSConfidence, country)
			mu.Lock()
			report.Profiles[page.PageID] = profile
			mu.Unlock()
		})
	}

	// site currency fills in when the ads had none
	for id, page := range pages {
		if profile, ok := report.Profiles[id]; ok && page.Currency == "" {
			page.Currency = profile.Currency
		}
	}

	p.classify(ctx, logger, report, pages)
	p.endPhase(report, phase, len(report.Profiles))
}

func (p *Pipeline) classify(ctx context.Context, logger *logging.Logger, report *Report, pages map[string]*models.AdvertiserPage) {
	var sites []classifier.Site
	for _, id := range sortedPageIDs(pages) {
		profile, ok := report.Profiles[id]
		if !ok || profile.Category != "" {
			continue
		}
		sites = append(sites, classifier.Site{
			PageID:      id,
			URL:         profile.URL,
			Title:       profile.Title,
			Description: profile.Description,
			H1:          profile.H1,
			Keywords:    profile.Keywords,
		})
	}
	if len(sites) == 0 {
		return
	}

	categories, err := p.classifier.ClassifyBatch(ctx, sites)
	if err != nil {
		logger.WithError(err).Warn("niche classification failed")
		return
	}
	for id, result := range categories {
		if profile, ok := report.Profiles[id]; ok {
			profile.Category = result.Category
			profile.Subcategory = result.Subcategory
		}
	}
}

// runWinning evaluates every tracked page's ads against the reach criteria.
// The exact-count fetch gives the freshest ads; the search-phase ads are
// the fallback when that fetch failed.
func (p *Pipeline) runWinning(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage, fetched map[string]adarchive.PageAds, pageAds map[string][]models.RawAd) {
	phase := p.startPhase(report, 7, "winning_ads", len(pages))
	now := p.now()

	report.WinningDistribution = make(map[string]int)
	for _, id := range sortedPageIDs(pages) {
		page := pages[id]

		ads := pageAds[id]
		if result, ok := fetched[id]; ok && result.Count > 0 {
			ads = result.Ads
		}

		result := p.matcher.Detect(page, ads, now)
		report.Winning = append(report.Winning, result.Records...)
		for label, count := range result.Distribution {
			report.WinningDistribution[label] += count
		}
	}

	report.WinningAds = len(report.Winning)
	p.endPhase(report, phase, report.WinningAds)
}

func (p *Pipeline) runSave(ctx context.Context, report *Report, pages map[string]*models.AdvertiserPage) {
	logger := logging.FromContext(ctx)
	phase := p.startPhase(report, 8, "save", len(pages))

	exportCount := 0
	now := p.now().UTC()
	for _, id := range sortedPageIDs(pages) {
		page := pages[id]
		page.Tier = types.TierFromAdCount(page.FinalAdCount())
		if page.FinalAdCount() >= p.cfg.MinAdsExport {
			exportCount++
		}

		entry := models.ScanCacheEntry{
			PageID:        page.PageID,
			WebsiteURL:    page.WebsiteURL,
			CMS:           page.CMS,
			CMSConfidence: page.CMSConfidence,
			ScannedAt:     now,
		}
		if profile, ok := report.Profiles[id]; ok {
			entry.ProductCount = profile.ProductCount
			entry.Category = profile.Category
			entry.Subcategory = profile.Subcategory
		}
		if err := p.cache.Put(ctx, entry); err != nil {
			logger.WithError(err).WithField("page_id", id).Warn("scan cache write failed")
		}

		report.Pages = append(report.Pages, page)
	}
	report.PagesExport = exportCount

	if p.sink != nil {
		written, updated, err := p.sink.SaveResults(ctx, report.Pages, report.Profiles, report.Winning, p.cfg.Countries, p.cfg.Languages)
		if err != nil {
			logger.WithError(err).Error("saving results failed")
			report.Status = types.ScanFailed
		} else {
			report.Written = written
			report.Updated = updated
		}
	}

	p.endPhase(report, phase, len(report.Pages))
}

// profileFromCache rebuilds a minimal profile from a reused cache entry
func profileFromCache(page *models.AdvertiserPage, entry models.ScanCacheEntry) *models.SiteProfile {
	return &models.SiteProfile{
		URL:          page.WebsiteURL,
		Platform:     entry.CMS,
		Confidence:   entry.CMSConfidence,
		ProductCount: entry.ProductCount,
		Category:     entry.Category,
		Subcategory:  entry.Subcategory,
		AnalyzedAt:   entry.ScannedAt,
	}
}

// forEachPage fans pages out over the worker pool and waits for them all
func (p *Pipeline) forEachPage(ctx context.Context, pages []*models.AdvertiserPage, fn func(ctx context.Context, page *models.AdvertiserPage)) {
	jobs := make(chan *models.AdvertiserPage)

	var wg sync.WaitGroup
	workers := p.cfg.Workers
	if workers > len(pages) {
		workers = len(pages)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range jobs {
				fn(ctx, page)
			}
		}()
	}

	for _, page := range pages {
		if ctx.Err() != nil {
			break
		}
		jobs <- page
	}
	close(jobs)
	wg.Wait()
}

// phaseTimer tracks one running phase until endPhase seals it
type phaseTimer struct {
	report PhaseReport
	start  time.Time
}

func (p *Pipeline) startPhase(report *Report, number int, name string, in int) phaseTimer {
	p.progress.PhaseStarted(number, name, in)
	return phaseTimer{
		report: PhaseReport{Phase: number, Name: name, In: in},
		start:  p.now(),
	}
}

func (p *Pipeline) endPhase(report *Report, timer phaseTimer, out int) {
	phase := timer.report
	phase.Out = out
	phase.Duration = p.now().Sub(timer.start)
	report.Phases = append(report.Phases, phase)
	p.progress.PhaseCompleted(phase)
}

func (p *Pipeline) finishRotations(report *Report) {
	if p.rotations != nil {
		report.TokenRotations = p.rotations.Rotations()
	}
}

func sortedPageIDs(pages map[string]*models.AdvertiserPage) []string {
	ids := make([]string, 0, len(pages))
	for id := range pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
