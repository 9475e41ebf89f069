// Package main provides the scan entry point for the ad discovery pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ad-scout/internal/adarchive"
	"github.com/ad-scout/internal/aggregate"
	"github.com/ad-scout/internal/catalog"
	"github.com/ad-scout/internal/classifier"
	"github.com/ad-scout/internal/cmsdetect"
	"github.com/ad-scout/internal/config"
	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/pipeline"
	"github.com/ad-scout/internal/retry"
	"github.com/ad-scout/internal/storage"
	"github.com/ad-scout/internal/tokenpool"
	"github.com/ad-scout/internal/types"
)

func main() {
	var (
		keywordsFlag  = flag.String("keywords", "", "comma separated search keywords (required)")
		countriesFlag = flag.String("countries", "", "comma separated reached countries, overrides SEARCH_COUNTRIES")
		languagesFlag = flag.String("languages", "", "comma separated ad languages, overrides SEARCH_LANGUAGES")
		blacklistFlag = flag.String("blacklist", "", "path to a page blacklist CSV")
		noCacheFlag   = flag.Bool("no-cache", false, "run without the Redis scan cache")
	)
	flag.Parse()

	keywords := splitList(*keywordsFlag)
	if len(keywords) == 0 {
		fmt.Fprintln(os.Stderr, "at least one keyword is required, use -keywords")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	if countries := splitList(*countriesFlag); len(countries) > 0 {
		cfg.Search.Countries = countries
	}
	if languages := splitList(*languagesFlag); len(languages) > 0 {
		cfg.Search.Languages = languages
	}

	logger.WithFields(map[string]interface{}{
		"keywords":  keywords,
		"countries": cfg.Search.Countries,
		"languages": cfg.Search.Languages,
		"tokens":    len(cfg.Meta.AccessTokens),
	}).Info("scanner starting")

	p, cache, err := buildPipeline(cfg, *blacklistFlag, *noCacheFlag, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build pipeline")
	}
	if cache != nil {
		defer cache.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	report := p.Run(ctx, keywords)
	printReport(logger, report)

	switch report.Status {
	case types.ScanFailed:
		os.Exit(1)
	case types.ScanCancelled:
		os.Exit(130)
	}
}

func buildPipeline(cfg *config.Config, blacklistPath string, noCache bool, logger *logging.Logger) (*pipeline.Pipeline, *storage.RedisCache, error) {
	blacklist := aggregate.NewBlacklist()
	if blacklistPath != "" {
		loaded, err := aggregate.LoadBlacklistCSV(blacklistPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load blacklist: %w", err)
		}
		blacklist = loaded
		logger.WithField("entries", blacklist.Len()).Info("blacklist loaded")
	}

	pool, err := tokenpool.New(cfg.Meta.AccessTokens, cfg.Meta.Proxies)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build credential pool: %w", err)
	}

	client, err := adarchive.NewClient(&adarchive.Config{
		BaseURL:           cfg.Meta.BaseURL,
		Pool:              pool,
		RequestsPerSecond: cfg.Meta.RequestsPerSecond,
		Timeout:           cfg.Meta.Timeout,
		PageLimit:         cfg.Meta.PageLimit,
		PageLimitFloor:    cfg.Meta.PageLimitFloor,
		BatchSize:         cfg.Meta.BatchSize,
		PageDelay:         cfg.Meta.PageDelay,
		BatchDelay:        cfg.Meta.BatchDelay,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build archive client: %w", err)
	}

	detector, err := cmsdetect.NewDetector(&cmsdetect.Config{
		Timeout:      cfg.Sites.Timeout,
		ProbeTimeout: cfg.Sites.ProbeTimeout,
		MaxAttempts:  cfg.Sites.MaxAttempts,
		ProxyURL:     cfg.Sites.ProxyURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build platform detector: %w", err)
	}

	counter, err := catalog.NewCounter(&catalog.CounterConfig{
		MaxSitemaps:     cfg.Catalog.MaxSitemaps,
		MaxProducts:     cfg.Catalog.MaxProducts,
		ProductsPerPage: cfg.Catalog.ProductsPerPage,
		MaxJSONPages:    cfg.Catalog.MaxJSONPages,
		Timeout:         cfg.Sites.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build catalog counter: %w", err)
	}
	analyzer, err := catalog.NewAnalyzer(counter, cfg.Sites.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build site analyzer: %w", err)
	}

	niche, err := classifier.New(&classifier.Config{
		APIKey:    cfg.Classifier.APIKey,
		Endpoint:  cfg.Classifier.Endpoint,
		BatchSize: cfg.Classifier.BatchSize,
		Timeout:   cfg.Classifier.Timeout,
		Retry:     retry.DefaultConfig(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	var scanCache storage.ScanCache = storage.NoopScanCache{}
	var redisCache *storage.RedisCache
	if !noCache {
		redisCache, err = storage.NewRedisCache(&cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, running without the scan cache")
			redisCache = nil
		} else {
			scanCache, err = storage.NewRedisScanCache(redisCache, cfg.Redis.EntryTTL)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to build scan cache: %w", err)
			}
		}
	}

	p := pipeline.New(
		&pipeline.Config{
			Countries:      cfg.Search.Countries,
			Languages:      cfg.Search.Languages,
			MinAdsInitial:  cfg.Search.MinAdsInitial,
			MinAdsTracking: cfg.Search.MinAdsTracking,
			MinAdsExport:   cfg.Search.MinAdsExport,
			Workers:        cfg.Sites.Workers,
			KeywordDelay:   cfg.Meta.KeywordDelay,
			Freshness:      cfg.Redis.Freshness,
		},
		client,
		aggregate.NewAggregator(blacklist),
		pipeline.WithDetector(detector),
		pipeline.WithAnalyzer(analyzer),
		pipeline.WithClassifier(niche),
		pipeline.WithScanCache(scanCache),
		pipeline.WithSink(storage.NewLogSink(logger)),
		pipeline.WithProgress(pipeline.NewLogProgress(logger)),
		pipeline.WithRotationCounter(pool),
	)
	return p, redisCache, nil
}

func printReport(logger *logging.Logger, report *pipeline.Report) {
	fields := map[string]interface{}{
		"run_id":          report.RunID,
		"status":          string(report.Status),
		"ads_found":       report.AdsFound,
		"pages_found":     report.PagesFound,
		"pages_tracked":   report.PagesTracked,
		"pages_export":    report.PagesExport,
		"winning_ads":     report.WinningAds,
		"failed_keywords": report.FailedKeywords,
		"token_rotations": report.TokenRotations,
		"written":         report.Written,
		"duration":        report.Duration.String(),
	}
	if len(report.WinningDistribution) > 0 {
		fields["winning_distribution"] = report.WinningDistribution
	}
	logger.WithFields(fields).Info("scan finished")
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
