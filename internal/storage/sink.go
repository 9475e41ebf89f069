package storage

import (
	"context"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/models"
)

// ResultSink receives the final scan results. Implementations decide what
// persistence means; the pipeline only reports how many pages were written
// versus updated.
type ResultSink interface {
	SaveResults(ctx context.Context, pages []*models.AdvertiserPage, profiles map[string]*models.SiteProfile,
		winning []models.WinningAdRecord, countries, languages []string) (written, updated int, err error)
}

// LogSink logs a summary of the results instead of persisting them. The
// default sink when no backend is wired in.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink writing to the given logger
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// SaveResults logs per-page summaries and counts every page as written
func (s *LogSink) SaveResults(ctx context.Context, pages []*models.AdvertiserPage, profiles map[string]*models.SiteProfile,
	winning []models.WinningAdRecord, countries, languages []string) (int, int, error) {

	for _, page := range pages {
		fields := map[string]interface{}{
			"page_id":   page.PageID,
			"page_name": page.PageName,
			"ads":       page.FinalAdCount(),
			"tier":      string(page.Tier),
			"cms":       string(page.CMS),
			"website":   page.WebsiteURL,
		}
		if profile, ok := profiles[page.PageID]; ok {
			if profile.ProductCount != nil {
				fields["products"] = *profile.ProductCount
			}
			if profile.Category != "" {
				fields["category"] = profile.Category
			}
		}
		s.logger.WithFields(fields).Info("scan result")
	}

	s.logger.WithFields(map[string]interface{}{
		"pages":       len(pages),
		"winning_ads": len(winning),
		"countries":   countries,
		"languages":   languages,
	}).Info("scan results saved")

	return len(pages), 0, nil
}
