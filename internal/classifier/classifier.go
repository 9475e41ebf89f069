// Package classifier assigns a product niche to analyzed sites through an
// external classification API. Classification is best effort: without an
// API key the pipeline runs with a no-op classifier and sites keep an
// empty category.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ad-scout/internal/logging"
	"github.com/ad-scout/internal/retry"
)

// Site is one classification input, built from a site profile
type Site struct {
	PageID      string `json:"page_id"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	H1          string `json:"h1,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
}

// Result is one classification outcome
type Result struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Confidence  int    `json:"confidence,omitempty"` // 0-100
}

// Classifier maps sites to product niches, keyed by page id. Sites the
// backend cannot classify are absent from the result.
type Classifier interface {
	ClassifyBatch(ctx context.Context, sites []Site) (map[string]Result, error)
}

// Noop classifies nothing. Used when no API key is configured.
type Noop struct{}

// ClassifyBatch returns an empty result
func (Noop) ClassifyBatch(ctx context.Context, sites []Site) (map[string]Result, error) {
	return map[string]Result{}, nil
}

// Config configures the HTTP classifier
type Config struct {
	APIKey    string
	Endpoint  string
	BatchSize int
	Timeout   time.Duration
	Retry     *retry.Config // nil means retry.DefaultConfig
}

// HTTPClassifier calls a remote classification endpoint in bounded batches
type HTTPClassifier struct {
	cfg    *Config
	client *http.Client
}

// New returns the HTTP classifier, or Noop when no API key is set
func New(cfg *Config) (Classifier, error) {
	if cfg == nil || cfg.APIKey == "" {
		return Noop{}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("classifier endpoint is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	return &HTTPClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type classifyRequest struct {
	Sites []Site `json:"sites"`
}

type classifyResponse struct {
	Categories map[string]Result `json:"categories"`
	Error      string            `json:"error,omitempty"`
}

// ClassifyBatch splits sites into batches and merges the results. A failed
// batch is logged and skipped; other batches still contribute.
func (c *HTTPClassifier) ClassifyBatch(ctx context.Context, sites []Site) (map[string]Result, error) {
	logger := logging.FromContext(ctx)
	categories := make(map[string]Result, len(sites))

	for start := 0; start < len(sites); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return categories, err
		}
		end := start + c.cfg.BatchSize
		if end > len(sites) {
			end = len(sites)
		}

		batch, err := c.classifyOnce(ctx, sites[start:end])
		if err != nil {
			logger.WithError(err).WithField("batch_start", start).Warn("classification batch failed, skipping")
			continue
		}
		for pageID, category := range batch {
			categories[pageID] = category
		}
	}
	return categories, nil
}

func (c *HTTPClassifier) classifyOnce(ctx context.Context, sites []Site) (map[string]Result, error) {
	payload, err := json.Marshal(classifyRequest{Sites: sites})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var categories map[string]Result
	err = retry.Run(ctx, c.cfg.Retry, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("classification API returned status %d", resp.StatusCode)
		}

		var parsed classifyResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		if parsed.Error != "" {
			return fmt.Errorf("classification API error: %s", parsed.Error)
		}
		categories = parsed.Categories
		return nil
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}
