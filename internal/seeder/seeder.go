// Package seeder loads crawl work onto the work topic, either from an XML
// sitemap or from an explicit URL list.
package seeder

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/metrics"
)

// DefaultTimeout bounds one sitemap download.
const DefaultTimeout = 15 * time.Second

// maxSitemapBytes caps how much sitemap body is read.
const maxSitemapBytes = 32 << 20

// publisher is the slice of queue.Publisher the seeder needs.
type publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// Report counts the outcome of one seeding run.
type Report struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Config carries seeder settings.
type Config struct {
	// UserAgent identifies sitemap requests. Required.
	UserAgent string
	// Timeout bounds the sitemap download; DefaultTimeout when zero.
	Timeout time.Duration
}

// Seeder publishes URLs to the crawl work topic.
type Seeder struct {
	pub    publisher
	client *http.Client
	ua     string
	logger *zap.Logger
}

// New builds a Seeder.
func New(pub publisher, cfg Config, logger *zap.Logger) *Seeder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		pub:    pub,
		client: &http.Client{Timeout: timeout},
		ua:     cfg.UserAgent,
		logger: logger,
	}
}

// urlset mirrors the sitemap protocol document shape.
type urlset struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// SeedSitemap downloads a sitemap and publishes every <loc> entry as one
// work message. The error reports download or parse failure; per-URL publish
// failures are counted in the Report instead.
func (s *Seeder) SeedSitemap(ctx context.Context, sitemapURL string) (Report, error) {
	locs, err := s.fetchSitemap(ctx, sitemapURL)
	if err != nil {
		return Report{}, err
	}
	s.logger.Info("sitemap parsed",
		zap.String("sitemap", sitemapURL),
		zap.Int("urls", len(locs)))
	return s.SeedURLs(ctx, locs), nil
}

// SeedURLs publishes each URL as one work message, skipping blanks.
func (s *Seeder) SeedURLs(ctx context.Context, urls []string) Report {
	var report Report
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, err := s.pub.Publish(ctx, []byte(u)); err != nil {
			report.Failed++
			metrics.ObserveSeedURL("failed")
			s.logger.Warn("seed publish failed", zap.String("url", u), zap.Error(err))
			continue
		}
		report.Sent++
		metrics.ObserveSeedURL("sent")
	}
	return report
}

func (s *Seeder) fetchSitemap(ctx context.Context, sitemapURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sitemap request: %w", err)
	}
	req.Header.Set("User-Agent", s.ua)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, fmt.Errorf("read sitemap body: %w", err)
	}

	var set urlset
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}

	locs := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc != "" {
			locs = append(locs, u.Loc)
		}
	}
	return locs, nil
}
