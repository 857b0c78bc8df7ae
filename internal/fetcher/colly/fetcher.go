// Package collyfetcher implements pipeline.Fetcher using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/ragline/ingest/internal/pipeline"
)

// DefaultTimeout bounds a single retrieval.
const DefaultTimeout = 20 * time.Second

// markupTypes are the content types decoded and stored. Everything else on
// a 200 is a soft skip: re-fetching cannot change the classification.
var markupTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher performs bounded single-URL retrievals.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher with a pooled transport shared across requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ragline-ingest-bot/0.1"
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch retrieves rawURL and classifies the response. A returned error means
// the item is retryable: transport failure, timeout, or a non-200 status.
// A nil error carries either decoded content or a soft skip.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (pipeline.FetchResult, error) {
	var (
		statusCode  int
		contentType string
		body        []byte
		fetchErr    error
	)
	start := time.Now()

	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)

	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		contentType = r.Headers.Get("Content-Type")
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := f.visit(ctx, collector, rawURL); err != nil {
		return pipeline.FetchResult{}, err
	}
	if fetchErr != nil {
		return pipeline.FetchResult{}, fmt.Errorf("fetch %s (status %d): %w", rawURL, statusCode, fetchErr)
	}
	if statusCode != http.StatusOK {
		return pipeline.FetchResult{}, fmt.Errorf("fetch %s: unexpected status %d", rawURL, statusCode)
	}

	result := pipeline.FetchResult{
		StatusCode:  statusCode,
		ContentType: contentType,
		Duration:    time.Since(start),
	}
	if !isMarkup(contentType) {
		result.Class = pipeline.FetchSoftSkip
		return result, nil
	}

	text, err := decode(body, contentType)
	if err != nil {
		return pipeline.FetchResult{}, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	result.Class = pipeline.FetchContent
	result.Text = text
	return result, nil
}

func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit %s: %w", rawURL, err)
		}
		return nil
	}
}

// isMarkup reports whether the content type names a markup document. A
// missing content type is treated as markup and left to the decoder.
func isMarkup(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return markupTypes[mediaType]
}

// decode converts body to UTF-8 using the charset named in contentType,
// defaulting to UTF-8. Undecodable bytes are replaced, never dropped
// silently.
func decode(body []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", fmt.Errorf("charset reader: %w", err)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read decoded body: %w", err)
	}
	return strings.ToValidUTF8(string(decoded), "�"), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
