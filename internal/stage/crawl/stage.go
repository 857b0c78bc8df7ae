// Package crawl implements the queue-triggered crawl stage: fetch each work
// item's URL, persist the decoded markup, and acknowledge the delivery.
//
// Per-item state machine: Received -> Fetched -> Stored -> Acknowledged,
// with Retryable and SoftSkipped exits. The acknowledgement discipline is
// the core invariant: a delivery is consumed iff its document is durably
// stored (or the item is final), so a fetch or store failure always leaves
// a retry path.
package crawl

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/keys"
	"github.com/ragline/ingest/internal/metrics"
	"github.com/ragline/ingest/internal/pipeline"
)

// Config controls stage behavior.
type Config struct {
	// ContentType is recorded on every raw object.
	ContentType string
}

// Stage processes batches of crawl work items.
type Stage struct {
	fetcher   pipeline.Fetcher
	sanitizer *keys.Sanitizer
	rawStore  pipeline.BlobStore
	ledger    pipeline.Ledger
	clock     pipeline.Clock
	logger    *zap.Logger
	cfg       Config
}

// New constructs a Stage. ledger may be nil; clock defaults to wall time.
func New(
	fetcher pipeline.Fetcher,
	sanitizer *keys.Sanitizer,
	rawStore pipeline.BlobStore,
	ledger pipeline.Ledger,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Stage {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Stage{
		fetcher:   fetcher,
		sanitizer: sanitizer,
		rawStore:  rawStore,
		ledger:    ledger,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// ProcessBatch handles every item independently: one item's failure never
// aborts its siblings. The returned outcome lists exactly the deliveries
// left retryable; everything else has been acknowledged.
//
// The one exception is missing configuration: no item can possibly succeed,
// so the whole batch is reported failed with nothing acknowledged.
func (s *Stage) ProcessBatch(ctx context.Context, items []pipeline.WorkItem) pipeline.BatchOutcome {
	var outcome pipeline.BatchOutcome

	if s.fetcher == nil || s.rawStore == nil || s.sanitizer == nil {
		s.logger.Error("crawl stage is missing required configuration, failing batch",
			zap.Int("items", len(items)))
		for _, item := range items {
			outcome.FailedIDs = append(outcome.FailedIDs, item.Delivery.ID())
		}
		return outcome
	}

	for _, item := range items {
		if ctx.Err() != nil {
			// Items unreached before the deadline stay unacknowledged and
			// will be redelivered.
			outcome.FailedIDs = append(outcome.FailedIDs, item.Delivery.ID())
			continue
		}
		if s.processItem(ctx, item) {
			outcome.Processed++
		} else {
			outcome.FailedIDs = append(outcome.FailedIDs, item.Delivery.ID())
		}
	}
	return outcome
}

// processItem runs one item through the state machine and reports whether
// it was processed (acknowledged or ack-anomalous) rather than retryable.
func (s *Stage) processItem(ctx context.Context, item pipeline.WorkItem) bool {
	log := s.logger.With(zap.String("url", item.URL), zap.String("delivery_id", item.Delivery.ID()))

	key, diag := s.sanitizer.Sanitize(item.URL)
	if diag != nil {
		log.Debug("sanitizer used fallback key", zap.String("key", key), zap.Error(diag))
	}

	// Received -> Fetched
	res, err := s.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		log.Warn("fetch failed, leaving item retryable", zap.Error(err))
		metrics.ObserveCrawlItem(string(pipeline.OutcomeRetryable))
		s.recordCrawl(ctx, item.URL, key, pipeline.OutcomeRetryable, err.Error(), false)
		return false
	}
	metrics.ObserveFetch(res.Duration)

	if res.Class == pipeline.FetchSoftSkip {
		// Nothing to store and no value in a retry: acknowledge directly.
		log.Info("non-markup response, soft skip",
			zap.String("content_type", res.ContentType))
		anomaly := s.ack(item, log)
		metrics.ObserveCrawlItem(string(pipeline.OutcomeSoftSkip))
		s.recordCrawl(ctx, item.URL, key, pipeline.OutcomeSoftSkip, "", anomaly)
		return true
	}

	// Fetched -> Stored
	if err := s.rawStore.Put(ctx, key, s.cfg.ContentType, []byte(res.Text)); err != nil {
		log.Warn("raw store write failed, leaving item retryable",
			zap.String("key", key), zap.Error(err))
		metrics.ObserveCrawlItem(string(pipeline.OutcomeRetryable))
		s.recordCrawl(ctx, item.URL, key, pipeline.OutcomeRetryable, err.Error(), false)
		return false
	}

	// Stored -> Acknowledged
	anomaly := s.ack(item, log)
	log.Info("stored raw document", zap.String("key", key), zap.Int("bytes", len(res.Text)))
	metrics.ObserveCrawlItem(string(pipeline.OutcomeStored))
	s.recordCrawl(ctx, item.URL, key, pipeline.OutcomeStored, "", anomaly)
	return true
}

// ack acknowledges the delivery and reports whether doing so failed. An ack
// failure after a durable (idempotent) store is harmless duplicate work, so
// the item still counts as processed; the anomaly is kept for observability.
func (s *Stage) ack(item pipeline.WorkItem, log *zap.Logger) bool {
	if err := item.Delivery.Ack(); err != nil {
		log.Warn("acknowledge failed after durable store, redelivery is harmless", zap.Error(err))
		metrics.ObserveAckAnomaly()
		return true
	}
	return false
}

func (s *Stage) recordCrawl(ctx context.Context, url, key string, out pipeline.Outcome, errText string, anomaly bool) {
	if s.ledger == nil {
		return
	}
	rec := pipeline.CrawlRecord{
		URL:        url,
		StorageKey: key,
		Outcome:    out,
		ErrorText:  errText,
		AckAnomaly: anomaly,
		FetchedAt:  s.clock.Now(),
	}
	if err := s.ledger.RecordCrawl(ctx, rec); err != nil {
		s.logger.Warn("ledger record failed", zap.String("url", url), zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
