package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/notify"
	"github.com/ragline/ingest/internal/pipeline"
	"github.com/ragline/ingest/internal/queue"
)

// crawlStage is the slice of the crawl stage the work handler needs.
type crawlStage interface {
	ProcessBatch(ctx context.Context, items []pipeline.WorkItem) pipeline.BatchOutcome
}

// transformStage is the slice of the transform stage the notify handler needs.
type transformStage interface {
	ProcessBatch(ctx context.Context, events []pipeline.ObjectCreated) pipeline.BatchOutcome
}

// NewCrawlHandler adapts queue deliveries into crawl work items. A message
// body is one URL.
func NewCrawlHandler(stage crawlStage) queue.Handler {
	return queue.HandlerFunc(func(ctx context.Context, batch []*queue.Message) []string {
		items := make([]pipeline.WorkItem, 0, len(batch))
		for _, m := range batch {
			items = append(items, pipeline.WorkItem{
				URL:      string(m.Body()),
				Delivery: m,
			})
		}
		return stage.ProcessBatch(ctx, items).FailedIDs
	})
}

// NewTransformHandler adapts storage notifications into transform events.
// Notifications for other event types and permanently malformed payloads are
// acknowledged and dropped: redelivery cannot make them parseable. When
// rawBucket is non-empty, notifications naming another bucket are dropped
// the same way.
func NewTransformHandler(stage transformStage, rawBucket string, logger *zap.Logger) queue.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return queue.HandlerFunc(func(ctx context.Context, batch []*queue.Message) []string {
		events := make([]pipeline.ObjectCreated, 0, len(batch))
		for _, m := range batch {
			ev, err := notify.Parse(m.Attributes(), m.Body())
			if err != nil {
				if !errors.Is(err, notify.ErrIgnore) {
					logger.Warn("dropping malformed notification",
						zap.String("delivery_id", m.ID()), zap.Error(err))
				}
				if ackErr := m.Ack(); ackErr != nil {
					logger.Warn("acknowledge of dropped notification failed",
						zap.String("delivery_id", m.ID()), zap.Error(ackErr))
				}
				continue
			}
			if rawBucket != "" && ev.Bucket != "" && ev.Bucket != rawBucket {
				logger.Debug("dropping notification for foreign bucket",
					zap.String("bucket", ev.Bucket), zap.String("key", ev.Key))
				if ackErr := m.Ack(); ackErr != nil {
					logger.Warn("acknowledge of dropped notification failed",
						zap.String("delivery_id", m.ID()), zap.Error(ackErr))
				}
				continue
			}
			events = append(events, pipeline.ObjectCreated{
				Bucket:   ev.Bucket,
				Key:      ev.Key,
				Delivery: m,
			})
		}
		if len(events) == 0 {
			return nil
		}
		return stage.ProcessBatch(ctx, events).FailedIDs
	})
}
