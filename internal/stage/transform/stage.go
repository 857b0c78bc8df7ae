// Package transform implements the notification-triggered transform stage:
// read a raw document, extract its text, chunk it, and persist every chunk.
//
// Outcomes are reported per source, never per chunk: a partially chunked
// document is not a meaningful state for a consumer, so any chunk write
// failure marks the whole source retryable.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/metrics"
	"github.com/ragline/ingest/internal/pipeline"
)

// ChunkKey returns the object key for a source's nth chunk. Ordinals are
// 1-based so the key sequence starts at chunk_001.
func ChunkKey(sourceKey string, ordinal int) string {
	return fmt.Sprintf("%s/chunk_%03d.json", sourceKey, ordinal)
}

// chunkBody is the persisted JSON shape of one chunk.
type chunkBody struct {
	Text     string                 `json:"text"`
	Metadata pipeline.ChunkMetadata `json:"metadata"`
}

// Stage processes batches of storage-created notifications.
type Stage struct {
	rawStore   pipeline.BlobStore
	chunkStore pipeline.BlobStore
	extractor  pipeline.Extractor
	chunker    pipeline.Chunker
	ledger     pipeline.Ledger
	clock      pipeline.Clock
	logger     *zap.Logger
}

// New constructs a Stage. ledger may be nil; clock defaults to wall time.
func New(
	rawStore pipeline.BlobStore,
	chunkStore pipeline.BlobStore,
	extractor pipeline.Extractor,
	chunker pipeline.Chunker,
	ledger pipeline.Ledger,
	clock pipeline.Clock,
	logger *zap.Logger,
) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Stage{
		rawStore:   rawStore,
		chunkStore: chunkStore,
		extractor:  extractor,
		chunker:    chunker,
		ledger:     ledger,
		clock:      clock,
		logger:     logger,
	}
}

// ProcessBatch handles each notification independently and returns the
// delivery IDs of the sources left retryable. Missing configuration fails
// the whole batch: no source could possibly succeed.
func (s *Stage) ProcessBatch(ctx context.Context, events []pipeline.ObjectCreated) pipeline.BatchOutcome {
	var outcome pipeline.BatchOutcome

	if s.rawStore == nil || s.chunkStore == nil || s.extractor == nil || s.chunker == nil {
		s.logger.Error("transform stage is missing required configuration, failing batch",
			zap.Int("events", len(events)))
		for _, ev := range events {
			outcome.FailedIDs = append(outcome.FailedIDs, ev.Delivery.ID())
		}
		return outcome
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			outcome.FailedIDs = append(outcome.FailedIDs, ev.Delivery.ID())
			continue
		}
		if s.processSource(ctx, ev) {
			outcome.Processed++
		} else {
			outcome.FailedIDs = append(outcome.FailedIDs, ev.Delivery.ID())
		}
	}
	return outcome
}

func (s *Stage) processSource(ctx context.Context, ev pipeline.ObjectCreated) bool {
	log := s.logger.With(zap.String("source_key", ev.Key))

	raw, err := s.rawStore.Get(ctx, ev.Key)
	if err != nil {
		log.Warn("raw document read failed, leaving source retryable", zap.Error(err))
		metrics.ObserveTransformSource(string(pipeline.OutcomeRetryable))
		s.recordTransform(ctx, ev.Key, pipeline.OutcomeRetryable, 0, err.Error())
		return false
	}

	text, diag := s.extractor.Extract(string(raw))
	if diag != nil {
		log.Debug("extraction fell back to empty text", zap.Error(diag))
	}
	if text == "" {
		// Nothing to chunk is a benign skip, not a failure.
		log.Info("no extractable text, skipping source")
		s.ack(ev, log)
		metrics.ObserveTransformSource(string(pipeline.OutcomeSoftSkip))
		s.recordTransform(ctx, ev.Key, pipeline.OutcomeSoftSkip, 0, "")
		return true
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		log.Info("text produced no chunks, skipping source")
		s.ack(ev, log)
		metrics.ObserveTransformSource(string(pipeline.OutcomeSoftSkip))
		s.recordTransform(ctx, ev.Key, pipeline.OutcomeSoftSkip, 0, "")
		return true
	}

	if err := s.replaceChunks(ctx, ev.Key, chunks); err != nil {
		log.Warn("chunk write failed, leaving source retryable", zap.Error(err))
		metrics.ObserveTransformSource(string(pipeline.OutcomeRetryable))
		s.recordTransform(ctx, ev.Key, pipeline.OutcomeRetryable, 0, err.Error())
		return false
	}

	s.ack(ev, log)
	log.Info("chunked source", zap.Int("chunks", len(chunks)))
	metrics.ObserveTransformSource(string(pipeline.OutcomeStored))
	metrics.ObserveChunksWritten(len(chunks))
	s.recordTransform(ctx, ev.Key, pipeline.OutcomeStored, len(chunks), "")
	return true
}

// replaceChunks removes every chunk object already under the source prefix,
// then writes the new set. The delete pass keeps a rerun that shrinks the
// chunk count from leaving orphaned higher ordinals behind.
func (s *Stage) replaceChunks(ctx context.Context, sourceKey string, chunks []string) error {
	stale, err := s.chunkStore.List(ctx, sourceKey+"/")
	if err != nil {
		return fmt.Errorf("list existing chunks: %w", err)
	}
	for _, key := range stale {
		if err := s.chunkStore.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete stale chunk: %w", err)
		}
	}

	for i, text := range chunks {
		ordinal := i + 1
		body, err := json.Marshal(chunkBody{
			Text: text,
			Metadata: pipeline.ChunkMetadata{
				SourceKey:   sourceKey,
				ChunkNumber: ordinal,
			},
		})
		if err != nil {
			return fmt.Errorf("marshal chunk %d: %w", ordinal, err)
		}
		if err := s.chunkStore.Put(ctx, ChunkKey(sourceKey, ordinal), "application/json", body); err != nil {
			return fmt.Errorf("write chunk %d: %w", ordinal, err)
		}
	}
	return nil
}

func (s *Stage) ack(ev pipeline.ObjectCreated, log *zap.Logger) {
	if err := ev.Delivery.Ack(); err != nil {
		// The chunk set is complete and rewrites are idempotent, so a
		// re-notified source is harmless duplicate work.
		log.Warn("acknowledge failed after complete chunk set", zap.Error(err))
		metrics.ObserveAckAnomaly()
	}
}

func (s *Stage) recordTransform(ctx context.Context, key string, out pipeline.Outcome, chunkCount int, errText string) {
	if s.ledger == nil {
		return
	}
	rec := pipeline.TransformRecord{
		SourceKey:   key,
		Outcome:     out,
		ChunkCount:  chunkCount,
		ErrorText:   errText,
		ProcessedAt: s.clock.Now(),
	}
	if err := s.ledger.RecordTransform(ctx, rec); err != nil {
		s.logger.Warn("ledger record failed", zap.String("source_key", key), zap.Error(err))
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
