package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/pipeline"
	"github.com/ragline/ingest/internal/queue"
)

type fakeCrawlStage struct {
	got     []pipeline.WorkItem
	outcome pipeline.BatchOutcome
}

func (f *fakeCrawlStage) ProcessBatch(_ context.Context, items []pipeline.WorkItem) pipeline.BatchOutcome {
	f.got = items
	return f.outcome
}

type fakeTransformStage struct {
	got     []pipeline.ObjectCreated
	called  bool
	outcome pipeline.BatchOutcome
}

func (f *fakeTransformStage) ProcessBatch(_ context.Context, events []pipeline.ObjectCreated) pipeline.BatchOutcome {
	f.called = true
	f.got = events
	return f.outcome
}

func TestCrawlHandlerMapsBodiesToWorkItems(t *testing.T) {
	t.Parallel()

	stage := &fakeCrawlStage{outcome: pipeline.BatchOutcome{Processed: 1, FailedIDs: []string{"m2"}}}
	h := NewCrawlHandler(stage)

	batch := []*queue.Message{
		queue.NewMessage("m1", []byte("https://example.com/a"), nil, nil, nil),
		queue.NewMessage("m2", []byte("https://example.com/b"), nil, nil, nil),
	}
	failed := h.HandleBatch(context.Background(), batch)

	assert.Equal(t, []string{"m2"}, failed)
	require.Len(t, stage.got, 2)
	assert.Equal(t, "https://example.com/a", stage.got[0].URL)
	assert.Equal(t, "m1", stage.got[0].Delivery.ID())
}

func TestTransformHandlerParsesNotifications(t *testing.T) {
	t.Parallel()

	stage := &fakeTransformStage{}
	h := NewTransformHandler(stage, "raw-docs", zap.NewNop())

	attrs := map[string]string{
		"eventType": "OBJECT_FINALIZE",
		"bucketId":  "raw-docs",
		"objectId":  "example.com_a.html",
	}
	batch := []*queue.Message{queue.NewMessage("n1", nil, attrs, nil, nil)}
	failed := h.HandleBatch(context.Background(), batch)

	assert.Empty(t, failed)
	require.Len(t, stage.got, 1)
	assert.Equal(t, "example.com_a.html", stage.got[0].Key)
	assert.Equal(t, "raw-docs", stage.got[0].Bucket)
}

func TestTransformHandlerAcksMalformedAndIgnoredNotifications(t *testing.T) {
	t.Parallel()

	stage := &fakeTransformStage{}
	h := NewTransformHandler(stage, "raw-docs", zap.NewNop())

	acked := map[string]bool{}
	ack := func(id string) func() error {
		return func() error {
			acked[id] = true
			return nil
		}
	}

	batch := []*queue.Message{
		queue.NewMessage("bad", []byte("not json"), nil, ack("bad"), nil),
		queue.NewMessage("del", nil, map[string]string{
			"eventType": "OBJECT_DELETE",
			"objectId":  "gone.html",
		}, ack("del"), nil),
		queue.NewMessage("foreign", nil, map[string]string{
			"eventType": "OBJECT_FINALIZE",
			"bucketId":  "other-bucket",
			"objectId":  "x.html",
		}, ack("foreign"), nil),
	}
	failed := h.HandleBatch(context.Background(), batch)

	assert.Empty(t, failed)
	assert.False(t, stage.called, "stage must not run on an empty event set")
	assert.True(t, acked["bad"])
	assert.True(t, acked["del"])
	assert.True(t, acked["foreign"])
}

func TestTransformHandlerMixedBatch(t *testing.T) {
	t.Parallel()

	stage := &fakeTransformStage{outcome: pipeline.BatchOutcome{FailedIDs: []string{"ok"}}}
	h := NewTransformHandler(stage, "", zap.NewNop())

	batch := []*queue.Message{
		queue.NewMessage("bad", []byte("{"), nil, nil, nil),
		queue.NewMessage("ok", nil, map[string]string{
			"eventType": "OBJECT_FINALIZE",
			"objectId":  "example.com_b.html",
		}, nil, nil),
	}
	failed := h.HandleBatch(context.Background(), batch)

	assert.Equal(t, []string{"ok"}, failed)
	require.Len(t, stage.got, 1)
	assert.Equal(t, "example.com_b.html", stage.got[0].Key)
}
