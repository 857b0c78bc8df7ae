package crawl

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragline/ingest/internal/keys"
	"github.com/ragline/ingest/internal/pipeline"
	"github.com/ragline/ingest/internal/storage/memory"
)

type fakeFetcher struct {
	results map[string]pipeline.FetchResult
	errs    map[string]error
	calls   int
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (pipeline.FetchResult, error) {
	f.calls++
	if err, ok := f.errs[url]; ok {
		return pipeline.FetchResult{}, err
	}
	if res, ok := f.results[url]; ok {
		return res, nil
	}
	return pipeline.FetchResult{}, fmt.Errorf("no canned response for %s", url)
}

type fakeDelivery struct {
	id     string
	ackErr error
	acks   int
}

func (d *fakeDelivery) ID() string { return d.id }

func (d *fakeDelivery) Ack() error {
	d.acks++
	return d.ackErr
}

type fakeLedger struct {
	crawls []pipeline.CrawlRecord
	err    error
}

func (l *fakeLedger) RecordCrawl(_ context.Context, rec pipeline.CrawlRecord) error {
	l.crawls = append(l.crawls, rec)
	return l.err
}

func (l *fakeLedger) RecordTransform(context.Context, pipeline.TransformRecord) error { return nil }

func (l *fakeLedger) Close() {}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func contentResult(text string) pipeline.FetchResult {
	return pipeline.FetchResult{
		Class:       pipeline.FetchContent,
		StatusCode:  200,
		ContentType: "text/html; charset=utf-8",
		Text:        text,
	}
}

func newStage(f pipeline.Fetcher, store pipeline.BlobStore, ledger pipeline.Ledger) *Stage {
	return New(
		f,
		keys.New(keys.Config{}),
		store,
		ledger,
		fixedClock{now: time.Unix(1000, 0)},
		Config{ContentType: "text/html; charset=utf-8"},
		zap.NewNop(),
	)
}

func TestProcessBatch_SuccessStoresAndAcks(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	ledger := &fakeLedger{}
	fetcher := &fakeFetcher{results: map[string]pipeline.FetchResult{
		"https://example.com/a/b?x=1": contentResult("<html>doc</html>"),
	}}
	delivery := &fakeDelivery{id: "m1"}

	stage := newStage(fetcher, store, ledger)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/a/b?x=1", Delivery: delivery},
	})

	assert.Equal(t, 1, outcome.Processed)
	assert.Empty(t, outcome.FailedIDs)
	assert.Equal(t, 1, delivery.acks)

	data, err := store.Get(context.Background(), "example.com_a_b_x_1.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>doc</html>", string(data))
	assert.Equal(t, "text/html; charset=utf-8", store.ContentType("example.com_a_b_x_1.html"))

	require.Len(t, ledger.crawls, 1)
	assert.Equal(t, pipeline.OutcomeStored, ledger.crawls[0].Outcome)
	assert.False(t, ledger.crawls[0].AckAnomaly)
}

func TestProcessBatch_FetchFailureLeavesItemRetryable(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	fetcher := &fakeFetcher{errs: map[string]error{
		"https://example.com/down": errors.New("connection refused"),
	}}
	delivery := &fakeDelivery{id: "m1"}

	stage := newStage(fetcher, store, nil)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/down", Delivery: delivery},
	})

	assert.Zero(t, outcome.Processed)
	assert.Equal(t, []string{"m1"}, outcome.FailedIDs)
	assert.Zero(t, delivery.acks, "a failed fetch must never consume the delivery")
	assert.Zero(t, store.Len())
}

func TestProcessBatch_SoftSkipAcksWithoutStoring(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	ledger := &fakeLedger{}
	fetcher := &fakeFetcher{results: map[string]pipeline.FetchResult{
		"https://example.com/file.pdf": {
			Class:       pipeline.FetchSoftSkip,
			StatusCode:  200,
			ContentType: "application/pdf",
		},
	}}
	delivery := &fakeDelivery{id: "m1"}

	stage := newStage(fetcher, store, ledger)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/file.pdf", Delivery: delivery},
	})

	assert.Equal(t, 1, outcome.Processed)
	assert.Empty(t, outcome.FailedIDs)
	assert.Equal(t, 1, delivery.acks)
	assert.Zero(t, store.Len())
	require.Len(t, ledger.crawls, 1)
	assert.Equal(t, pipeline.OutcomeSoftSkip, ledger.crawls[0].Outcome)
}

func TestProcessBatch_StoreFailureLeavesItemRetryable(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	store.FailPuts = true
	fetcher := &fakeFetcher{results: map[string]pipeline.FetchResult{
		"https://example.com/a": contentResult("<html>a</html>"),
	}}
	delivery := &fakeDelivery{id: "m1"}

	stage := newStage(fetcher, store, nil)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/a", Delivery: delivery},
	})

	assert.Equal(t, []string{"m1"}, outcome.FailedIDs)
	assert.Zero(t, delivery.acks, "content not durably persisted must not be acknowledged")
}

func TestProcessBatch_AckFailureStillCountsProcessed(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	ledger := &fakeLedger{}
	fetcher := &fakeFetcher{results: map[string]pipeline.FetchResult{
		"https://example.com/a": contentResult("<html>a</html>"),
	}}
	delivery := &fakeDelivery{id: "m1", ackErr: errors.New("ack timeout")}

	stage := newStage(fetcher, store, ledger)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/a", Delivery: delivery},
	})

	// The write is idempotent, so duplicate redelivery is harmless.
	assert.Equal(t, 1, outcome.Processed)
	assert.Empty(t, outcome.FailedIDs)
	assert.Equal(t, 1, store.Len())
	require.Len(t, ledger.crawls, 1)
	assert.True(t, ledger.crawls[0].AckAnomaly)
}

func TestProcessBatch_ItemsAreIsolated(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	fetcher := &fakeFetcher{
		results: map[string]pipeline.FetchResult{
			"https://example.com/good": contentResult("<html>good</html>"),
		},
		errs: map[string]error{
			"https://example.com/bad": errors.New("boom"),
		},
	}
	good := &fakeDelivery{id: "good"}
	bad := &fakeDelivery{id: "bad"}

	stage := newStage(fetcher, store, nil)
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/bad", Delivery: bad},
		{URL: "https://example.com/good", Delivery: good},
	})

	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, []string{"bad"}, outcome.FailedIDs)
	assert.Equal(t, 1, good.acks)
	assert.Zero(t, bad.acks)
}

func TestProcessBatch_MissingConfigFailsWholeBatch(t *testing.T) {
	t.Parallel()

	stage := New(nil, keys.New(keys.Config{}), memory.NewBlobStore(), nil, nil, Config{}, zap.NewNop())

	d1 := &fakeDelivery{id: "a"}
	d2 := &fakeDelivery{id: "b"}
	outcome := stage.ProcessBatch(context.Background(), []pipeline.WorkItem{
		{URL: "https://example.com/1", Delivery: d1},
		{URL: "https://example.com/2", Delivery: d2},
	})

	assert.Zero(t, outcome.Processed)
	assert.ElementsMatch(t, []string{"a", "b"}, outcome.FailedIDs)
	assert.Zero(t, d1.acks)
	assert.Zero(t, d2.acks)
}

func TestProcessBatch_CanceledContextLeavesItemsRetryable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := &fakeFetcher{}
	delivery := &fakeDelivery{id: "m1"}
	stage := newStage(fetcher, memory.NewBlobStore(), nil)

	outcome := stage.ProcessBatch(ctx, []pipeline.WorkItem{
		{URL: "https://example.com/a", Delivery: delivery},
	})

	assert.Equal(t, []string{"m1"}, outcome.FailedIDs)
	assert.Zero(t, fetcher.calls)
	assert.Zero(t, delivery.acks)
}
