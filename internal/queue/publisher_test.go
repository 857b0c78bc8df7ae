package queue

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func TestPublisher_PublishesToTopic(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	ctx := context.Background()

	top, err := client.CreateTopic(ctx, "crawl-work")
	require.NoError(t, err)
	defer top.Stop()

	p := NewPublisher(top)
	id, err := p.Publish(ctx, []byte("https://example.com/a"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://example.com/a", string(msgs[0].Data))
}

func TestPublisher_UnconfiguredTopic(t *testing.T) {
	t.Parallel()

	p := &Publisher{}
	_, err := p.Publish(context.Background(), []byte("x"))
	require.Error(t, err)
}

func TestRunner_ConsumesAndAcks(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	top, err := client.CreateTopic(ctx, "crawl-work")
	require.NoError(t, err)
	defer top.Stop()
	sub, err := client.CreateSubscription(ctx, "crawl-work-sub", pubsub.SubscriptionConfig{Topic: top})
	require.NoError(t, err)

	handler := &recordingHandler{}
	r := NewRunner(sub, handler, RunnerConfig{BatchSize: 2, BatchWait: 50 * time.Millisecond}, zap.NewNop())

	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(ctx) }()

	for _, body := range []string{"https://example.com/1", "https://example.com/2"} {
		_, err := top.Publish(ctx, &pubsub.Message{Data: []byte(body)}).Get(ctx)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		n := 0
		for _, b := range handler.batches {
			n += len(b)
		}
		return n == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-runDone)
}
