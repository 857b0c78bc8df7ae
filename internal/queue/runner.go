package queue

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Handler consumes one batch of deliveries and returns the IDs that must
// stay claimable. The handler acknowledges everything else itself; the
// runner nacks the returned IDs so redelivery is prompt rather than waiting
// out the ack deadline.
type Handler interface {
	HandleBatch(ctx context.Context, batch []*Message) (failedIDs []string)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, batch []*Message) []string

// HandleBatch calls f.
func (f HandlerFunc) HandleBatch(ctx context.Context, batch []*Message) []string {
	return f(ctx, batch)
}

// subscription abstracts *pubsub.Subscription for testing.
type subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// RunnerConfig bounds batch assembly.
type RunnerConfig struct {
	// BatchSize caps how many deliveries one handler invocation sees.
	BatchSize int
	// BatchWait flushes a partial batch after this long without it filling.
	BatchWait time.Duration
}

// Runner pulls a subscription and invokes a Handler in bounded batches,
// processing batches sequentially.
type Runner struct {
	sub     subscription
	handler Handler
	cfg     RunnerConfig
	logger  *zap.Logger
}

// NewRunner builds a Runner, filling zero config fields with defaults.
func NewRunner(sub subscription, handler Handler, cfg RunnerConfig, logger *zap.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sub: sub, handler: handler, cfg: cfg, logger: logger}
}

// Run blocks, consuming the subscription until ctx finishes. Deliveries
// queued but unhandled at shutdown are nacked so nothing is lost.
func (r *Runner) Run(ctx context.Context) error {
	msgs := make(chan *Message)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.dispatchLoop(ctx, msgs)
	}()

	err := r.sub.Receive(ctx, func(rctx context.Context, m *pubsub.Message) {
		select {
		case msgs <- wrapPubSub(m):
		case <-rctx.Done():
			m.Nack()
		}
	})
	close(msgs)
	<-done

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// dispatchLoop assembles deliveries into batches and hands them to the
// handler, flushing on size or after BatchWait from the first delivery.
func (r *Runner) dispatchLoop(ctx context.Context, msgs <-chan *Message) {
	var batch []*Message
	timer := time.NewTimer(r.cfg.BatchWait)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.dispatch(ctx, batch)
		batch = nil
	}

	for {
		select {
		case m, ok := <-msgs:
			if !ok {
				flush()
				return
			}
			if len(batch) == 0 {
				timer.Reset(r.cfg.BatchWait)
			}
			batch = append(batch, m)
			if len(batch) >= r.cfg.BatchSize {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				flush()
			}
		case <-timer.C:
			flush()
		}
	}
}

// dispatch invokes the handler once and nacks exactly the failed IDs.
func (r *Runner) dispatch(ctx context.Context, batch []*Message) {
	byID := make(map[string]*Message, len(batch))
	for _, m := range batch {
		byID[m.ID()] = m
	}

	failed := r.handler.HandleBatch(ctx, batch)
	for _, id := range failed {
		if m, ok := byID[id]; ok {
			m.Nack()
		} else {
			r.logger.Warn("handler reported unknown delivery id", zap.String("id", id))
		}
	}
	r.logger.Debug("batch dispatched",
		zap.Int("size", len(batch)),
		zap.Int("failed", len(failed)))
}
