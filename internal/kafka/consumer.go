package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler returns nil only when the message is fully processed and its
// offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer commits offsets per partition, so each partition is handled by a
// single worker in fetch order and a failed message is retried until it
// succeeds. Nothing behind it is committed in the meantime.
type Consumer struct {
	r       messageReader
	workers int
	log     *slog.Logger

	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *slog.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, log: log, retryBase: 100 * time.Millisecond, retryMax: 5 * time.Second}
}

// Start dispatches messages to the worker pool until ctx is cancelled.
// Messages of one partition always go to the same worker.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				// after shutdown nothing behind an unfinished message commits
				if ctx.Err() != nil {
					continue
				}
				c.handle(ctx, h, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs[slot(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) {
	mctx := ExtractHeaders(ctx, m.Headers)
	wait := c.retryBase
	for attempt := 1; ; attempt++ {
		err := h(mctx, m)
		if err == nil {
			break
		}
		c.log.ErrorContext(mctx, "handle message failed",
			slog.String("topic", m.Topic),
			slog.Int("partition", m.Partition),
			slog.Int64("offset", m.Offset),
			slog.String("event_type", header(m, HeaderEventType)),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.Any("err", err),
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			// left uncommitted; redelivered to the next group member
			return
		}
		wait = min(wait*2, c.retryMax)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.ErrorContext(mctx, "commit failed", slog.Int64("offset", m.Offset), slog.Any("err", err))
	}
}

func slot(partition, n int) int {
	if partition < 0 {
		partition = -partition
	}
	return partition % n
}
