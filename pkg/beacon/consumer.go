package beacon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openvideo-live/splicer/pkg/storage"
)

const (
	// DefaultBatchSize bounds one consume pull.
	DefaultBatchSize = 32

	// maxAttempts is the initial delivery plus two retries.
	maxAttempts = 3

	// dedupTTL is how long a fired beacon blocks re-fires.
	dedupTTL = 10 * time.Minute

	backoffMin = 30 * time.Second
	backoffMax = 90 * time.Second

	requestTimeout = 5 * time.Second
	maxRedirects   = 3
)

// errTerminal marks delivery failures that must not be retried (4xx).
var errTerminal = errors.New("beacon: terminal delivery failure")

// Consumer drains the beacon topic. Run it once per process; URL delivery
// within a message is concurrent, messages within a batch are sequential.
type Consumer struct {
	Queue     storage.Queue
	Dedup     storage.KV
	Client    *http.Client
	BatchSize int
	Interval  time.Duration

	now  func() time.Time
	rand *rand.Rand
}

func NewConsumer(queue storage.Queue, dedup storage.KV) *Consumer {
	return &Consumer{
		Queue: queue,
		Dedup: dedup,
		Client: &http.Client{
			Timeout: requestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		BatchSize: DefaultBatchSize,
		Interval:  time.Second,
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("beacon batch failed", "err", err)
			}
		}
	}
}

// DrainOnce pulls and processes one batch. Exposed for tests and for
// shutdown flushing.
func (c *Consumer) DrainOnce(ctx context.Context) error {
	batch, err := c.Queue.Consume(ctx, Topic, c.BatchSize)
	if err != nil {
		return err
	}
	for _, body := range batch {
		msg, err := decode(body)
		if err != nil {
			slog.Warn("dropping undecodable beacon", "err", err)
			continue
		}
		c.process(ctx, msg)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg *Message) {
	if msg.NotBeforeMs > 0 && c.now().UnixMilli() < msg.NotBeforeMs {
		c.requeue(ctx, msg)
		return
	}

	key := msg.DedupKey()
	if msg.Attempt == 0 {
		if _, err := c.Dedup.Get(ctx, key); err == nil {
			slog.Debug("duplicate beacon suppressed", "adId", msg.AdID, "event", msg.Event)
			return
		}
		_ = c.Dedup.Put(ctx, key, []byte{1}, dedupTTL)
	}

	err := c.deliver(ctx, msg)
	if err == nil {
		return
	}
	if errors.Is(err, errTerminal) {
		c.deadLetter(ctx, msg, err)
		return
	}

	msg.Attempt++
	if msg.Attempt >= maxAttempts {
		c.deadLetter(ctx, msg, err)
		return
	}
	delay := backoffMin + time.Duration(c.rand.Int63n(int64(backoffMax-backoffMin)))
	msg.NotBeforeMs = c.now().Add(delay).UnixMilli()
	c.requeue(ctx, msg)
}

// deliver fires every tracker URL concurrently. The first retryable error
// wins; terminal errors only surface when no retryable one occurred.
func (c *Consumer) deliver(ctx context.Context, msg *Message) error {
	g, ctx := errgroup.WithContext(ctx)
	var terminal atomic.Bool
	for _, url := range msg.TrackerURLs {
		g.Go(func() error {
			status, err := c.fire(ctx, url)
			logMsgDelivery(msg, url, status, err)
			if err != nil {
				return err
			}
			switch {
			case status >= 200 && status < 300:
				return nil
			case status >= 300 && status < 500:
				// 3xx here means the redirect cap was hit; neither case gets
				// better with retries.
				terminal.Store(true)
				return nil
			default:
				return fmt.Errorf("beacon: %s: status %d", url, status)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if terminal.Load() {
		return errTerminal
	}
	return nil
}

func (c *Consumer) fire(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	return resp.StatusCode, nil
}

func (c *Consumer) requeue(ctx context.Context, msg *Message) {
	body, err := msg.encode()
	if err != nil {
		return
	}
	if err := c.Queue.Enqueue(ctx, Topic, body); err != nil {
		slog.Error("beacon requeue failed", "adId", msg.AdID, "event", msg.Event, "err", err)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, cause error) {
	slog.Warn("beacon dead-lettered",
		"adId", msg.AdID, "event", msg.Event, "attempts", msg.Attempt+1, "err", cause)
	body, err := msg.encode()
	if err != nil {
		return
	}
	if err := c.Queue.Enqueue(ctx, DLQTopic, body); err != nil {
		slog.Error("beacon DLQ enqueue failed", "adId", msg.AdID, "event", msg.Event, "err", err)
	}
}

func logMsgDelivery(msg *Message, url string, status int, err error) {
	if err != nil {
		slog.Warn("beacon fire failed",
			"adId", msg.AdID, "event", msg.Event, "url", url, "attempts", msg.Attempt+1, "err", err)
		return
	}
	slog.Info("beacon fired",
		"adId", msg.AdID, "event", msg.Event, "url", url, "status", status, "attempts", msg.Attempt+1)
}
