package beacon

import (
	"context"
	"time"

	"github.com/openvideo-live/splicer/pkg/storage"
)

// Producer enqueues beacon messages from the request path. Enqueue failures
// are the caller's to log; they must never fail the viewer response.
type Producer struct {
	Queue storage.Queue
	now   func() time.Time
}

func NewProducer(queue storage.Queue) *Producer {
	return &Producer{Queue: queue, now: time.Now}
}

func (p *Producer) Enqueue(ctx context.Context, msg Message) error {
	if len(msg.TrackerURLs) == 0 {
		return nil
	}
	msg.EnqueuedMs = p.now().UnixMilli()
	body, err := msg.encode()
	if err != nil {
		return err
	}
	return p.Queue.Enqueue(ctx, Topic, body)
}
