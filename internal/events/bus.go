// Package events publishes slide decisions to in-process subscribers
// (storage, the websocket stream, diagnostics).
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/phaysaal/seenslide-desktop/internal/decision"
	"github.com/phaysaal/seenslide-desktop/internal/trace"
)

// Topics
const (
	// TopicDecisions carries every decision record.
	TopicDecisions = "slides.decisions"
	// TopicUnique carries accepted slides only; storage subscribes here.
	TopicUnique = "slides.unique"
)

// DefaultBuffer is the per-subscriber output buffer.
const DefaultBuffer = 64

// Bus is an in-memory pub/sub for decision records.
type Bus struct {
	pubsub *gochannel.GoChannel
	buffer int64
}

// NewBus creates a bus. Publish returns once every subscriber has acked, which
// keeps records in order per subscriber; call it off the capture loop.
func NewBus(buffer int64) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		buffer: buffer,
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            buffer,
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NewStdLogger(false, false),
		),
	}
}

// PublishDecision publishes rec on TopicDecisions, and on TopicUnique when accepted.
func (b *Bus) PublishDecision(ctx context.Context, rec decision.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if tc, ok := trace.FromContext(ctx); ok && tc.Valid() {
		msg.Metadata.Set(trace.TraceIDKey, tc.TraceID)
		msg.Metadata.Set(trace.TraceparentKey, tc.Traceparent())
	}
	msg.Metadata.Set("verdict", rec.Verdict.String())
	if err := b.pubsub.Publish(TopicDecisions, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicDecisions, err)
	}

	if rec.Verdict == decision.Unique {
		if err := b.pubsub.Publish(TopicUnique, msg.Copy()); err != nil {
			return fmt.Errorf("publish %s: %w", TopicUnique, err)
		}
	}
	return nil
}

// Subscribe returns decoded records from topic until ctx is done or the bus closes.
// Messages are acked once decoded.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan decision.Record, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan decision.Record, b.buffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var rec decision.Record
			if err := json.Unmarshal(msg.Payload, &rec); err != nil {
				trace.Logger(ctx).Warn("dropping undecodable decision", "topic", topic, "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus and closes all subscriptions.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
