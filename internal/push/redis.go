package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisTransport carries push events over redis pub/sub, one channel per
// (jobID, docID) pair. It implements both Transport and Publisher.
type RedisTransport struct {
	client *redis.Client
}

// NewRedisTransport wraps an existing redis client.
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func channelKey(jobID, docID string) string {
	return fmt.Sprintf("docsync:job:%s:doc:%s", jobID, docID)
}

// Subscribe opens a pub/sub subscription for the pair. The returned channel
// closes when the connection drops or ctx is cancelled.
func (t *RedisTransport) Subscribe(ctx context.Context, jobID, docID string) (<-chan Event, error) {
	sub := t.client.Subscribe(ctx, channelKey(jobID, docID))

	// Force the subscription onto the wire so a dead broker fails here,
	// not silently inside the receive loop.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channelKey(jobID, docID), err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("malformed push event dropped", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Publish sends an event to any subscriber of the pair's channel.
func (t *RedisTransport) Publish(ctx context.Context, jobID, docID string, ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode push event: %w", err)
	}
	if err := t.client.Publish(ctx, channelKey(jobID, docID), data).Err(); err != nil {
		return fmt.Errorf("publish push event: %w", err)
	}
	return nil
}
