package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

const subscriberBuffer = 256

// SignalBus implements domain.SignalBus on Redis Pub/Sub. Channel names are
// namespaced with the client's key prefix.
type SignalBus struct {
	client *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{client: c}
}

func (sb *SignalBus) channel(name string) string {
	return sb.client.Key("pubsub", name)
}

// Publish sends payload to every subscriber of channel. Pub/Sub does not
// buffer; replicas that are not subscribed miss the message.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.client.Underlying().Publish(ctx, sb.channel(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns payloads published on channel until ctx is cancelled,
// then closes the returned channel. go-redis resubscribes after a dropped
// connection; messages published meanwhile are lost.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.client.Underlying().Subscribe(ctx, sb.channel(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	msgs := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
