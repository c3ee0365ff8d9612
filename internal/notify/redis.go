package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisNotifier implements ChangeNotifier over redis pub/sub.
type RedisNotifier struct {
	Client *redis.Client
	Logger *zap.SugaredLogger
}

func NewRedisNotifier(addr string, logger *zap.SugaredLogger) *RedisNotifier {
	return &RedisNotifier{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		Logger: logger,
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, channel string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err = n.Client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish change event: %w", err)
	}

	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := n.Client.Subscribe(ctx, channel)

	// Force the subscribe round trip so a dead broker fails here, not on the
	// first receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		logger: n.Logger,
		events: make(chan Event, 16),
		errs:   make(chan error, 1),
	}
	go sub.loop(ctx)

	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	logger *zap.SugaredLogger
	events chan Event
	errs   chan error
}

func (s *redisSubscription) Events() <-chan Event { return s.events }
func (s *redisSubscription) Err() <-chan error    { return s.errs }

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func (s *redisSubscription) loop(ctx context.Context) {
	defer close(s.events)

	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case s.errs <- err:
			default:
			}
			time.Sleep(time.Second)
			continue
		}

		var event Event
		if err = json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warnw("failed to decode change event", "error", err)
			continue
		}

		select {
		case s.events <- event:
		case <-ctx.Done():
			return
		}
	}
}
