package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultChannel is the redis channel carrying change notifications.
const DefaultChannel = "medihub:events"

// RedisNotifier publishes events so other service instances can observe them.
type RedisNotifier struct {
	Client  *redis.Client
	Channel string
}

func (n RedisNotifier) channel() string {
	if n.Channel == "" {
		return DefaultChannel
	}
	return n.Channel
}

// Notify publishes ev as JSON.
func (n RedisNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Client == nil {
		return errors.New("events: redis client not configured")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.Client.Publish(ctx, n.channel(), data).Err()
}

// Listen re-delivers events published by other instances to local
// subscribers until ctx is cancelled. Events that originated on this bus are
// skipped.
func Listen(ctx context.Context, client *redis.Client, channel string, bus *Bus, logger zerolog.Logger) error {
	if client == nil || bus == nil {
		return errors.New("events: listener not configured")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	sub := client.Subscribe(ctx, channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("events: subscribe %s: %w", channel, err)
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn().Err(err).Str("channel", channel).Msg("discard malformed event")
				continue
			}
			if ev.Origin != "" && ev.Origin == bus.Origin {
				continue
			}
			bus.Deliver(ev)
		}
	}
}
