package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/logger"
)

// Broadcaster delivers an event to every subscriber of a channel. The handler
// pipeline only sees this interface; whether delivery is in-process or bridged
// through redis is a deployment detail.
type Broadcaster interface {
	Publish(ctx context.Context, channelName, event string, payload any) error
}

// Local delivers straight to the in-process hub. Used in -dev mode and in
// single-instance deployments.
type Local struct {
	hub *channel.Hub
}

func NewLocal(hub *channel.Hub) *Local {
	return &Local{hub: hub}
}

func (l *Local) Publish(_ context.Context, channelName, event string, payload any) error {
	l.hub.Publish(channelName, event, payload)
	return nil
}

// topic is the redis pub/sub topic all instances share.
const topic = "broadcast:events"

// envelope is the wire format on the redis topic. Data is pre-marshaled so
// the receiving side can forward it without knowing the payload type.
type envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// RedisBridge fans events out across instances: Publish pushes onto a shared
// redis topic, Run feeds everything from that topic into the local hub.
// Because an instance also receives its own publishes, callers must not
// additionally publish to the hub directly.
type RedisBridge struct {
	rdb *redis.Client
	hub *channel.Hub
}

func NewRedisBridge(rdb *redis.Client, hub *channel.Hub) *RedisBridge {
	return &RedisBridge{rdb: rdb, hub: hub}
}

func (b *RedisBridge) Publish(ctx context.Context, channelName, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("broadcast.Publish: marshal payload: %w", err)
	}
	env, err := json.Marshal(envelope{Channel: channelName, Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("broadcast.Publish: marshal envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic, env).Err(); err != nil {
		return fmt.Errorf("broadcast.Publish: %w", err)
	}
	return nil
}

// Run subscribes to the shared topic and forwards events to the local hub
// until ctx is canceled. Malformed envelopes are logged and skipped.
func (b *RedisBridge) Run(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Errorf("broadcast bridge: bad envelope: %v", err)
				continue
			}
			b.hub.Publish(env.Channel, env.Event, env.Data)
		}
	}
}
