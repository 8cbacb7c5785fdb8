package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// EventsChannel carries events produced outside the API process (archive worker).
	EventsChannel = "dvr:events"
	publishTTL    = 5 * time.Second
)

// redisPayload is the message published to Redis.
type redisPayload struct {
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	At      int64           `json:"at"`
}

// RedisPubSub bridges events between processes through Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishEvent publishes an event about eventID.
func (r *RedisPubSub) PublishEvent(eventID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	body, err := json.Marshal(redisPayload{EventID: eventID, Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, EventsChannel, body).Err()
}

// Forward subscribes to EventsChannel and rebroadcasts every message through
// hub until ctx is done.
func (r *RedisPubSub) Forward(ctx context.Context, hub *Hub) error {
	pubsub := r.client.Subscribe(ctx, EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Debug("invalid pubsub payload", zap.Error(err))
					continue
				}
				hub.Broadcast(p.EventID, p.Event, p.Data)
			}
		}
	}()
	return nil
}
