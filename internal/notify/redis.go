package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"storyforge/pkg/logger"
)

// Redis publishes events on a single pub/sub channel. Failures are logged
// and dropped.
type Redis struct {
	rdb     *redis.Client
	channel string
}

func NewRedis(addr, channel string) *Redis {
	return &Redis{
		rdb:     redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

type envelope struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func (r *Redis) Publish(event string, data any) {
	payload, err := json.Marshal(envelope{Event: event, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		logger.Sugar.Errorf("Failed to marshal %s event: %v", event, err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
			logger.Sugar.Warnf("Failed to publish %s event: %v", event, err)
		}
	}()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
