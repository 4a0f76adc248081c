// Package push publishes client-portal notifications over Redis pub/sub.
package push

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Channel is the pub/sub channel portal sessions subscribe to.
const Channel = "clientbilling:notifications"

type Message struct {
	Kind       string            `json:"kind"`
	CustomerID string            `json:"customer_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	SentAt     time.Time         `json:"sent_at"`
}

type Provider interface {
	Publish(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Publish(ctx context.Context, msg Message) error {
	return nil
}

type RedisProvider struct {
	client  *redis.Client
	channel string
}

func NewRedis(client *redis.Client) *RedisProvider {
	return &RedisProvider{client: client, channel: Channel}
}

func (p *RedisProvider) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}
