package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pusher/pusher-http-go/v5"
	"github.com/redis/go-redis/v9"

	"github.com/warp/allocation-engine/generic"
)

// RedisPublisher publishes events on a Redis pub/sub channel.
// Events of every kind share the channel; subscribers filter on "kind".
type RedisPublisher struct {
	Client  redis.UniversalClient
	Channel string
}

// NewRedisPublisher connects to the Redis server at url (redis://...).
func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisPublisher{Client: redis.NewClient(opts), Channel: channel}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, e generic.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.Client.Publish(ctx, p.Channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", e.ID, err)
	}
	return nil
}

// Triggerer is the slice of the Pusher client the publisher uses.
type Triggerer interface {
	Trigger(channel string, eventName string, data interface{}) error
}

// PusherPublisher broadcasts events to live map clients over Pusher.
// The Pusher event name is the event type.
type PusherPublisher struct {
	Client  Triggerer
	Channel string
}

// PusherConfig configures the Pusher client.
type PusherConfig struct {
	AppID   string
	Key     string
	Secret  string
	Cluster string
	Channel string
}

func NewPusherPublisher(cfg PusherConfig) *PusherPublisher {
	return &PusherPublisher{
		Client: &pusher.Client{
			AppID:   cfg.AppID,
			Key:     cfg.Key,
			Secret:  cfg.Secret,
			Cluster: cfg.Cluster,
			Secure:  true,
		},
		Channel: cfg.Channel,
	}
}

func (p *PusherPublisher) Publish(_ context.Context, e generic.Event) error {
	if err := p.Client.Trigger(p.Channel, e.Type, e); err != nil {
		return fmt.Errorf("pusher trigger %s: %w", e.ID, err)
	}
	return nil
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []generic.Publisher

func (f Fanout) Publish(ctx context.Context, e generic.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
