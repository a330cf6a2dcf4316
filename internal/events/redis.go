package events

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace/internal/domain/order"
)

// RedisPublisher fans events out over Redis pub/sub, for real-time push to
// merchant dashboards.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

var _ order.Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher publishes every event on channel.
func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish implements order.Publisher. Events are also published on a
// per-merchant channel "<channel>:<merchantID>".
func (p *RedisPublisher) Publish(ctx context.Context, e order.Event) error {
	data, err := Wrap(e).Encode()
	if err != nil {
		return err
	}
	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	if e.MerchantID != "" {
		pipe.Publish(ctx, p.channel+":"+e.MerchantID, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publish to redis")
	}
	return nil
}
