package caches

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
)

// RedisBus carries invalidations between engine instances over redis
// pub/sub. Register it on an InvalidationHub to publish, and run Listen to
// apply invalidations published by other instances.
type RedisBus struct {
	client   *redis.Client
	channel  string
	instance string
	logger   logger.Logger
}

func NewRedisBus(client *redis.Client, prefix string, log logger.Logger) *RedisBus {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &RedisBus{client: client, channel: prefix + ":invalidate", instance: uuid.NewString(), logger: log}
}

// OnInvalidate publishes principalID. Messages read "<instance>:<principal>".
func (b *RedisBus) OnInvalidate(ctx context.Context, principalID int64) error {
	msg := b.instance + ":" + strconv.FormatInt(principalID, 10)
	return b.client.Publish(ctx, b.channel, msg).Err()
}

// Listen applies invalidations from other instances until ctx is done.
// ready, if non-nil, is closed once the subscription is active.
func (b *RedisBus) Listen(ctx context.Context, apply func(ctx context.Context, principalID int64) error, ready chan<- struct{}) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("caches: subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			from, rest, found := strings.Cut(m.Payload, ":")
			if !found || from == b.instance {
				continue
			}
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || id <= 0 {
				b.logger.Warn("malformed invalidation message", "payload", m.Payload)
				continue
			}
			if err := apply(ctx, id); err != nil {
				b.logger.Error("apply remote invalidation failed", "principal_id", id, "error", err)
			}
		}
	}
}

var _ permit.InvalidationSubscriber = (*RedisBus)(nil)
