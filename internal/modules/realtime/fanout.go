// README: Redis pub/sub fan-out so every API instance delivers to its own sockets.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fanoutPrefix   = "haul:rt:"
	fanoutRetryMin = 100 * time.Millisecond
	fanoutRetryMax = 10 * time.Second
)

var errSubscriptionClosed = errors.New("fan-out subscription closed")

type RedisFanout struct {
	rdb *redis.Client
	hub *Hub
	log *slog.Logger
}

func NewRedisFanout(rdb *redis.Client, hub *Hub, log *slog.Logger) *RedisFanout {
	return &RedisFanout{rdb: rdb, hub: hub, log: log}
}

func (f *RedisFanout) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.rdb.Publish(ctx, fanoutPrefix+channel, payload).Err()
}

// Run delivers every fanned-out payload to local subscribers until ctx ends.
// A subscription that fails or drops is retried with capped backoff. ready,
// if non-nil, is closed once the first subscription is active.
func (f *RedisFanout) Run(ctx context.Context, ready chan<- struct{}) {
	backoff := fanoutRetryMin
	for {
		active, err := f.subscribe(ctx, ready)
		if ctx.Err() != nil {
			return
		}
		if active {
			ready = nil
			backoff = fanoutRetryMin
		}
		f.log.Warn("realtime fan-out subscription failed, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, fanoutRetryMax)
	}
}

// subscribe holds one pattern subscription. active reports whether it got as
// far as delivering.
func (f *RedisFanout) subscribe(ctx context.Context, ready chan<- struct{}) (active bool, err error) {
	sub := f.rdb.PSubscribe(ctx, fanoutPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return false, err
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case msg, ok := <-ch:
			if !ok {
				return true, errSubscriptionClosed
			}
			channel := strings.TrimPrefix(msg.Channel, fanoutPrefix)
			f.hub.Deliver(channel, []byte(msg.Payload))
		}
	}
}
