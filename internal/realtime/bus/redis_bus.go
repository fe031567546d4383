package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type redisBus struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
}

// NewRedisBus publishes on "<prefix>:<channel>". The client is owned by the
// caller and is not closed by Close.
func NewRedisBus(log *logger.Logger, rdb *goredis.Client, prefix string) (Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "docretrieval"
	}
	return &redisBus{log: log.With("service", "RedisBus"), rdb: rdb, prefix: prefix}, nil
}

func (b *redisBus) topic(channel string) string { return b.prefix + ":" + channel }

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.topic(msg.Channel), raw).Err()
}

func (b *redisBus) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	sub := b.rdb.Subscribe(ctx, b.topic(channel))
	// Receive blocks until the subscription is confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Message, 64)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad redis bus payload", "error", err)
					continue
				}
				select {
				case out <- msg:
				default:
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *redisBus) Close() error { return nil }
