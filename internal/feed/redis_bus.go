package feed

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	goredis "github.com/redis/go-redis/v9"

	"paintops/internal/logger"
	"paintops/internal/store"
)

// RedisBus fans change events out over a Redis pub/sub channel so every
// instance sees events relayed by any instance.
type RedisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisBus(log *logger.Logger, addr, channel string) (*RedisBus, error) {
	if log == nil {
		return nil, errors.New("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("missing redis addr")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "paintops:changes"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	return &RedisBus{
		log:     log.With("service", "RedisChangeBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev store.ChangeEvent) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis change bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) StartForwarder(ctx context.Context, onEvent func(ev store.ChangeEvent)) error {
	if b == nil || b.rdb == nil {
		return errors.New("redis change bus not initialized")
	}
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "redis subscribe")
	}

	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	go func() {
		defer func() {
			stop()
			_ = sub.Close()
		}()
		b.forward(ctx, sub, onEvent)
	}()

	return nil
}

// forward reads the subscription until ctx is done. go-redis reconnects and
// resubscribes on its own after a read error; messages published meanwhile
// are gone, so the resubscribe confirmation is turned into a resync event.
func (b *RedisBus) forward(ctx context.Context, sub *goredis.PubSub, onEvent func(ev store.ChangeEvent)) {
	broken := false
	for {
		msg, err := sub.ReceiveTimeout(ctx, time.Minute)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				_ = sub.Ping(ctx)
				continue
			}
			if errors.Is(err, goredis.ErrClosed) {
				return
			}
			if !broken {
				b.log.Warn("redis subscription broken, reconnecting", "error", err)
			}
			broken = true
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		broken = b.handle(msg, broken, onEvent)
	}
}

// handle processes one value read from the subscription and reports whether
// the subscription is still waiting to be re-established.
func (b *RedisBus) handle(msg any, broken bool, onEvent func(ev store.ChangeEvent)) bool {
	switch m := msg.(type) {
	case *goredis.Subscription:
		if m.Kind == "subscribe" && broken {
			b.log.Info("redis subscription restored, resyncing views")
			onEvent(store.ChangeEvent{Kind: store.KindResync, At: time.Now()})
			return false
		}
	case *goredis.Message:
		var ev store.ChangeEvent
		if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
			b.log.Warn("bad redis change payload", "error", err)
			return broken
		}
		onEvent(ev)
	}
	return broken
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
