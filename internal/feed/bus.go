package feed

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"paintops/internal/store"
)

// Bus carries change events from the relay to every process that serves
// views.
type Bus interface {
	Publish(ctx context.Context, ev store.ChangeEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev store.ChangeEvent)) error
	Close() error
}

// LocalBus delivers in-process. Used when no Redis is configured.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(store.ChangeEvent)
	closed   bool
}

func NewLocalBus() *LocalBus { return &LocalBus{} }

func (b *LocalBus) Publish(ctx context.Context, ev store.ChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.New("local bus closed")
	}
	for _, h := range b.handlers {
		h(ev)
	}
	return nil
}

func (b *LocalBus) StartForwarder(ctx context.Context, onEvent func(ev store.ChangeEvent)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("local bus closed")
	}
	b.handlers = append(b.handlers, onEvent)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	return nil
}
