package bus

import (
	"context"
	"sync"
)

type memorySub struct {
	ch   chan Message
	once sync.Once
}

type memoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

// NewMemoryBus is the single-process bus used when redis is not configured.
func NewMemoryBus() Bus {
	return &memoryBus{subs: map[string]map[*memorySub]struct{}{}}
}

func (b *memoryBus) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[msg.Channel] {
		select {
		case s.ch <- msg:
		default:
			// slow subscriber; drop rather than block publishers
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	s := &memorySub{ch: make(chan Message, 64)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}, nil
	}
	if b.subs[channel] == nil {
		b.subs[channel] = map[*memorySub]struct{}{}
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], s)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return s.ch, cancel, nil
}

func (b *memoryBus) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[string]map[*memorySub]struct{}{}
	b.closed = true
	b.mu.Unlock()
	for _, set := range subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
	}
	return nil
}
