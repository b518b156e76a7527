package memory

import (
	"context"
	"path"
	"sync"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus fans payloads out to in-process subscribers. Channel names may
// be glob patterns ("progress:*"). Slow subscribers drop messages rather
// than block publishers.
type SignalBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[int]subscriber)}
}

func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		msg := append([]byte(nil), payload...)
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription that lives until ctx is cancelled, at
// which point the returned channel is closed.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
