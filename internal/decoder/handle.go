package decoder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Factory builds a fresh decoder instance.
type Factory func(ctx context.Context) (domain.EventDecoder, error)

// Handle owns a lazily constructed decoder. The instance is built on first
// use and can be dropped with Reset; the next Decode call rebuilds it.
type Handle struct {
	factory Factory

	mu  sync.Mutex
	dec domain.EventDecoder
}

// NewHandle creates a Handle that builds decoders with factory.
func NewHandle(factory Factory) *Handle {
	return &Handle{factory: factory}
}

// Static returns a Handle that always hands out dec.
func Static(dec domain.EventDecoder) *Handle {
	return NewHandle(func(context.Context) (domain.EventDecoder, error) {
		return dec, nil
	})
}

// Get returns the current decoder, constructing it when needed.
func (h *Handle) Get(ctx context.Context) (domain.EventDecoder, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dec != nil {
		return h.dec, nil
	}
	dec, err := h.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("decoder: build: %w: %w", domain.ErrDecoderUnavailable, err)
	}
	h.dec = dec
	return dec, nil
}

// Reset drops the current decoder.
func (h *Handle) Reset() {
	h.mu.Lock()
	h.dec = nil
	h.mu.Unlock()
}

// Decode decodes logLines with the current decoder. When the decoder reports
// itself unavailable the handle is reset so the next call starts fresh.
func (h *Handle) Decode(ctx context.Context, logLines []string) ([]domain.LogEvent, error) {
	dec, err := h.Get(ctx)
	if err != nil {
		return nil, err
	}
	events, err := dec.Decode(ctx, logLines)
	if errors.Is(err, domain.ErrDecoderUnavailable) {
		h.Reset()
	}
	return events, err
}

var _ domain.EventDecoder = (*Handle)(nil)
