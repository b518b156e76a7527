package decoder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Safe wraps a decoder so that errors and panics yield zero events. Failures
// are logged at debug level; most transactions touching a wallet are not
// protocol transactions and fail to decode.
type Safe struct {
	inner  domain.EventDecoder
	logger *slog.Logger
}

// NewSafe wraps inner.
func NewSafe(inner domain.EventDecoder, logger *slog.Logger) *Safe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Safe{inner: inner, logger: logger.With(slog.String("component", "decoder"))}
}

// Decode never returns an error.
func (s *Safe) Decode(ctx context.Context, logLines []string) (events []domain.LogEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("decoder panicked", slog.String("panic", fmt.Sprint(r)))
			events, err = nil, nil
		}
	}()

	events, err = s.inner.Decode(ctx, logLines)
	if err != nil {
		s.logger.Debug("decode failed", slog.String("error", err.Error()))
		return nil, nil
	}
	return events, nil
}

var _ domain.EventDecoder = (*Safe)(nil)
