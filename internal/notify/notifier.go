// Package notify announces finished reconstruction runs on chat channels.
// Notifications go to every registered sender and can be filtered by event
// type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// Event types accepted by the notifier's filter.
const (
	EventRunCompleted = "run_completed"
	EventRunCancelled = "run_cancelled"
	EventRunFailed    = "run_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards messages whose event type is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyRun announces a finished run under the event type matching its
// status.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.RunRecord) error {
	event, title, message := FormatRun(run)
	return n.Notify(ctx, event, title, message)
}

// FormatRun renders a run record as an event type, title and message body.
func FormatRun(run domain.RunRecord) (event, title, message string) {
	short := shortWallet(run.Wallet)
	switch run.Status {
	case domain.RunFailed:
		event = EventRunFailed
		title = "Reconstruction failed: " + short
	case domain.RunCancelled:
		event = EventRunCancelled
		title = "Reconstruction cancelled: " + short
	default:
		event = EventRunCompleted
		title = "Trade history ready: " + short
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trades: %d\n", run.Trades)
	fmt.Fprintf(&b, "Transactions: %d fetched, %d dropped of %d\n", run.Fetched, run.Dropped, run.Signatures)
	fmt.Fprintf(&b, "Decoded: %d\n", run.Decoded)
	fmt.Fprintf(&b, "Took: %s", run.Duration().Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", run.Error)
	}
	return event, title, b.String()
}

func shortWallet(wallet string) string {
	if len(wallet) <= 12 {
		return wallet
	}
	return wallet[:4] + "..." + wallet[len(wallet)-4:]
}

// dispatch iterates over all senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
