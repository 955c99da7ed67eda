// Package notify forwards engine events to operator chat channels. Events are
// queued by the engine hook and delivered by a background worker so a slow
// webhook never holds up command processing.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// DefaultQueueSize bounds the number of undelivered events.
const DefaultQueueSize = 256

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type notification struct {
	event, title, message string
}

// Notifier dispatches notifications to every Sender. Only event types in the
// allowed set are forwarded; an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan notification
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. queueSize <= 0 uses DefaultQueueSize.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan notification, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

func (n *Notifier) allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers one message synchronously if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.allows(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// HandleEvent is an engine event hook. It never blocks: when the queue is
// full the event is dropped with a warning.
func (n *Notifier) HandleEvent(ctx context.Context, evt domain.Event) {
	if !n.Enabled() || !n.allows(evt.Type) {
		return
	}
	title, message := Describe(evt)
	select {
	case n.queue <- notification{event: evt.Type, title: title, message: message}:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping event",
			slog.String("event", evt.Type),
			slog.Uint64("market_id", evt.MarketID),
		)
	}
}

// Run delivers queued events until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-n.queue:
			if err := n.dispatch(ctx, msg.title, msg.message); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", msg.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Flush delivers whatever is queued and returns. One-shot commands call it
// before exiting because no Run loop is draining the queue.
func (n *Notifier) Flush(ctx context.Context) {
	for {
		select {
		case msg := <-n.queue:
			if err := n.dispatch(ctx, msg.title, msg.message); err != nil {
				n.logger.WarnContext(ctx, "notification failed",
					slog.String("event", msg.event),
					slog.String("error", err.Error()),
				)
			}
		default:
			return
		}
	}
}

// dispatch sends to every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), err)
	}
	return nil
}
