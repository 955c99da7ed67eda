package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// DefaultEventChannel is the pub/sub channel engine events are published on.
const DefaultEventChannel = "events"

// EventHook observes every published event (metrics, notifications).
type EventHook func(ctx context.Context, evt domain.Event)

// Publisher delivers engine events once the transaction that produced them
// has committed. Every failure here is logged and swallowed: committed state
// is never rolled back because a side effect failed.
type Publisher struct {
	bus     domain.SignalBus
	audit   domain.AuditStore
	channel string
	hooks   []EventHook
	logger  *slog.Logger
}

// NewPublisher creates a Publisher. bus and audit may be nil.
func NewPublisher(
	bus domain.SignalBus,
	audit domain.AuditStore,
	channel string,
	logger *slog.Logger,
	hooks ...EventHook,
) *Publisher {
	if channel == "" {
		channel = DefaultEventChannel
	}
	return &Publisher{
		bus:     bus,
		audit:   audit,
		channel: channel,
		hooks:   hooks,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// AddHook registers an additional observer.
func (p *Publisher) AddHook(h EventHook) {
	p.hooks = append(p.hooks, h)
}

// Publish sends each event to the bus, the audit log and every hook.
func (p *Publisher) Publish(ctx context.Context, events ...domain.Event) {
	if p == nil {
		return
	}
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			p.logger.WarnContext(ctx, "marshal event failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
			continue
		}

		if p.bus != nil {
			if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
				p.logger.WarnContext(ctx, "publish event failed",
					slog.String("event", evt.Type),
					slog.String("error", err.Error()),
				)
			}
		}

		if p.audit != nil {
			if err := p.audit.Log(ctx, evt.Type, auditDetail(evt)); err != nil {
				p.logger.WarnContext(ctx, "audit log failed",
					slog.String("event", evt.Type),
					slog.String("error", err.Error()),
				)
			}
		}

		for _, h := range p.hooks {
			h(ctx, evt)
		}
	}
}

func auditDetail(evt domain.Event) map[string]any {
	d := make(map[string]any, len(evt.Detail)+3)
	for k, v := range evt.Detail {
		d[k] = v
	}
	d["height"] = evt.Height
	if evt.MarketID != 0 {
		d["market_id"] = evt.MarketID
	}
	if evt.User != "" {
		d["user"] = evt.User
	}
	return d
}
