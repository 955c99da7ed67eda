package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// Chain exposes the ledger height, the discrete time unit shared by every
// component.
type Chain struct {
	ledger domain.Ledger
	events *Publisher
	logger *slog.Logger
}

// NewChain creates a Chain service.
func NewChain(ledger domain.Ledger, events *Publisher, logger *slog.Logger) *Chain {
	return &Chain{
		ledger: ledger,
		events: events,
		logger: logger.With(slog.String("component", "chain")),
	}
}

// Height returns the current ledger height.
func (c *Chain) Height(ctx context.Context) (uint64, error) {
	var h uint64
	err := c.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		h, err = currentHeight(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("chain: height: %w", err)
	}
	return h, nil
}

// AdvanceHeight mines blocks empty blocks and returns the new height.
func (c *Chain) AdvanceHeight(ctx context.Context, blocks uint64) (uint64, error) {
	if blocks == 0 {
		return 0, fmt.Errorf("chain: advance: %w", domain.ErrInvalidBlocks)
	}
	var h uint64
	err := c.ledger.Update(ctx, func(tx domain.Tx) error {
		cur, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		h = cur + blocks
		if h < cur {
			return domain.ErrOverflow
		}
		return tx.Chain().SetHeight(ctx, h)
	})
	if err != nil {
		return 0, fmt.Errorf("chain: advance %d: %w", blocks, err)
	}

	c.logger.DebugContext(ctx, "height advanced", slog.Uint64("height", h))
	c.events.Publish(ctx, domain.Event{
		Type:   domain.EventHeightAdvanced,
		Height: h,
		Detail: map[string]any{"blocks": blocks},
	})
	return h, nil
}
