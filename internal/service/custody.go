package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

// Settlement token metadata.
const (
	TokenName     = "USDCx (Mock)"
	TokenSymbol   = "USDCx"
	TokenDecimals = fixedpoint.Decimals
)

// Custody manages custodial balances of the settlement token. Minting is open
// to any caller: the token is a devnet mock.
type Custody struct {
	ledger domain.Ledger
	events *Publisher
	logger *slog.Logger
}

// NewCustody creates a Custody service.
func NewCustody(ledger domain.Ledger, events *Publisher, logger *slog.Logger) *Custody {
	return &Custody{
		ledger: ledger,
		events: events,
		logger: logger.With(slog.String("component", "custody")),
	}
}

// Mint creates amount new tokens in recipient's balance and returns the new
// balance.
func (c *Custody) Mint(ctx context.Context, caller, recipient string, amount int64) (int64, error) {
	to, err := NormalizeAddress(recipient)
	if err != nil {
		return 0, fmt.Errorf("custody: mint to %q: %w", recipient, err)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("custody: mint to %q: %w", to, domain.ErrInvalidAmount)
	}

	var (
		balance int64
		height  uint64
	)
	err = c.ledger.Update(ctx, func(tx domain.Tx) error {
		supply, err := tx.Balances().TotalSupply(ctx)
		if err != nil {
			return err
		}
		if supply, err = fixedpoint.Add(supply, amount); err != nil {
			return domain.ErrOverflow
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		if err := tx.Balances().SetTotalSupply(ctx, supply); err != nil {
			return err
		}
		if balance, err = tx.Balances().Get(ctx, to); err != nil {
			return err
		}
		height, err = currentHeight(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("custody: mint to %q: %w", to, err)
	}

	c.logger.InfoContext(ctx, "tokens minted",
		slog.String("user", to),
		slog.Int64("amount", amount),
	)
	c.events.Publish(ctx, domain.Event{
		Type:   domain.EventTokensMinted,
		User:   to,
		Height: height,
		Detail: map[string]any{"amount": amount, "minter": caller},
	})
	return balance, nil
}

// Transfer moves amount from caller to recipient.
func (c *Custody) Transfer(ctx context.Context, caller, recipient string, amount int64) error {
	from, err := NormalizeAddress(caller)
	if err != nil {
		return fmt.Errorf("custody: transfer from %q: %w", caller, err)
	}
	to, err := NormalizeAddress(recipient)
	if err != nil {
		return fmt.Errorf("custody: transfer to %q: %w", recipient, err)
	}
	if from == to {
		return fmt.Errorf("custody: transfer to %q: %w", to, domain.ErrSelfTransfer)
	}
	if amount <= 0 {
		return fmt.Errorf("custody: transfer to %q: %w", to, domain.ErrInvalidAmount)
	}

	var height uint64
	err = c.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := debit(ctx, tx, from, amount); err != nil {
			return err
		}
		if err := credit(ctx, tx, to, amount); err != nil {
			return err
		}
		height, err = currentHeight(ctx, tx)
		return err
	})
	if err != nil {
		return fmt.Errorf("custody: transfer to %q: %w", to, err)
	}

	c.events.Publish(ctx, domain.Event{
		Type:   domain.EventTokensTransfer,
		User:   from,
		Height: height,
		Detail: map[string]any{"amount": amount, "recipient": to},
	})
	return nil
}

// Balance returns the custodial balance of addr (zero when unknown).
func (c *Custody) Balance(ctx context.Context, addr string) (int64, error) {
	a, err := NormalizeAddress(addr)
	if err != nil {
		return 0, fmt.Errorf("custody: balance %q: %w", addr, err)
	}
	var bal int64
	err = c.ledger.View(ctx, func(tx domain.Tx) error {
		bal, err = tx.Balances().Get(ctx, a)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("custody: balance %q: %w", a, err)
	}
	return bal, nil
}

// TokenInfo returns the token metadata and current supply.
func (c *Custody) TokenInfo(ctx context.Context) (domain.TokenInfo, error) {
	info := domain.TokenInfo{Name: TokenName, Symbol: TokenSymbol, Decimals: TokenDecimals}
	err := c.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		info.TotalSupply, err = tx.Balances().TotalSupply(ctx)
		return err
	})
	if err != nil {
		return domain.TokenInfo{}, fmt.Errorf("custody: token info: %w", err)
	}
	return info, nil
}

// debit removes amount from addr's balance inside tx.
func debit(ctx context.Context, tx domain.Tx, addr string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	bal, err := tx.Balances().Get(ctx, addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return domain.ErrInsufficientFunds
	}
	return tx.Balances().Set(ctx, addr, bal-amount)
}

// credit adds amount to addr's balance inside tx.
func credit(ctx context.Context, tx domain.Tx, addr string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	bal, err := tx.Balances().Get(ctx, addr)
	if err != nil {
		return err
	}
	next, err := fixedpoint.Add(bal, amount)
	if err != nil {
		return errors.Join(domain.ErrOverflow, err)
	}
	return tx.Balances().Set(ctx, addr, next)
}
