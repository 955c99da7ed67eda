package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

// Vault escrows funds per market. Deposits and releases happen only inside a
// caller's ledger transaction, so a rejected release aborts the whole
// command.
type Vault struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewVault creates a Vault.
func NewVault(ledger domain.Ledger, logger *slog.Logger) *Vault {
	return &Vault{
		ledger: ledger,
		logger: logger.With(slog.String("component", "vault")),
	}
}

// Deposit adds amount to the market's account, creating it on first use.
func (v *Vault) Deposit(ctx context.Context, tx domain.Tx, marketID uint64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("vault: deposit %d: %w", marketID, domain.ErrInvalidAmount)
	}
	acct, err := tx.Vaults().Get(ctx, marketID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("vault: deposit %d: %w", marketID, err)
	}
	acct.MarketID = marketID
	if acct.Balance, err = fixedpoint.Add(acct.Balance, amount); err != nil {
		return fmt.Errorf("vault: deposit %d: %w", marketID, domain.ErrOverflow)
	}
	if err := tx.Vaults().Save(ctx, acct); err != nil {
		return fmt.Errorf("vault: deposit %d: %w", marketID, err)
	}
	return nil
}

// Release removes amount from the market's account. It fails with
// ErrVaultUnderflow, leaving the account untouched, when the balance would
// go negative or the account does not exist.
func (v *Vault) Release(ctx context.Context, tx domain.Tx, marketID uint64, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("vault: release %d: %w", marketID, domain.ErrInvalidAmount)
	}
	acct, err := tx.Vaults().Get(ctx, marketID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("vault: release %d: %w", marketID, domain.ErrVaultUnderflow)
	}
	if err != nil {
		return fmt.Errorf("vault: release %d: %w", marketID, err)
	}
	if acct.Balance < amount {
		v.logger.WarnContext(ctx, "release exceeds vault balance",
			slog.Uint64("market_id", marketID),
			slog.Int64("balance", acct.Balance),
			slog.Int64("amount", amount),
		)
		return fmt.Errorf("vault: release %d: %w", marketID, domain.ErrVaultUnderflow)
	}
	acct.Balance -= amount
	if err := tx.Vaults().Save(ctx, acct); err != nil {
		return fmt.Errorf("vault: release %d: %w", marketID, err)
	}
	return nil
}

// GetMarketBalance returns the market's locked balance; ok is false when the
// market has no vault account yet.
func (v *Vault) GetMarketBalance(ctx context.Context, marketID uint64) (balance int64, ok bool, err error) {
	err = v.ledger.View(ctx, func(tx domain.Tx) error {
		acct, err := tx.Vaults().Get(ctx, marketID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		balance, ok = acct.Balance, true
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("vault: get balance %d: %w", marketID, err)
	}
	return balance, ok, nil
}

// GetVaultStats sums all accounts.
func (v *Vault) GetVaultStats(ctx context.Context) (domain.VaultStats, error) {
	var stats domain.VaultStats
	err := v.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		stats, err = vaultStats(ctx, tx)
		return err
	})
	if err != nil {
		return domain.VaultStats{}, fmt.Errorf("vault: stats: %w", err)
	}
	return stats, nil
}

func vaultStats(ctx context.Context, tx domain.Tx) (domain.VaultStats, error) {
	accts, err := tx.Vaults().List(ctx)
	if err != nil {
		return domain.VaultStats{}, err
	}
	var stats domain.VaultStats
	for _, a := range accts {
		stats.TotalLocked += a.Balance
		stats.Accounts++
	}
	return stats, nil
}
