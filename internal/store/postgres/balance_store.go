package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// VaultStore implements domain.VaultStore on vault_accounts.
type VaultStore struct {
	q querier
}

// Get retrieves a market's vault account.
func (s *VaultStore) Get(ctx context.Context, marketID uint64) (domain.VaultAccount, error) {
	a := domain.VaultAccount{MarketID: marketID}
	err := s.q.QueryRow(ctx, `SELECT balance FROM vault_accounts WHERE market_id = $1`, marketID).Scan(&a.Balance)
	if err != nil {
		return domain.VaultAccount{}, fmt.Errorf("postgres: get vault %d: %w", marketID, notFound(err))
	}
	return a, nil
}

// Save upserts a vault account. A negative balance fails with
// ErrVaultUnderflow before reaching the database.
func (s *VaultStore) Save(ctx context.Context, a domain.VaultAccount) error {
	if a.Balance < 0 {
		return fmt.Errorf("postgres: save vault %d: %w", a.MarketID, domain.ErrVaultUnderflow)
	}
	const query = `
		INSERT INTO vault_accounts (market_id, balance) VALUES ($1, $2)
		ON CONFLICT (market_id) DO UPDATE SET balance = EXCLUDED.balance`
	if _, err := s.q.Exec(ctx, query, a.MarketID, a.Balance); err != nil {
		return fmt.Errorf("postgres: save vault %d: %w", a.MarketID, err)
	}
	return nil
}

// List returns every vault account ordered by market id.
func (s *VaultStore) List(ctx context.Context) ([]domain.VaultAccount, error) {
	rows, err := s.q.Query(ctx, `SELECT market_id, balance FROM vault_accounts ORDER BY market_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vaults: %w", err)
	}
	defer rows.Close()

	var out []domain.VaultAccount
	for rows.Next() {
		var a domain.VaultAccount
		if err := rows.Scan(&a.MarketID, &a.Balance); err != nil {
			return nil, fmt.Errorf("postgres: scan vault: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vaults rows: %w", err)
	}
	return out, nil
}

// BalanceStore implements domain.BalanceStore on balances and the supply
// column of ledger_meta.
type BalanceStore struct {
	q querier
}

// Get returns addr's balance, zero when it has none.
func (s *BalanceStore) Get(ctx context.Context, address string) (int64, error) {
	var amount int64
	err := s.q.QueryRow(ctx, `SELECT amount FROM balances WHERE address = $1`, address).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get balance %s: %w", address, err)
	}
	return amount, nil
}

// Set stores addr's balance. Zero removes the row; negative amounts fail
// with ErrInsufficientFunds.
func (s *BalanceStore) Set(ctx context.Context, address string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("postgres: set balance %s: %w", address, domain.ErrInsufficientFunds)
	}
	if amount == 0 {
		if _, err := s.q.Exec(ctx, `DELETE FROM balances WHERE address = $1`, address); err != nil {
			return fmt.Errorf("postgres: clear balance %s: %w", address, err)
		}
		return nil
	}
	const query = `
		INSERT INTO balances (address, amount) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET amount = EXCLUDED.amount`
	if _, err := s.q.Exec(ctx, query, address, amount); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", address, err)
	}
	return nil
}

// List returns every non-zero balance ordered by address.
func (s *BalanceStore) List(ctx context.Context) ([]domain.Balance, error) {
	rows, err := s.q.Query(ctx, `SELECT address, amount FROM balances ORDER BY address COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		if err := rows.Scan(&b.Address, &b.Amount); err != nil {
			return nil, fmt.Errorf("postgres: scan balance: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list balances rows: %w", err)
	}
	return out, nil
}

// TotalSupply returns the minted token supply.
func (s *BalanceStore) TotalSupply(ctx context.Context) (int64, error) {
	var supply int64
	if err := s.q.QueryRow(ctx, `SELECT total_supply FROM ledger_meta WHERE id = 1`).Scan(&supply); err != nil {
		return 0, fmt.Errorf("postgres: total supply: %w", err)
	}
	return supply, nil
}

// SetTotalSupply stores the minted token supply.
func (s *BalanceStore) SetTotalSupply(ctx context.Context, supply int64) error {
	if supply < 0 {
		return fmt.Errorf("postgres: set total supply %d: %w", supply, domain.ErrInvalidAmount)
	}
	if _, err := s.q.Exec(ctx, `UPDATE ledger_meta SET total_supply = $1 WHERE id = 1`, supply); err != nil {
		return fmt.Errorf("postgres: set total supply %d: %w", supply, err)
	}
	return nil
}
