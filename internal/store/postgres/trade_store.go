package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// TradeStore implements domain.TradeStore inside a ledger transaction.
type TradeStore struct {
	q querier
}

const tradeSelectCols = `id, market_id, outcome, user_addr, side, shares,
	amount, fee, price, height`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t    domain.Trade
			side string
		)
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.Outcome, &t.User, &side, &t.Shares,
			&t.Amount, &t.Fee, &t.Price, &t.Height,
		); err != nil {
			return nil, err
		}
		t.Side = domain.TradeSide(side)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert records an executed trade. A duplicate id fails with
// ErrAlreadyExists.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, market_id, outcome, user_addr, side, shares,
			amount, fee, price, height
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.q.Exec(ctx, query,
		t.ID, t.MarketID, t.Outcome, t.User, string(t.Side), t.Shares,
		t.Amount, t.Fee, t.Price, t.Height,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByMarket returns a market's trades in execution order.
func (s *TradeStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE market_id = $1`
	args := []any{marketID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for market %d: %w", marketID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for market %d: %w", marketID, err)
	}
	return trades, nil
}

// CountUsers returns the number of distinct traders.
func (s *TradeStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRow(ctx, `SELECT COUNT(DISTINCT user_addr) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count traders: %w", err)
	}
	return n, nil
}

// All returns every trade in execution order.
func (s *TradeStore) All(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.q.Query(ctx, `SELECT `+tradeSelectCols+` FROM trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}
