package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// PositionStore implements domain.PositionStore inside a ledger transaction.
type PositionStore struct {
	q querier
}

const positionSelectCols = `user_addr, market_id, outcome, shares, avg_price,
	cost_basis, updated_height`

// positionOrder matches the in-memory ledger: market, outcome, then user in
// byte order.
const positionOrder = ` ORDER BY market_id, outcome, user_addr COLLATE "C"`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.User, &p.MarketID, &p.Outcome, &p.Shares, &p.AvgPrice,
			&p.CostBasis, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Get retrieves one position.
func (s *PositionStore) Get(ctx context.Context, key domain.PositionKey) (domain.Position, error) {
	var p domain.Position
	err := s.q.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		WHERE user_addr = $1 AND market_id = $2 AND outcome = $3`,
		key.User, key.MarketID, key.Outcome,
	).Scan(&p.User, &p.MarketID, &p.Outcome, &p.Shares, &p.AvgPrice, &p.CostBasis, &p.UpdatedAt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%d/%d: %w",
			key.User, key.MarketID, key.Outcome, notFound(err))
	}
	return p, nil
}

// Save upserts a position. Zero shares delete the row; negative shares fail
// with ErrInsufficientShares.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	if p.Shares < 0 {
		return fmt.Errorf("postgres: save position %s/%d/%d: %w", p.User, p.MarketID, p.Outcome, domain.ErrInsufficientShares)
	}
	if p.Shares == 0 {
		_, err := s.q.Exec(ctx,
			`DELETE FROM positions WHERE user_addr = $1 AND market_id = $2 AND outcome = $3`,
			p.User, p.MarketID, p.Outcome,
		)
		if err != nil {
			return fmt.Errorf("postgres: delete position %s/%d/%d: %w", p.User, p.MarketID, p.Outcome, err)
		}
		return nil
	}

	const query = `
		INSERT INTO positions (
			user_addr, market_id, outcome, shares, avg_price,
			cost_basis, updated_height
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_addr, market_id, outcome) DO UPDATE SET
			shares         = EXCLUDED.shares,
			avg_price      = EXCLUDED.avg_price,
			cost_basis     = EXCLUDED.cost_basis,
			updated_height = EXCLUDED.updated_height`
	_, err := s.q.Exec(ctx, query,
		p.User, p.MarketID, p.Outcome, p.Shares, p.AvgPrice,
		p.CostBasis, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s/%d/%d: %w", p.User, p.MarketID, p.Outcome, err)
	}
	return nil
}

func (s *PositionStore) list(ctx context.Context, op, where string, args ...any) ([]domain.Position, error) {
	rows, err := s.q.Query(ctx, `SELECT `+positionSelectCols+` FROM positions`+where+positionOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	return positions, nil
}

// ListByUser returns every position held by user.
func (s *PositionStore) ListByUser(ctx context.Context, user string) ([]domain.Position, error) {
	return s.list(ctx, "list positions by user "+user, ` WHERE user_addr = $1`, user)
}

// ListByMarket returns every position in a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.Position, error) {
	return s.list(ctx, fmt.Sprintf("list positions by market %d", marketID), ` WHERE market_id = $1`, marketID)
}

// All returns every open position.
func (s *PositionStore) All(ctx context.Context) ([]domain.Position, error) {
	return s.list(ctx, "list positions", "")
}
