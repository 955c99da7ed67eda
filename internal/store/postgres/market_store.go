package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// MarketStore implements domain.MarketStore inside a ledger transaction.
type MarketStore struct {
	q querier
}

const marketCols = `id, creator, kind, scalar, question, description,
	category, metadata, outcomes, liquidity, lock_height, resolution_height,
	created_height, oracle, status, resolved_outcome, subsidy, volume,
	fees_collected, trade_count`

// marketRow holds a market's JSONB columns in their encoded form.
type marketRow struct {
	scalar   []byte
	outcomes []byte
}

func encodeMarket(m domain.Market) (marketRow, error) {
	var r marketRow
	var err error
	if m.Scalar != nil {
		if r.scalar, err = json.Marshal(m.Scalar); err != nil {
			return marketRow{}, fmt.Errorf("marshal scalar: %w", err)
		}
	}
	if r.outcomes, err = json.Marshal(m.Outcomes); err != nil {
		return marketRow{}, fmt.Errorf("marshal outcomes: %w", err)
	}
	return r, nil
}

// Insert stores a new market. An existing id fails with ErrAlreadyExists.
func (s *MarketStore) Insert(ctx context.Context, m domain.Market) error {
	r, err := encodeMarket(m)
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	const query = `
		INSERT INTO markets (` + marketCols + `)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			$19, $20
		)`
	_, err = s.q.Exec(ctx, query,
		m.ID, m.Creator, string(m.Kind), r.scalar, m.Question, m.Description,
		m.Category, m.Metadata, r.outcomes, m.Liquidity, m.LockHeight, m.ResolutionHeight,
		m.CreatedHeight, m.Oracle, string(m.Status), m.ResolvedOutcome, m.Subsidy, m.Volume,
		m.FeesCollected, m.TradeCount,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, domain.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert market %d: %w", m.ID, err)
	}
	return nil
}

// Update overwrites the mutable columns of an existing market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	r, err := encodeMarket(m)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	const query = `
		UPDATE markets SET
			outcomes         = $2,
			status           = $3,
			resolved_outcome = $4,
			volume           = $5,
			fees_collected   = $6,
			trade_count      = $7,
			updated_at       = NOW()
		WHERE id = $1`
	tag, err := s.q.Exec(ctx, query,
		m.ID, r.outcomes, string(m.Status), m.ResolvedOutcome,
		m.Volume, m.FeesCollected, m.TradeCount,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                domain.Market
		kind, status     string
		scalar, outcomes []byte
	)
	err := row.Scan(
		&m.ID, &m.Creator, &kind, &scalar, &m.Question, &m.Description,
		&m.Category, &m.Metadata, &outcomes, &m.Liquidity, &m.LockHeight, &m.ResolutionHeight,
		&m.CreatedHeight, &m.Oracle, &status, &m.ResolvedOutcome, &m.Subsidy, &m.Volume,
		&m.FeesCollected, &m.TradeCount,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Kind = domain.MarketKind(kind)
	m.Status = domain.MarketStatus(status)
	if len(scalar) > 0 {
		m.Scalar = new(domain.ScalarRange)
		if err := json.Unmarshal(scalar, m.Scalar); err != nil {
			return domain.Market{}, fmt.Errorf("unmarshal scalar: %w", err)
		}
	}
	if err := json.Unmarshal(outcomes, &m.Outcomes); err != nil {
		return domain.Market{}, fmt.Errorf("unmarshal outcomes: %w", err)
	}
	return m, nil
}

// Get retrieves a market by id.
func (s *MarketStore) Get(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.q.QueryRow(ctx, `SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, notFound(err))
	}
	return m, nil
}

// marketListQuery builds the filtered, paginated market listing.
func marketListQuery(f domain.MarketFilter) (string, []any) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	add := func(col string, v any) {
		query += fmt.Sprintf(" AND %s = $%d", col, argIdx)
		args = append(args, v)
		argIdx++
	}
	if f.Kind != "" {
		add("kind", string(f.Kind))
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.Oracle != "" {
		add("oracle", f.Oracle)
	}

	query += " ORDER BY id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}
	return query, args
}

// List returns markets matching f ordered by id.
func (s *MarketStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	query, args := marketListQuery(f)
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	markets := []domain.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
