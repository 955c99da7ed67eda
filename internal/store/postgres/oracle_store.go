package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// OracleStore implements domain.OracleStore over the oracles (registry bond)
// and manager_oracles (manager stake) tables.
type OracleStore struct {
	q querier
}

const oracleCols = `address, bond, tier, resolutions, disputes, registered_height`

// Get retrieves a registry oracle.
func (s *OracleStore) Get(ctx context.Context, address string) (domain.Oracle, error) {
	var (
		o    domain.Oracle
		tier string
	)
	err := s.q.QueryRow(ctx, `SELECT `+oracleCols+` FROM oracles WHERE address = $1`, address).
		Scan(&o.Address, &o.Bond, &tier, &o.Resolutions, &o.Disputes, &o.RegisteredHeight)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("postgres: get oracle %s: %w", address, notFound(err))
	}
	o.Tier = domain.OracleTier(tier)
	return o, nil
}

// Save upserts a registry oracle.
func (s *OracleStore) Save(ctx context.Context, o domain.Oracle) error {
	const query = `
		INSERT INTO oracles (` + oracleCols + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			bond        = EXCLUDED.bond,
			tier        = EXCLUDED.tier,
			resolutions = EXCLUDED.resolutions,
			disputes    = EXCLUDED.disputes`
	_, err := s.q.Exec(ctx, query,
		o.Address, o.Bond, string(o.Tier), o.Resolutions, o.Disputes, o.RegisteredHeight,
	)
	if err != nil {
		return fmt.Errorf("postgres: save oracle %s: %w", o.Address, err)
	}
	return nil
}

// List returns every registry oracle ordered by address.
func (s *OracleStore) List(ctx context.Context) ([]domain.Oracle, error) {
	rows, err := s.q.Query(ctx, `SELECT `+oracleCols+` FROM oracles ORDER BY address COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list oracles: %w", err)
	}
	defer rows.Close()

	var oracles []domain.Oracle
	for rows.Next() {
		var (
			o    domain.Oracle
			tier string
		)
		if err := rows.Scan(&o.Address, &o.Bond, &tier, &o.Resolutions, &o.Disputes, &o.RegisteredHeight); err != nil {
			return nil, fmt.Errorf("postgres: scan oracle: %w", err)
		}
		o.Tier = domain.OracleTier(tier)
		oracles = append(oracles, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list oracles rows: %w", err)
	}
	return oracles, nil
}

// GetManager retrieves a manager stake record.
func (s *OracleStore) GetManager(ctx context.Context, address string) (domain.ManagerOracle, error) {
	var o domain.ManagerOracle
	err := s.q.QueryRow(ctx,
		`SELECT address, stake, registered_height FROM manager_oracles WHERE address = $1`, address,
	).Scan(&o.Address, &o.Stake, &o.RegisteredHeight)
	if err != nil {
		return domain.ManagerOracle{}, fmt.Errorf("postgres: get manager oracle %s: %w", address, notFound(err))
	}
	return o, nil
}

// SaveManager upserts a manager stake record.
func (s *OracleStore) SaveManager(ctx context.Context, o domain.ManagerOracle) error {
	const query = `
		INSERT INTO manager_oracles (address, stake, registered_height)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET stake = EXCLUDED.stake`
	if _, err := s.q.Exec(ctx, query, o.Address, o.Stake, o.RegisteredHeight); err != nil {
		return fmt.Errorf("postgres: save manager oracle %s: %w", o.Address, err)
	}
	return nil
}

// ListManager returns every manager stake record ordered by address.
func (s *OracleStore) ListManager(ctx context.Context) ([]domain.ManagerOracle, error) {
	rows, err := s.q.Query(ctx,
		`SELECT address, stake, registered_height FROM manager_oracles ORDER BY address COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list manager oracles: %w", err)
	}
	defer rows.Close()

	var out []domain.ManagerOracle
	for rows.Next() {
		var o domain.ManagerOracle
		if err := rows.Scan(&o.Address, &o.Stake, &o.RegisteredHeight); err != nil {
			return nil, fmt.Errorf("postgres: scan manager oracle: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list manager oracles rows: %w", err)
	}
	return out, nil
}
