package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// ledgerLockKey is the pg_advisory_xact_lock key that serializes every
// ledger update across all engine processes sharing the database.
const ledgerLockKey int64 = 0x7761676572 // "wager"

// querier is the subset of pgx.Tx the row stores need.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger implements domain.Ledger on PostgreSQL. Each Update is one database
// transaction holding the ledger advisory lock, so commands are applied one
// at a time even with several processes attached.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool, logger *slog.Logger) *Ledger {
	return &Ledger{
		pool:   pool,
		logger: logger.With(slog.String("component", "postgres_ledger")),
	}
}

// Update runs fn inside a serialized read-write transaction and commits when
// fn returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger update: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			l.logger.WarnContext(ctx, "rollback failed", slog.String("error", rbErr.Error()))
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ledgerLockKey); err != nil {
		return fmt.Errorf("postgres: acquire ledger lock: %w", err)
	}
	if err := fn(newTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit ledger update: %w", err)
	}
	return nil
}

// View runs fn inside a read-only repeatable-read transaction so every read
// sees the same snapshot.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("postgres: begin ledger view: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	return fn(newTx(tx))
}

type ledgerTx struct {
	q querier
}

func newTx(q querier) *ledgerTx { return &ledgerTx{q: q} }

func (t *ledgerTx) Chain() domain.ChainStore { return &ChainStore{q: t.q} }
func (t *ledgerTx) Markets() domain.MarketStore { return &MarketStore{q: t.q} }
func (t *ledgerTx) Positions() domain.PositionStore { return &PositionStore{q: t.q} }
func (t *ledgerTx) Oracles() domain.OracleStore { return &OracleStore{q: t.q} }
func (t *ledgerTx) Vaults() domain.VaultStore { return &VaultStore{q: t.q} }
func (t *ledgerTx) Balances() domain.BalanceStore { return &BalanceStore{q: t.q} }
func (t *ledgerTx) Trades() domain.TradeStore { return &TradeStore{q: t.q} }

// ChainStore implements domain.ChainStore on the ledger_meta singleton row.
type ChainStore struct {
	q querier
}

// Height returns the persisted ledger height.
func (s *ChainStore) Height(ctx context.Context) (uint64, error) {
	var h uint64
	if err := s.q.QueryRow(ctx, `SELECT height FROM ledger_meta WHERE id = 1`).Scan(&h); err != nil {
		return 0, fmt.Errorf("postgres: get height: %w", err)
	}
	return h, nil
}

// SetHeight stores the ledger height.
func (s *ChainStore) SetHeight(ctx context.Context, h uint64) error {
	if _, err := s.q.Exec(ctx, `UPDATE ledger_meta SET height = $1 WHERE id = 1`, h); err != nil {
		return fmt.Errorf("postgres: set height %d: %w", h, err)
	}
	return nil
}

// NextMarketID returns the next market id and advances the sequence.
func (s *ChainStore) NextMarketID(ctx context.Context) (uint64, error) {
	const query = `
		UPDATE ledger_meta SET next_market_id = next_market_id + 1
		WHERE id = 1
		RETURNING next_market_id - 1`
	var id uint64
	if err := s.q.QueryRow(ctx, query).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: next market id: %w", err)
	}
	return id, nil
}

// PeekMarketID returns the id the next market will receive.
func (s *ChainStore) PeekMarketID(ctx context.Context) (uint64, error) {
	var id uint64
	if err := s.q.QueryRow(ctx, `SELECT next_market_id FROM ledger_meta WHERE id = 1`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: peek market id: %w", err)
	}
	return id, nil
}

// SetNextMarketID moves the id sequence; used by snapshot restore.
func (s *ChainStore) SetNextMarketID(ctx context.Context, id uint64) error {
	if id == 0 {
		return fmt.Errorf("postgres: set next market id %d: must be positive", id)
	}
	if _, err := s.q.Exec(ctx, `UPDATE ledger_meta SET next_market_id = $1 WHERE id = 1`, id); err != nil {
		return fmt.Errorf("postgres: set next market id %d: %w", id, err)
	}
	return nil
}

// notFound maps pgx.ErrNoRows onto domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
