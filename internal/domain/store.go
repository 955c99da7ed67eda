package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Ledger is the authoritative engine state. Every command runs inside exactly
// one Update: the function's writes become visible together when it returns
// nil and are discarded entirely otherwise. Updates never run concurrently
// with each other.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the ledger tables inside one transaction.
type Tx interface {
	Chain() ChainStore
	Markets() MarketStore
	Positions() PositionStore
	Oracles() OracleStore
	Vaults() VaultStore
	Balances() BalanceStore
	Trades() TradeStore
}

// ChainStore holds the ledger height and the market id sequence.
type ChainStore interface {
	Height(ctx context.Context) (uint64, error)
	SetHeight(ctx context.Context, h uint64) error
	// NextMarketID returns the next id and advances the sequence. Ids start
	// at 1 and are never reused.
	NextMarketID(ctx context.Context) (uint64, error)
	PeekMarketID(ctx context.Context) (uint64, error)
	SetNextMarketID(ctx context.Context, id uint64) error
}

// MarketStore persists markets. Markets are never deleted.
type MarketStore interface {
	Insert(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	// Get returns ErrNotFound (wrapped) for unknown ids.
	Get(ctx context.Context, id uint64) (Market, error)
	List(ctx context.Context, f MarketFilter) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists positions. Saving a zero-share position removes it.
type PositionStore interface {
	Get(ctx context.Context, key PositionKey) (Position, error)
	Save(ctx context.Context, p Position) error
	ListByUser(ctx context.Context, user string) ([]Position, error)
	ListByMarket(ctx context.Context, marketID uint64) ([]Position, error)
	All(ctx context.Context) ([]Position, error)
}

// OracleStore persists both oracle authorization gates.
type OracleStore interface {
	Get(ctx context.Context, address string) (Oracle, error)
	Save(ctx context.Context, o Oracle) error
	List(ctx context.Context) ([]Oracle, error)
	GetManager(ctx context.Context, address string) (ManagerOracle, error)
	SaveManager(ctx context.Context, o ManagerOracle) error
	ListManager(ctx context.Context) ([]ManagerOracle, error)
}

// VaultStore persists per-market escrow accounts. Implementations reject a
// negative balance with ErrVaultUnderflow.
type VaultStore interface {
	Get(ctx context.Context, marketID uint64) (VaultAccount, error)
	Save(ctx context.Context, a VaultAccount) error
	List(ctx context.Context) ([]VaultAccount, error)
}

// BalanceStore persists custodial token balances and total supply.
type BalanceStore interface {
	Get(ctx context.Context, address string) (int64, error)
	Set(ctx context.Context, address string, amount int64) error
	List(ctx context.Context) ([]Balance, error)
	TotalSupply(ctx context.Context) (int64, error)
	SetTotalSupply(ctx context.Context, supply int64) error
}

// TradeStore records executed trades.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]Trade, error)
	CountUsers(ctx context.Context) (int64, error)
	All(ctx context.Context) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
