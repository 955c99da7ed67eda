package domain

import (
	"context"
	"time"
)

// PriceCache holds the latest outcome prices of each market, tagged with the
// market's trade count at the time they were computed. A cached vector is
// current only while its version equals the market's TradeCount.
type PriceCache interface {
	SetPrices(ctx context.Context, marketID uint64, prices []int64, version uint64) error
	GetPrices(ctx context.Context, marketID uint64) ([]int64, uint64, error)
}

// MarketCache provides fast market lookups for read-only queries.
type MarketCache interface {
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, id uint64) (Market, error)
	Invalidate(ctx context.Context, id uint64) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held lock. Refresh extends it while the holder still owns it and
// fails with ErrLockHeld once ownership has been lost. Release is idempotent.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking. Acquire fails with ErrLockHeld
// when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
