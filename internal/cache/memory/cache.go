package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/google/uuid"
)

// MarketCache implements domain.MarketCache with a plain map.
type MarketCache struct {
	mu      sync.RWMutex
	markets map[uint64]domain.Market
}

var _ domain.MarketCache = (*MarketCache)(nil)

// NewMarketCache creates an empty cache.
func NewMarketCache() *MarketCache {
	return &MarketCache{markets: make(map[uint64]domain.Market)}
}

func (c *MarketCache) Set(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m.Clone()
	return nil
}

func (c *MarketCache) Get(_ context.Context, id uint64) (domain.Market, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Clone(), nil
}

func (c *MarketCache) Invalidate(_ context.Context, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	return nil
}

type priceEntry struct {
	prices  []int64
	version uint64
}

// PriceCache implements domain.PriceCache with a plain map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[uint64]priceEntry
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[uint64]priceEntry)}
}

func (c *PriceCache) SetPrices(_ context.Context, marketID uint64, prices []int64, version uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[marketID] = priceEntry{prices: append([]int64(nil), prices...), version: version}
	return nil
}

func (c *PriceCache) GetPrices(_ context.Context, marketID uint64) ([]int64, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[marketID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	return append([]int64(nil), e.prices...), e.version, nil
}

// RateLimiter implements domain.RateLimiter with an in-memory sliding window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter using the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-window)
	kept := r.hits[key][:0]
	for _, t := range r.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		r.hits[key] = kept
		return false, nil
	}
	r.hits[key] = append(kept, now)
	return true, nil
}

// LockManager implements domain.LockManager within one process.
type LockManager struct {
	mu   sync.Mutex
	held map[string]lockEntry
	now  func() time.Time
}

type lockEntry struct {
	token   string
	expires time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lockEntry), now: time.Now}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.held[key]; ok && m.now().Before(e.expires) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	token := uuid.New().String()
	m.held[key] = lockEntry{token: token, expires: m.now().Add(ttl)}
	return &lease{m: m, key: key, token: token}, nil
}

type lease struct {
	m     *LockManager
	key   string
	token string
}

func (l *lease) Refresh(_ context.Context, ttl time.Duration) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	e, ok := l.m.held[l.key]
	if !ok || e.token != l.token || !l.m.now().Before(e.expires) {
		return fmt.Errorf("memory: refresh lock %s: %w", l.key, domain.ErrLockHeld)
	}
	e.expires = l.m.now().Add(ttl)
	l.m.held[l.key] = e
	return nil
}

func (l *lease) Release() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if e, ok := l.m.held[l.key]; ok && e.token == l.token {
		delete(l.m.held, l.key)
	}
}
