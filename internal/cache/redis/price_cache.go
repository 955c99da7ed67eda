package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// prices live at "{prefix}prices:{marketID}" with one field per outcome
// ("0", "1", ...) plus "n" (outcome count) and "version".
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) key(marketID uint64) string {
	return pc.c.Key("prices", strconv.FormatUint(marketID, 10))
}

// encodePrices flattens a price vector into hash fields.
func encodePrices(prices []int64, version uint64) map[string]any {
	fields := make(map[string]any, len(prices)+2)
	for i, p := range prices {
		fields[strconv.Itoa(i)] = strconv.FormatInt(p, 10)
	}
	fields["n"] = strconv.Itoa(len(prices))
	fields["version"] = strconv.FormatUint(version, 10)
	return fields
}

// decodePrices is the inverse of encodePrices.
func decodePrices(vals map[string]string) ([]int64, uint64, error) {
	nStr, ok := vals["n"]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	n, err := strconv.Atoi(nStr)
	if err != nil {
		return nil, 0, fmt.Errorf("parse outcome count: %w", err)
	}
	prices := make([]int64, n)
	for i := range prices {
		if prices[i], err = strconv.ParseInt(vals[strconv.Itoa(i)], 10, 64); err != nil {
			return nil, 0, fmt.Errorf("parse price %d: %w", i, err)
		}
	}
	version, err := strconv.ParseUint(vals["version"], 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parse version: %w", err)
	}
	return prices, version, nil
}

// SetPrices replaces the cached prices of a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID uint64, prices []int64, version uint64) error {
	key := pc.key(marketID)
	pipe := pc.c.Underlying().TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodePrices(prices, version))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices %d: %w", marketID, err)
	}
	return nil
}

// GetPrices returns the cached prices and their version.
// It returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID uint64) ([]int64, uint64, error) {
	vals, err := pc.c.Underlying().HGetAll(ctx, pc.key(marketID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis: get prices %d: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, 0, domain.ErrNotFound
	}
	prices, version, err := decodePrices(vals)
	if err != nil {
		return nil, 0, fmt.Errorf("redis: get prices %d: %w", marketID, err)
	}
	return prices, version, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
