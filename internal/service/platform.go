package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// DefaultPlatformVersion is reported by GetPlatformStats when no version is
// configured.
const DefaultPlatformVersion = "1.0.0"

// Platform is the top-level facade over the engine services.
type Platform struct {
	ledger  domain.Ledger
	markets *MarketManager
	version string
}

// NewPlatform creates a Platform facade.
func NewPlatform(ledger domain.Ledger, markets *MarketManager, version string) *Platform {
	if version == "" {
		version = DefaultPlatformVersion
	}
	return &Platform{ledger: ledger, markets: markets, version: version}
}

// CreateBinaryPrediction creates a binary market in the default category.
func (p *Platform) CreateBinaryPrediction(
	ctx context.Context,
	caller, question string,
	resolutionHeight, lockHeight uint64,
	oracle string,
	liquidity int64,
) (uint64, error) {
	return p.markets.CreateBinaryMarket(ctx, caller, MarketParams{
		Question:         question,
		Category:         DefaultCategory,
		LockHeight:       lockHeight,
		ResolutionHeight: resolutionHeight,
		Oracle:           oracle,
		Liquidity:        liquidity,
	})
}

// GetPlatformStats aggregates markets, volume, users, vaults and oracles
// from one consistent view of the ledger.
func (p *Platform) GetPlatformStats(ctx context.Context) (domain.PlatformStats, error) {
	stats := domain.PlatformStats{Version: p.version}
	err := p.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		if stats.Height, err = currentHeight(ctx, tx); err != nil {
			return err
		}
		markets, err := tx.Markets().List(ctx, domain.MarketFilter{})
		if err != nil {
			return err
		}
		for _, m := range markets {
			stats.TotalMarkets++
			stats.TotalVolume += m.Volume
			if m.CanTrade(stats.Height) {
				stats.ActiveMarkets++
			}
		}
		if stats.TotalUsers, err = tx.Trades().CountUsers(ctx); err != nil {
			return err
		}
		if stats.Vault, err = vaultStats(ctx, tx); err != nil {
			return err
		}
		stats.Oracles, err = oracleStats(ctx, tx)
		return err
	})
	if err != nil {
		return domain.PlatformStats{}, fmt.Errorf("platform: stats: %w", err)
	}
	return stats, nil
}
