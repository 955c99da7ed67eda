package service

import (
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/lmsr"
)

// EngineConfig tunes the engine services.
type EngineConfig struct {
	FeeBps       int64
	Market       MarketConfig
	Version      string
	EventChannel string
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FeeBps:       lmsr.DefaultFeeBps,
		Market:       DefaultMarketConfig(),
		Version:      DefaultPlatformVersion,
		EventChannel: DefaultEventChannel,
	}
}

// EngineDeps are the storage and side-effect collaborators of the engine.
// Everything except Ledger and Logger may be nil.
type EngineDeps struct {
	Ledger      domain.Ledger
	MarketCache domain.MarketCache
	PriceCache  domain.PriceCache
	Bus         domain.SignalBus
	Audit       domain.AuditStore
	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	Hooks       []EventHook
	Logger      *slog.Logger
}

// Engine bundles every engine service over one shared ledger.
type Engine struct {
	LMSR      *lmsr.Engine
	Events    *Publisher
	Chain     *Chain
	Custody   *Custody
	Oracles   *OracleRegistry
	Vault     *Vault
	Markets   *MarketManager
	Orders    *OrderBook
	Platform  *Platform
	Snapshots *SnapshotService
}

// NewEngine wires the engine services.
func NewEngine(d EngineDeps, cfg EngineConfig) *Engine {
	engine := lmsr.New(cfg.FeeBps)
	events := NewPublisher(d.Bus, d.Audit, cfg.EventChannel, d.Logger, d.Hooks...)
	vault := NewVault(d.Ledger, d.Logger)
	markets := NewMarketManager(d.Ledger, engine, vault, d.MarketCache, d.PriceCache, events, cfg.Market, d.Logger)

	return &Engine{
		LMSR:      engine,
		Events:    events,
		Chain:     NewChain(d.Ledger, events, d.Logger),
		Custody:   NewCustody(d.Ledger, events, d.Logger),
		Oracles:   NewOracleRegistry(d.Ledger, events, d.Logger),
		Vault:     vault,
		Markets:   markets,
		Orders:    NewOrderBook(d.Ledger, engine, vault, markets, events, d.Logger),
		Platform:  NewPlatform(d.Ledger, markets, cfg.Version),
		Snapshots: NewSnapshotService(d.Ledger, d.BlobWriter, d.BlobReader, d.Logger),
	}
}
