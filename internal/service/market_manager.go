package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
	"github.com/alanyoungcy/wagerwars/internal/lmsr"
)

// Market manager defaults.
const (
	DefaultMinResolutionHorizon uint64 = 3600
	DefaultManagerStakeMin      int64  = 1_000_000_000
	DefaultMaxOutcomes                 = 10
	DefaultScalarBuckets               = 2
	DefaultCategory                    = "general"
)

// MarketConfig holds the market manager's tunables.
type MarketConfig struct {
	MinResolutionHorizon uint64
	ManagerStakeMin      int64
	MaxOutcomes          int
}

// DefaultMarketConfig returns the production defaults.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		MinResolutionHorizon: DefaultMinResolutionHorizon,
		ManagerStakeMin:      DefaultManagerStakeMin,
		MaxOutcomes:          DefaultMaxOutcomes,
	}
}

// MarketParams are the fields shared by every market kind.
type MarketParams struct {
	Question         string
	Description      string
	Category         string
	Metadata         string
	LockHeight       uint64
	ResolutionHeight uint64
	Oracle           string
	Liquidity        int64
}

// MarketManager owns market lifecycle state.
type MarketManager struct {
	ledger domain.Ledger
	engine *lmsr.Engine
	vault  *Vault
	cache  domain.MarketCache
	prices domain.PriceCache
	events *Publisher
	cfg    MarketConfig
	logger *slog.Logger

	// gens counts invalidations per market so a read that raced a commit
	// does not repopulate the cache with the pre-commit row.
	gensMu sync.Mutex
	gens   map[uint64]uint64
}

// NewMarketManager creates a MarketManager. cache and prices may be nil.
func NewMarketManager(
	ledger domain.Ledger,
	engine *lmsr.Engine,
	vault *Vault,
	cache domain.MarketCache,
	prices domain.PriceCache,
	events *Publisher,
	cfg MarketConfig,
	logger *slog.Logger,
) *MarketManager {
	if cfg.MaxOutcomes < 2 {
		cfg.MaxOutcomes = DefaultMaxOutcomes
	}
	return &MarketManager{
		ledger: ledger,
		engine: engine,
		vault:  vault,
		cache:  cache,
		prices: prices,
		events: events,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "market_manager")),
		gens:   make(map[uint64]uint64),
	}
}

// RegisterManagerOracle locks stake from caller as the manager-local
// authorization of an oracle. Repeat registrations add to the stake.
func (m *MarketManager) RegisterManagerOracle(ctx context.Context, caller string, stake int64) (domain.ManagerOracle, error) {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return domain.ManagerOracle{}, fmt.Errorf("market_manager: register oracle %q: %w", caller, err)
	}
	if stake < m.cfg.ManagerStakeMin || stake <= 0 {
		return domain.ManagerOracle{}, fmt.Errorf("market_manager: register oracle %q: %w", addr, domain.ErrStakeTooLow)
	}

	var o domain.ManagerOracle
	err = m.ledger.Update(ctx, func(tx domain.Tx) error {
		height, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		if err := debit(ctx, tx, addr, stake); err != nil {
			return err
		}
		o, err = tx.Oracles().GetManager(ctx, addr)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			o = domain.ManagerOracle{Address: addr, RegisteredHeight: height}
		case err != nil:
			return err
		}
		if o.Stake, err = fixedpoint.Add(o.Stake, stake); err != nil {
			return domain.ErrOverflow
		}
		return tx.Oracles().SaveManager(ctx, o)
	})
	if err != nil {
		return domain.ManagerOracle{}, fmt.Errorf("market_manager: register oracle %q: %w", addr, err)
	}

	m.logger.InfoContext(ctx, "manager oracle registered",
		slog.String("user", addr),
		slog.Int64("stake", o.Stake),
	)
	m.events.Publish(ctx, domain.Event{
		Type:   domain.EventOracleRegistered,
		User:   addr,
		Height: o.RegisteredHeight,
		Detail: map[string]any{"stake": o.Stake, "gate": "manager"},
	})
	return o, nil
}

// IsOracleAuthorized reports whether addr passes both authorization gates:
// a registry bond of at least bronze and a manager stake of at least the
// configured minimum.
func (m *MarketManager) IsOracleAuthorized(ctx context.Context, addr string) (bool, error) {
	a, err := NormalizeAddress(addr)
	if err != nil {
		return false, nil
	}
	var ok bool
	err = m.ledger.View(ctx, func(tx domain.Tx) error {
		authErr := m.authorizeOracle(ctx, tx, a)
		if authErr != nil && domain.KindOf(authErr) == domain.KindAuthorization {
			return nil
		}
		ok = authErr == nil
		return authErr
	})
	if err != nil {
		return false, fmt.Errorf("market_manager: authorized %q: %w", a, err)
	}
	return ok, nil
}

func (m *MarketManager) authorizeOracle(ctx context.Context, tx domain.Tx, addr string) error {
	o, err := tx.Oracles().Get(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrOracleNotRegistered
	}
	if err != nil {
		return err
	}
	if o.Bond < domain.BronzeBond {
		return domain.ErrBondTooLow
	}
	mo, err := tx.Oracles().GetManager(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrOracleNotAuthorized
	}
	if err != nil {
		return err
	}
	if mo.Stake < m.cfg.ManagerStakeMin {
		return domain.ErrOracleNotAuthorized
	}
	return nil
}

// CreateBinaryMarket creates a Yes/No market.
func (m *MarketManager) CreateBinaryMarket(ctx context.Context, caller string, p MarketParams) (uint64, error) {
	return m.create(ctx, caller, domain.MarketKindBinary, p, []string{"Yes", "No"}, nil)
}

// CreateCategoricalMarket creates a market with one outcome per label.
func (m *MarketManager) CreateCategoricalMarket(ctx context.Context, caller string, p MarketParams, labels []string) (uint64, error) {
	if len(labels) < 2 {
		return 0, fmt.Errorf("market_manager: create categorical: %w", domain.ErrTooFewOutcomes)
	}
	if len(labels) > m.cfg.MaxOutcomes {
		return 0, fmt.Errorf("market_manager: create categorical: %w", domain.ErrTooManyOutcomes)
	}
	clean := make([]string, len(labels))
	for i, l := range labels {
		clean[i] = strings.TrimSpace(l)
		if clean[i] == "" {
			return 0, fmt.Errorf("market_manager: create categorical: %w", domain.ErrEmptyOutcomeLabel)
		}
	}
	return m.create(ctx, caller, domain.MarketKindCategorical, p, clean, nil)
}

// CreateScalarMarket creates a market over [r.Min, r.Max] split into
// r.Buckets equal-width outcomes (DefaultScalarBuckets when zero).
func (m *MarketManager) CreateScalarMarket(ctx context.Context, caller string, p MarketParams, r domain.ScalarRange) (uint64, error) {
	if r.Min >= r.Max {
		return 0, fmt.Errorf("market_manager: create scalar: %w", domain.ErrInvalidScalarRange)
	}
	if r.Buckets == 0 {
		r.Buckets = DefaultScalarBuckets
	}
	if r.Buckets < 2 {
		return 0, fmt.Errorf("market_manager: create scalar: %w", domain.ErrTooFewOutcomes)
	}
	if r.Buckets > m.cfg.MaxOutcomes {
		return 0, fmt.Errorf("market_manager: create scalar: %w", domain.ErrTooManyOutcomes)
	}
	labels, err := scalarLabels(r)
	if err != nil {
		return 0, fmt.Errorf("market_manager: create scalar: %w", err)
	}
	return m.create(ctx, caller, domain.MarketKindScalar, p, labels, &r)
}

// scalarLabels names each bucket by its half-open range; the last bucket is
// closed at Max.
func scalarLabels(r domain.ScalarRange) ([]string, error) {
	span := uint64(r.Max - r.Min)
	width := span / uint64(r.Buckets)
	if width == 0 {
		return nil, domain.ErrInvalidScalarRange
	}
	unit := ""
	if r.Unit != "" {
		unit = " " + r.Unit
	}
	labels := make([]string, r.Buckets)
	lo := r.Min
	for i := range labels {
		hi := lo + int64(width)
		if i == r.Buckets-1 {
			labels[i] = fmt.Sprintf("[%d, %d]%s", lo, r.Max, unit)
			break
		}
		labels[i] = fmt.Sprintf("[%d, %d)%s", lo, hi, unit)
		lo = hi
	}
	return labels, nil
}

func (m *MarketManager) create(
	ctx context.Context,
	caller string,
	kind domain.MarketKind,
	p MarketParams,
	labels []string,
	scalar *domain.ScalarRange,
) (uint64, error) {
	op := "create " + string(kind)

	creator, err := NormalizeAddress(caller)
	if err != nil {
		return 0, fmt.Errorf("market_manager: %s: %w", op, err)
	}
	question := strings.TrimSpace(p.Question)
	if question == "" {
		return 0, fmt.Errorf("market_manager: %s: %w", op, domain.ErrEmptyQuestion)
	}
	if p.Liquidity <= 0 {
		return 0, fmt.Errorf("market_manager: %s: %w", op, domain.ErrInvalidLiquidity)
	}
	if p.LockHeight >= p.ResolutionHeight {
		return 0, fmt.Errorf("market_manager: %s: %w", op, domain.ErrInvalidTiming)
	}
	oracle, err := NormalizeAddress(p.Oracle)
	if err != nil {
		return 0, fmt.Errorf("market_manager: %s: oracle: %w", op, err)
	}
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = DefaultCategory
	}

	subsidy, err := m.engine.Subsidy(len(labels), p.Liquidity)
	if err != nil {
		return 0, fmt.Errorf("market_manager: %s: %w", op, err)
	}

	var market domain.Market
	err = m.ledger.Update(ctx, func(tx domain.Tx) error {
		height, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		if p.LockHeight <= height {
			return domain.ErrLockInPast
		}
		if p.ResolutionHeight < height+m.cfg.MinResolutionHorizon {
			return domain.ErrHorizonTooShort
		}
		if err := m.authorizeOracle(ctx, tx, oracle); err != nil {
			return err
		}

		id, err := tx.Chain().NextMarketID(ctx)
		if err != nil {
			return err
		}
		outcomes := make([]domain.Outcome, len(labels))
		for i, l := range labels {
			outcomes[i] = domain.Outcome{Index: i, Label: l}
		}
		market = domain.Market{
			ID:               id,
			Creator:          creator,
			Kind:             kind,
			Scalar:           scalar,
			Question:         question,
			Description:      strings.TrimSpace(p.Description),
			Category:         category,
			Metadata:         p.Metadata,
			Outcomes:         outcomes,
			Liquidity:        p.Liquidity,
			LockHeight:       p.LockHeight,
			ResolutionHeight: p.ResolutionHeight,
			CreatedHeight:    height,
			Oracle:           oracle,
			Status:           domain.MarketStatusOpen,
			Subsidy:          subsidy,
		}

		if err := debit(ctx, tx, creator, subsidy); err != nil {
			return err
		}
		if err := m.vault.Deposit(ctx, tx, id, subsidy); err != nil {
			return err
		}
		return tx.Markets().Insert(ctx, market)
	})
	if err != nil {
		return 0, fmt.Errorf("market_manager: %s: %w", op, err)
	}

	m.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", market.ID),
		slog.String("kind", string(kind)),
		slog.String("user", creator),
		slog.String("oracle", oracle),
		slog.Int64("subsidy", subsidy),
	)
	m.events.Publish(ctx, domain.Event{
		Type:     domain.EventMarketCreated,
		MarketID: market.ID,
		User:     creator,
		Height:   market.CreatedHeight,
		Detail: map[string]any{
			"kind":     string(kind),
			"question": question,
			"outcomes": len(labels),
			"oracle":   oracle,
		},
	})
	return market.ID, nil
}

// CanTrade reports whether the market accepts trades at the current height.
// Unknown markets cannot trade.
func (m *MarketManager) CanTrade(ctx context.Context, id uint64) (bool, error) {
	var ok bool
	err := m.ledger.View(ctx, func(tx domain.Tx) error {
		market, err := tx.Markets().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		height, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		ok = market.CanTrade(height)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("market_manager: can trade %d: %w", id, err)
	}
	return ok, nil
}

// ResolveMarket records the winning outcome. Only the assigned oracle may
// call it, only once, and only at or after the resolution height.
func (m *MarketManager) ResolveMarket(ctx context.Context, caller string, id uint64, outcome int) error {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return fmt.Errorf("market_manager: resolve %d: %w", id, err)
	}

	var height uint64
	err = m.ledger.Update(ctx, func(tx domain.Tx) error {
		market, err := getMarketTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if market.Oracle != addr {
			return domain.ErrNotResolver
		}
		switch market.Status {
		case domain.MarketStatusResolved:
			return domain.ErrAlreadyResolved
		case domain.MarketStatusCancelled:
			return domain.ErrMarketCancelled
		}
		if height, err = currentHeight(ctx, tx); err != nil {
			return err
		}
		if height < market.ResolutionHeight {
			return domain.ErrTooEarly
		}
		if !market.HasOutcome(outcome) {
			return domain.ErrInvalidOutcome
		}

		market.Status = domain.MarketStatusResolved
		market.ResolvedOutcome = &outcome
		if err := tx.Markets().Update(ctx, market); err != nil {
			return err
		}
		return recordResolution(ctx, tx, addr)
	})
	if err != nil {
		return fmt.Errorf("market_manager: resolve %d: %w", id, err)
	}

	m.invalidate(ctx, id)
	m.logger.InfoContext(ctx, "market resolved",
		slog.Uint64("market_id", id),
		slog.Int("outcome", outcome),
		slog.String("user", addr),
	)
	m.events.Publish(ctx, domain.Event{
		Type:     domain.EventMarketResolved,
		MarketID: id,
		User:     addr,
		Height:   height,
		Detail:   map[string]any{"outcome": outcome},
	})
	return nil
}

// CancelMarket cancels an open market that has not traded yet and refunds
// the creator's liquidity subsidy.
func (m *MarketManager) CancelMarket(ctx context.Context, caller string, id uint64) error {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return fmt.Errorf("market_manager: cancel %d: %w", id, err)
	}

	var (
		height uint64
		refund int64
	)
	err = m.ledger.Update(ctx, func(tx domain.Tx) error {
		market, err := getMarketTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if market.Creator != addr {
			return domain.ErrNotCreator
		}
		switch market.Status {
		case domain.MarketStatusResolved:
			return domain.ErrAlreadyResolved
		case domain.MarketStatusCancelled:
			return domain.ErrMarketCancelled
		}
		if market.TradeCount > 0 {
			return domain.ErrMarketHasTrades
		}
		if height, err = currentHeight(ctx, tx); err != nil {
			return err
		}

		refund = market.Subsidy
		if err := m.vault.Release(ctx, tx, id, refund); err != nil {
			return err
		}
		if err := credit(ctx, tx, addr, refund); err != nil {
			return err
		}
		market.Status = domain.MarketStatusCancelled
		return tx.Markets().Update(ctx, market)
	})
	if err != nil {
		return fmt.Errorf("market_manager: cancel %d: %w", id, err)
	}

	m.invalidate(ctx, id)
	m.logger.InfoContext(ctx, "market cancelled",
		slog.Uint64("market_id", id),
		slog.String("user", addr),
		slog.Int64("refund", refund),
	)
	m.events.Publish(ctx, domain.Event{
		Type:     domain.EventMarketCancelled,
		MarketID: id,
		User:     addr,
		Height:   height,
		Detail:   map[string]any{"refund": refund},
	})
	return nil
}

func getMarketTx(ctx context.Context, tx domain.Tx, id uint64) (domain.Market, error) {
	market, err := tx.Markets().Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Market{}, domain.ErrMarketNotFound
	}
	return market, err
}

// GetMarket returns a market; ok is false for unknown ids. Reads go through
// the market cache when one is configured.
func (m *MarketManager) GetMarket(ctx context.Context, id uint64) (domain.Market, bool, error) {
	if m.cache != nil {
		if market, err := m.cache.Get(ctx, id); err == nil {
			return market, true, nil
		}
	}

	gen := m.generation(id)
	var (
		market domain.Market
		ok     bool
	)
	err := m.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		market, err = tx.Markets().Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		ok = err == nil
		return err
	})
	if err != nil {
		return domain.Market{}, false, fmt.Errorf("market_manager: get %d: %w", id, err)
	}
	if !ok {
		return domain.Market{}, false, nil
	}

	if m.cache != nil && m.generation(id) == gen {
		if err := m.cache.Set(ctx, market); err != nil {
			m.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return market, true, nil
}

// ListMarkets returns markets matching f, ordered by id.
func (m *MarketManager) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	var out []domain.Market
	err := m.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Markets().List(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_manager: list: %w", err)
	}
	return out, nil
}

// GetMarketCount returns the number of markets ever created.
func (m *MarketManager) GetMarketCount(ctx context.Context) (int64, error) {
	var n int64
	err := m.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		n, err = tx.Markets().Count(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("market_manager: count: %w", err)
	}
	return n, nil
}

// GetPendingResolutions lists open markets assigned to oracle whose
// resolution height has been reached.
func (m *MarketManager) GetPendingResolutions(ctx context.Context, oracle string) ([]domain.Market, error) {
	addr, err := NormalizeAddress(oracle)
	if err != nil {
		return nil, fmt.Errorf("market_manager: pending resolutions %q: %w", oracle, err)
	}
	var out []domain.Market
	err = m.ledger.View(ctx, func(tx domain.Tx) error {
		height, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		assigned, err := tx.Markets().List(ctx, domain.MarketFilter{Oracle: addr, Status: domain.MarketStatusOpen})
		if err != nil {
			return err
		}
		for _, mk := range assigned {
			if height >= mk.ResolutionHeight {
				out = append(out, mk)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("market_manager: pending resolutions %q: %w", addr, err)
	}
	return out, nil
}

// GetPrices returns the current price of every outcome of a market. Cached
// vectors are served only while their version matches the market's trade
// count.
func (m *MarketManager) GetPrices(ctx context.Context, id uint64) ([]int64, error) {
	var market domain.Market
	err := m.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		market, err = getMarketTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("market_manager: prices %d: %w", id, err)
	}

	version := uint64(market.TradeCount)
	if m.prices != nil {
		if cached, v, err := m.prices.GetPrices(ctx, id); err == nil && v == version && len(cached) == len(market.Outcomes) {
			return cached, nil
		}
	}

	prices, err := m.engine.Prices(market.Quantities(), market.Liquidity)
	if err != nil {
		return nil, fmt.Errorf("market_manager: prices %d: %w", id, err)
	}
	m.storePrices(ctx, id, prices, version)
	return prices, nil
}

// GetCurrentPrice returns the price of one outcome.
func (m *MarketManager) GetCurrentPrice(ctx context.Context, id uint64, outcome int) (int64, error) {
	prices, err := m.GetPrices(ctx, id)
	if err != nil {
		return 0, err
	}
	if outcome < 0 || outcome >= len(prices) {
		return 0, fmt.Errorf("market_manager: price %d/%d: %w", id, outcome, domain.ErrInvalidOutcome)
	}
	return prices[outcome], nil
}

func (m *MarketManager) storePrices(ctx context.Context, id uint64, prices []int64, version uint64) {
	if m.prices == nil {
		return
	}
	if err := m.prices.SetPrices(ctx, id, prices, version); err != nil {
		m.logger.WarnContext(ctx, "price cache set failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (m *MarketManager) generation(id uint64) uint64 {
	m.gensMu.Lock()
	defer m.gensMu.Unlock()
	return m.gens[id]
}

func (m *MarketManager) invalidate(ctx context.Context, id uint64) {
	if m.cache == nil {
		return
	}
	m.gensMu.Lock()
	m.gens[id]++
	m.gensMu.Unlock()

	if err := m.cache.Invalidate(ctx, id); err != nil {
		m.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
