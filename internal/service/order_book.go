package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
	"github.com/alanyoungcy/wagerwars/internal/lmsr"
)

// OrderBook executes trades against the LMSR curve and settles claims.
type OrderBook struct {
	ledger  domain.Ledger
	engine  *lmsr.Engine
	vault   *Vault
	markets *MarketManager
	events  *Publisher
	logger  *slog.Logger
	newID   func() string
}

// NewOrderBook creates an OrderBook.
func NewOrderBook(
	ledger domain.Ledger,
	engine *lmsr.Engine,
	vault *Vault,
	markets *MarketManager,
	events *Publisher,
	logger *slog.Logger,
) *OrderBook {
	return &OrderBook{
		ledger:  ledger,
		engine:  engine,
		vault:   vault,
		markets: markets,
		events:  events,
		logger:  logger.With(slog.String("component", "order_book")),
		newID:   func() string { return uuid.New().String() },
	}
}

// tradeable loads a market and checks that it accepts trades in outcome.
func tradeable(ctx context.Context, tx domain.Tx, id uint64, outcome int) (domain.Market, uint64, error) {
	market, err := getMarketTx(ctx, tx, id)
	if err != nil {
		return domain.Market{}, 0, err
	}
	height, err := currentHeight(ctx, tx)
	if err != nil {
		return domain.Market{}, 0, err
	}
	if !market.CanTrade(height) {
		return domain.Market{}, 0, domain.ErrTradingClosed
	}
	if !market.HasOutcome(outcome) {
		return domain.Market{}, 0, domain.ErrInvalidOutcome
	}
	return market, height, nil
}

// CalculateBuyQuote previews spending amount (fee included) on outcome.
func (b *OrderBook) CalculateBuyQuote(ctx context.Context, id uint64, outcome int, amount int64) (domain.Quote, error) {
	var q domain.Quote
	err := b.ledger.View(ctx, func(tx domain.Tx) error {
		market, _, err := tradeable(ctx, tx, id, outcome)
		if err != nil {
			return err
		}
		q, err = b.engine.QuoteBuy(market.Quantities(), market.Liquidity, outcome, amount)
		return err
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("order_book: buy quote %d/%d: %w", id, outcome, err)
	}
	return q, nil
}

// CalculateSellQuote previews selling shares of outcome.
func (b *OrderBook) CalculateSellQuote(ctx context.Context, id uint64, outcome int, shares int64) (domain.Quote, error) {
	var q domain.Quote
	err := b.ledger.View(ctx, func(tx domain.Tx) error {
		market, _, err := tradeable(ctx, tx, id, outcome)
		if err != nil {
			return err
		}
		q, err = b.engine.QuoteSell(market.Quantities(), market.Liquidity, outcome, shares)
		return err
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("order_book: sell quote %d/%d: %w", id, outcome, err)
	}
	return q, nil
}

// BuyShares spends amount (fee included) from caller's balance on outcome,
// rejecting the trade when it would yield fewer than minShares.
func (b *OrderBook) BuyShares(ctx context.Context, caller string, id uint64, outcome int, amount, minShares int64) (domain.Trade, error) {
	user, err := NormalizeAddress(caller)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("order_book: buy %d/%d: %w", id, outcome, err)
	}
	if amount <= 0 {
		return domain.Trade{}, fmt.Errorf("order_book: buy %d/%d: %w", id, outcome, domain.ErrInvalidAmount)
	}

	var (
		trade  domain.Trade
		market domain.Market
	)
	err = b.ledger.Update(ctx, func(tx domain.Tx) error {
		var (
			height uint64
			err    error
		)
		market, height, err = tradeable(ctx, tx, id, outcome)
		if err != nil {
			return err
		}
		q, err := b.engine.QuoteBuy(market.Quantities(), market.Liquidity, outcome, amount)
		if err != nil {
			return err
		}
		if q.Shares < minShares {
			return domain.ErrSlippage
		}

		if err := debit(ctx, tx, user, q.Total); err != nil {
			return err
		}
		if err := b.vault.Deposit(ctx, tx, id, q.Total); err != nil {
			return err
		}

		market.Outcomes[outcome].Shares += q.Shares
		market.Volume += q.Total
		market.FeesCollected += q.Fee
		market.TradeCount++
		if err := tx.Markets().Update(ctx, market); err != nil {
			return err
		}

		if err := addToPosition(ctx, tx, user, id, outcome, q.Shares, q.Total, height); err != nil {
			return err
		}

		trade = domain.Trade{
			ID:       b.newID(),
			MarketID: id,
			Outcome:  outcome,
			User:     user,
			Side:     domain.TradeSideBuy,
			Shares:   q.Shares,
			Amount:   q.Total,
			Fee:      q.Fee,
			Price:    q.AveragePrice,
			Height:   height,
		}
		return tx.Trades().Insert(ctx, trade)
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("order_book: buy %d/%d: %w", id, outcome, err)
	}

	b.afterTrade(ctx, market, trade)
	return trade, nil
}

// SellShares sells shares of outcome back to the curve and credits the
// proceeds net of fee, rejecting the trade when proceeds < minProceeds.
func (b *OrderBook) SellShares(ctx context.Context, caller string, id uint64, outcome int, shares, minProceeds int64) (domain.Trade, error) {
	user, err := NormalizeAddress(caller)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("order_book: sell %d/%d: %w", id, outcome, err)
	}
	if shares <= 0 {
		return domain.Trade{}, fmt.Errorf("order_book: sell %d/%d: %w", id, outcome, domain.ErrInvalidAmount)
	}

	var (
		trade  domain.Trade
		market domain.Market
	)
	err = b.ledger.Update(ctx, func(tx domain.Tx) error {
		var (
			height uint64
			err    error
		)
		market, height, err = tradeable(ctx, tx, id, outcome)
		if err != nil {
			return err
		}

		key := domain.PositionKey{User: user, MarketID: id, Outcome: outcome}
		pos, err := tx.Positions().Get(ctx, key)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && pos.Shares < shares) {
			return domain.ErrInsufficientShares
		}
		if err != nil {
			return err
		}

		q, err := b.engine.QuoteSell(market.Quantities(), market.Liquidity, outcome, shares)
		if err != nil {
			return err
		}
		if q.Total < minProceeds {
			return domain.ErrSlippage
		}

		if err := b.vault.Release(ctx, tx, id, q.Total); err != nil {
			return err
		}
		if err := credit(ctx, tx, user, q.Total); err != nil {
			return err
		}

		market.Outcomes[outcome].Shares -= shares
		market.Volume += q.Total + q.Fee
		market.FeesCollected += q.Fee
		market.TradeCount++
		if err := tx.Markets().Update(ctx, market); err != nil {
			return err
		}

		if err := reducePosition(ctx, tx, pos, shares, height); err != nil {
			return err
		}

		trade = domain.Trade{
			ID:       b.newID(),
			MarketID: id,
			Outcome:  outcome,
			User:     user,
			Side:     domain.TradeSideSell,
			Shares:   shares,
			Amount:   q.Total,
			Fee:      q.Fee,
			Price:    q.AveragePrice,
			Height:   height,
		}
		return tx.Trades().Insert(ctx, trade)
	})
	if err != nil {
		return domain.Trade{}, fmt.Errorf("order_book: sell %d/%d: %w", id, outcome, err)
	}

	b.afterTrade(ctx, market, trade)
	return trade, nil
}

// addToPosition blends an incoming buy into the holder's position: the cost
// basis accumulates and the average price is cost basis over shares.
func addToPosition(ctx context.Context, tx domain.Tx, user string, id uint64, outcome int, shares, cost int64, height uint64) error {
	key := domain.PositionKey{User: user, MarketID: id, Outcome: outcome}
	pos, err := tx.Positions().Get(ctx, key)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		pos = domain.Position{User: user, MarketID: id, Outcome: outcome}
	case err != nil:
		return err
	}
	if pos.Shares, err = fixedpoint.Add(pos.Shares, shares); err != nil {
		return domain.ErrOverflow
	}
	if pos.CostBasis, err = fixedpoint.Add(pos.CostBasis, cost); err != nil {
		return domain.ErrOverflow
	}
	if pos.AvgPrice, err = fixedpoint.Div(pos.CostBasis, pos.Shares); err != nil {
		return domain.ErrOverflow
	}
	pos.UpdatedAt = height
	return tx.Positions().Save(ctx, pos)
}

// reducePosition removes shares, releasing the matching fraction of cost
// basis. The average entry price is unchanged by a sale.
func reducePosition(ctx context.Context, tx domain.Tx, pos domain.Position, shares int64, height uint64) error {
	released, err := fixedpoint.MulDiv(pos.CostBasis, shares, pos.Shares)
	if err != nil {
		return domain.ErrOverflow
	}
	pos.Shares -= shares
	pos.CostBasis -= released
	if pos.Shares == 0 {
		pos.CostBasis = 0
	}
	pos.UpdatedAt = height
	return tx.Positions().Save(ctx, pos)
}

func (b *OrderBook) afterTrade(ctx context.Context, market domain.Market, trade domain.Trade) {
	b.markets.invalidate(ctx, market.ID)
	if prices, err := b.engine.Prices(market.Quantities(), market.Liquidity); err == nil {
		b.markets.storePrices(ctx, market.ID, prices, uint64(market.TradeCount))
	}

	b.logger.InfoContext(ctx, "trade executed",
		slog.Uint64("market_id", trade.MarketID),
		slog.String("user", trade.User),
		slog.String("side", string(trade.Side)),
		slog.Int("outcome", trade.Outcome),
		slog.Int64("shares", trade.Shares),
		slog.Int64("amount", trade.Amount),
		slog.Int64("fee", trade.Fee),
	)
	b.events.Publish(ctx, domain.Event{
		Type:     domain.EventTradeExecuted,
		MarketID: trade.MarketID,
		User:     trade.User,
		Height:   trade.Height,
		Detail: map[string]any{
			"trade_id": trade.ID,
			"side":     string(trade.Side),
			"outcome":  trade.Outcome,
			"shares":   trade.Shares,
			"amount":   trade.Amount,
			"fee":      trade.Fee,
			"price":    trade.Price,
		},
	})
}

// GetUserPosition returns a position; ok is false when none is held.
func (b *OrderBook) GetUserPosition(ctx context.Context, user string, id uint64, outcome int) (domain.Position, bool, error) {
	addr, err := NormalizeAddress(user)
	if err != nil {
		return domain.Position{}, false, nil
	}
	var (
		pos domain.Position
		ok  bool
	)
	err = b.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		pos, err = tx.Positions().Get(ctx, domain.PositionKey{User: addr, MarketID: id, Outcome: outcome})
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		ok = err == nil
		return err
	})
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("order_book: position %q %d/%d: %w", addr, id, outcome, err)
	}
	return pos, ok, nil
}

// GetUserPositions returns every position held by user.
func (b *OrderBook) GetUserPositions(ctx context.Context, user string) ([]domain.Position, error) {
	addr, err := NormalizeAddress(user)
	if err != nil {
		return nil, fmt.Errorf("order_book: positions %q: %w", user, err)
	}
	var out []domain.Position
	err = b.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Positions().ListByUser(ctx, addr)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("order_book: positions %q: %w", addr, err)
	}
	return out, nil
}

// ClaimWinnings pays caller one settlement unit per share held in the
// resolved market's winning outcome and clears that position.
func (b *OrderBook) ClaimWinnings(ctx context.Context, caller string, id uint64) (int64, error) {
	user, err := NormalizeAddress(caller)
	if err != nil {
		return 0, fmt.Errorf("order_book: claim %d: %w", id, err)
	}

	var (
		payout int64
		height uint64
		winner int
	)
	err = b.ledger.Update(ctx, func(tx domain.Tx) error {
		market, err := getMarketTx(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case market.Status == domain.MarketStatusCancelled:
			return domain.ErrMarketCancelled
		case market.Status != domain.MarketStatusResolved || market.ResolvedOutcome == nil:
			return domain.ErrNotResolved
		}
		winner = *market.ResolvedOutcome

		pos, err := tx.Positions().Get(ctx, domain.PositionKey{User: user, MarketID: id, Outcome: winner})
		if errors.Is(err, domain.ErrNotFound) || (err == nil && pos.Shares <= 0) {
			return domain.ErrNoWinningShares
		}
		if err != nil {
			return err
		}

		// Each winning share redeems for exactly one unit.
		if payout, err = fixedpoint.Mul(pos.Shares, fixedpoint.Scale); err != nil {
			return domain.ErrOverflow
		}
		if err := b.vault.Release(ctx, tx, id, payout); err != nil {
			return err
		}
		if err := credit(ctx, tx, user, payout); err != nil {
			return err
		}
		if height, err = currentHeight(ctx, tx); err != nil {
			return err
		}
		pos.Shares = 0
		return tx.Positions().Save(ctx, pos)
	})
	if err != nil {
		return 0, fmt.Errorf("order_book: claim %d: %w", id, err)
	}

	b.logger.InfoContext(ctx, "winnings claimed",
		slog.Uint64("market_id", id),
		slog.String("user", user),
		slog.Int64("payout", payout),
	)
	b.events.Publish(ctx, domain.Event{
		Type:     domain.EventWinningsClaimed,
		MarketID: id,
		User:     user,
		Height:   height,
		Detail:   map[string]any{"outcome": winner, "payout": payout},
	})
	return payout, nil
}

// GetMarketTrades lists a market's trades in execution order.
func (b *OrderBook) GetMarketTrades(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	err := b.ledger.View(ctx, func(tx domain.Tx) error {
		if _, err := getMarketTx(ctx, tx, id); err != nil {
			return err
		}
		var err error
		out, err = tx.Trades().ListByMarket(ctx, id, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("order_book: trades %d: %w", id, err)
	}
	return out, nil
}
