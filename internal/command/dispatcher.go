// Package command is the engine's command surface: it parses command-line
// invocations into commands and executes commands against the engine
// services, for the one-shot CLI and the ledger processor alike.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/service"
)

// Engine-level errors raised by the command surface itself.
var (
	ErrUnknownCommand = &domain.Error{Kind: domain.KindValidation, Code: "unknown_command", Message: "unknown command"}
	ErrInvalidArgs    = &domain.Error{Kind: domain.KindValidation, Code: "invalid_args", Message: "invalid command arguments"}
	ErrNoCaller       = &domain.Error{Kind: domain.KindAuthorization, Code: "no_caller", Message: "state-changing command needs a caller"}
)

type handlerFunc func(ctx context.Context, caller string, args json.RawMessage) (any, error)

// handle adapts a typed handler. Unknown argument keys are rejected so a
// misspelled flag in a signed envelope fails instead of defaulting to zero.
func handle[A any](fn func(ctx context.Context, caller string, a A) (any, error)) handlerFunc {
	return func(ctx context.Context, caller string, raw json.RawMessage) (any, error) {
		var a A
		if len(bytes.TrimSpace(raw)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
			}
		}
		return fn(ctx, caller, a)
	}
}

// Dispatcher executes commands against one engine.
type Dispatcher struct {
	engine   *service.Engine
	handlers map[string]handlerFunc
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher for engine.
func NewDispatcher(engine *service.Engine, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		engine: engine,
		logger: logger.With(slog.String("component", "dispatcher")),
	}
	d.handlers = d.routes()
	return d
}

// Execute runs cmd on behalf of caller and returns its JSON-serialisable
// result. State-changing commands require a caller.
func (d *Dispatcher) Execute(ctx context.Context, caller string, cmd domain.Command) (any, error) {
	def, ok := Lookup(cmd.Name)
	h, routed := d.handlers[cmd.Name]
	if !ok || !routed {
		return nil, fmt.Errorf("command: %q: %w", cmd.Name, ErrUnknownCommand)
	}
	if def.Mutates && caller == "" {
		return nil, fmt.Errorf("command: %q: %w", cmd.Name, ErrNoCaller)
	}

	v, err := h(ctx, caller, cmd.Args)
	if err != nil {
		d.logger.DebugContext(ctx, "command failed",
			slog.String("command", cmd.Name),
			slog.String("caller", caller),
			slog.String("code", domain.CodeOf(err)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("command: %q: %w", cmd.Name, err)
	}
	return v, nil
}

// Absent is the explicit "none" marker of read commands.
type Absent struct {
	Found bool `json:"found"`
}

var absent = Absent{Found: false}

type (
	marketArgs struct {
		Question         string   `json:"question"`
		Description      string   `json:"description"`
		Category         string   `json:"category"`
		Metadata         string   `json:"metadata"`
		LockHeight       uint64   `json:"lockHeight"`
		ResolutionHeight uint64   `json:"resolutionHeight"`
		Oracle           string   `json:"oracle"`
		Liquidity        int64    `json:"liquidity"`
		Outcomes         []string `json:"outcomes"`
		Min              int64    `json:"min"`
		Max              int64    `json:"max"`
		Unit             string   `json:"unit"`
		Buckets          int      `json:"buckets"`
	}
	marketRef struct {
		MarketID uint64 `json:"marketId"`
		Outcome  int    `json:"outcome"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	tradeArgs struct {
		MarketID    uint64 `json:"marketId"`
		Outcome     int    `json:"outcome"`
		Amount      int64  `json:"amount"`
		Shares      int64  `json:"shares"`
		MinShares   int64  `json:"minShares"`
		MinProceeds int64  `json:"minProceeds"`
	}
	positionArgs struct {
		User     string `json:"user"`
		MarketID uint64 `json:"marketId"`
		Outcome  int    `json:"outcome"`
	}
	listArgs struct {
		Kind     string `json:"kind"`
		Category string `json:"category"`
		Status   string `json:"status"`
		Oracle   string `json:"oracle"`
		Limit    int    `json:"limit"`
		Offset   int    `json:"offset"`
	}
	addressArgs struct {
		Address string `json:"address"`
		Oracle  string `json:"oracle"`
	}
	fundsArgs struct {
		Amount    int64  `json:"amount"`
		Recipient string `json:"recipient"`
		Bond      int64  `json:"bond"`
		Stake     int64  `json:"stake"`
	}
	blocksArgs struct {
		Blocks uint64 `json:"blocks"`
	}
	noArgs struct{}
)

func (a marketArgs) params() service.MarketParams {
	return service.MarketParams{
		Question:         a.Question,
		Description:      a.Description,
		Category:         a.Category,
		Metadata:         a.Metadata,
		LockHeight:       a.LockHeight,
		ResolutionHeight: a.ResolutionHeight,
		Oracle:           a.Oracle,
		Liquidity:        a.Liquidity,
	}
}

type (
	marketCreated struct {
		MarketID uint64 `json:"marketId"`
	}
	marketView struct {
		domain.Market
		EffectiveStatus domain.MarketStatus `json:"effectiveStatus"`
		Height          uint64              `json:"height"`
	}
	boolResult struct {
		Value bool `json:"value"`
	}
	amountResult struct {
		Amount  int64  `json:"amount"`
		Display string `json:"display"`
	}
	balanceResult struct {
		Address string `json:"address"`
		Balance int64  `json:"balance"`
		Display string `json:"display"`
	}
	priceResult struct {
		MarketID uint64  `json:"marketId"`
		Prices   []int64 `json:"prices"`
	}
	oracleView struct {
		domain.Oracle
		SuccessRate int64 `json:"successRate"`
	}
	countResult struct {
		Count int64 `json:"count"`
	}
	heightResult struct {
		Height uint64 `json:"height"`
	}
	okResult struct {
		OK bool `json:"ok"`
	}
)

func amountOf(v int64) amountResult {
	return amountResult{Amount: v, Display: FormatAmount(v)}
}

func (d *Dispatcher) routes() map[string]handlerFunc {
	e := d.engine
	return map[string]handlerFunc{
		"create-binary-market": handle(func(ctx context.Context, caller string, a marketArgs) (any, error) {
			id, err := e.Markets.CreateBinaryMarket(ctx, caller, a.params())
			return marketCreated{MarketID: id}, err
		}),
		"create-categorical-market": handle(func(ctx context.Context, caller string, a marketArgs) (any, error) {
			id, err := e.Markets.CreateCategoricalMarket(ctx, caller, a.params(), a.Outcomes)
			return marketCreated{MarketID: id}, err
		}),
		"create-scalar-market": handle(func(ctx context.Context, caller string, a marketArgs) (any, error) {
			id, err := e.Markets.CreateScalarMarket(ctx, caller, a.params(), domain.ScalarRange{
				Min: a.Min, Max: a.Max, Unit: a.Unit, Buckets: a.Buckets,
			})
			return marketCreated{MarketID: id}, err
		}),
		"create-binary-prediction": handle(func(ctx context.Context, caller string, a marketArgs) (any, error) {
			id, err := e.Platform.CreateBinaryPrediction(ctx, caller, a.Question, a.ResolutionHeight, a.LockHeight, a.Oracle, a.Liquidity)
			return marketCreated{MarketID: id}, err
		}),
		"resolve-market": handle(func(ctx context.Context, caller string, a marketRef) (any, error) {
			return okResult{OK: true}, e.Markets.ResolveMarket(ctx, caller, a.MarketID, a.Outcome)
		}),
		"cancel-market": handle(func(ctx context.Context, caller string, a marketRef) (any, error) {
			return okResult{OK: true}, e.Markets.CancelMarket(ctx, caller, a.MarketID)
		}),
		"can-trade": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			ok, err := e.Markets.CanTrade(ctx, a.MarketID)
			return boolResult{Value: ok}, err
		}),
		"get-market": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			m, ok, err := e.Markets.GetMarket(ctx, a.MarketID)
			if err != nil || !ok {
				return absent, err
			}
			h, err := e.Chain.Height(ctx)
			if err != nil {
				return nil, err
			}
			return marketView{Market: m, EffectiveStatus: m.EffectiveStatus(h), Height: h}, nil
		}),
		"list-markets": handle(func(ctx context.Context, _ string, a listArgs) (any, error) {
			return e.Markets.ListMarkets(ctx, domain.MarketFilter{
				Kind:     domain.MarketKind(a.Kind),
				Category: a.Category,
				Status:   domain.MarketStatus(a.Status),
				Oracle:   a.Oracle,
				Limit:    a.Limit,
				Offset:   a.Offset,
			})
		}),
		"get-market-count": handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
			n, err := e.Markets.GetMarketCount(ctx)
			return countResult{Count: n}, err
		}),
		"get-prices": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			prices, err := e.Markets.GetPrices(ctx, a.MarketID)
			return priceResult{MarketID: a.MarketID, Prices: prices}, err
		}),
		"get-current-price": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			p, err := e.Markets.GetCurrentPrice(ctx, a.MarketID, a.Outcome)
			return amountOf(p), err
		}),
		"get-pending-resolutions": handle(func(ctx context.Context, _ string, a addressArgs) (any, error) {
			return e.Markets.GetPendingResolutions(ctx, a.Oracle)
		}),

		"calculate-buy-quote": handle(func(ctx context.Context, _ string, a tradeArgs) (any, error) {
			return e.Orders.CalculateBuyQuote(ctx, a.MarketID, a.Outcome, a.Amount)
		}),
		"calculate-sell-quote": handle(func(ctx context.Context, _ string, a tradeArgs) (any, error) {
			return e.Orders.CalculateSellQuote(ctx, a.MarketID, a.Outcome, a.Shares)
		}),
		"buy-shares": handle(func(ctx context.Context, caller string, a tradeArgs) (any, error) {
			return e.Orders.BuyShares(ctx, caller, a.MarketID, a.Outcome, a.Amount, a.MinShares)
		}),
		"sell-shares": handle(func(ctx context.Context, caller string, a tradeArgs) (any, error) {
			return e.Orders.SellShares(ctx, caller, a.MarketID, a.Outcome, a.Shares, a.MinProceeds)
		}),
		"claim-winnings": handle(func(ctx context.Context, caller string, a marketRef) (any, error) {
			payout, err := e.Orders.ClaimWinnings(ctx, caller, a.MarketID)
			return amountOf(payout), err
		}),
		"get-user-position": handle(func(ctx context.Context, _ string, a positionArgs) (any, error) {
			p, ok, err := e.Orders.GetUserPosition(ctx, a.User, a.MarketID, a.Outcome)
			if err != nil || !ok {
				return absent, err
			}
			return p, nil
		}),
		"get-user-positions": handle(func(ctx context.Context, _ string, a positionArgs) (any, error) {
			return e.Orders.GetUserPositions(ctx, a.User)
		}),
		"get-market-trades": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			return e.Orders.GetMarketTrades(ctx, a.MarketID, domain.ListOpts{Limit: a.Limit, Offset: a.Offset})
		}),

		"register-oracle": handle(func(ctx context.Context, caller string, a fundsArgs) (any, error) {
			o, err := e.Oracles.RegisterOracle(ctx, caller, a.Bond)
			return oracleView{Oracle: o, SuccessRate: o.SuccessRate()}, err
		}),
		"register-manager-oracle": handle(func(ctx context.Context, caller string, a fundsArgs) (any, error) {
			return e.Markets.RegisterManagerOracle(ctx, caller, a.Stake)
		}),
		"is-oracle-authorized": handle(func(ctx context.Context, _ string, a addressArgs) (any, error) {
			ok, err := e.Markets.IsOracleAuthorized(ctx, a.Address)
			return boolResult{Value: ok}, err
		}),
		"get-oracle": handle(func(ctx context.Context, _ string, a addressArgs) (any, error) {
			o, ok, err := e.Oracles.GetOracle(ctx, a.Address)
			if err != nil || !ok {
				return absent, err
			}
			return oracleView{Oracle: o, SuccessRate: o.SuccessRate()}, nil
		}),
		"get-success-rate": handle(func(ctx context.Context, _ string, a addressArgs) (any, error) {
			o, ok, err := e.Oracles.GetOracle(ctx, a.Address)
			if err != nil || !ok {
				return absent, err
			}
			return amountOf(o.SuccessRate()), nil
		}),
		"get-oracle-stats": handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
			return e.Oracles.GetOracleStats(ctx)
		}),

		"get-market-balance": handle(func(ctx context.Context, _ string, a marketRef) (any, error) {
			bal, ok, err := e.Vault.GetMarketBalance(ctx, a.MarketID)
			if err != nil || !ok {
				return absent, err
			}
			return amountOf(bal), nil
		}),
		"get-vault-stats": handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
			return e.Vault.GetVaultStats(ctx)
		}),
		"get-platform-stats": handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
			return e.Platform.GetPlatformStats(ctx)
		}),

		"mint": handle(func(ctx context.Context, caller string, a fundsArgs) (any, error) {
			bal, err := e.Custody.Mint(ctx, caller, a.Recipient, a.Amount)
			return balanceResult{Address: a.Recipient, Balance: bal, Display: FormatAmount(bal)}, err
		}),
		"transfer": handle(func(ctx context.Context, caller string, a fundsArgs) (any, error) {
			return okResult{OK: true}, e.Custody.Transfer(ctx, caller, a.Recipient, a.Amount)
		}),
		"get-balance": handle(func(ctx context.Context, _ string, a addressArgs) (any, error) {
			bal, err := e.Custody.Balance(ctx, a.Address)
			return balanceResult{Address: a.Address, Balance: bal, Display: FormatAmount(bal)}, err
		}),
		"get-name":         tokenField(e, func(t domain.TokenInfo) any { return t.Name }),
		"get-symbol":       tokenField(e, func(t domain.TokenInfo) any { return t.Symbol }),
		"get-decimals":     tokenField(e, func(t domain.TokenInfo) any { return t.Decimals }),
		"get-total-supply": tokenField(e, func(t domain.TokenInfo) any { return amountOf(t.TotalSupply) }),

		"get-height": handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
			h, err := e.Chain.Height(ctx)
			return heightResult{Height: h}, err
		}),
		"advance-height": handle(func(ctx context.Context, _ string, a blocksArgs) (any, error) {
			if a.Blocks == 0 {
				a.Blocks = 1
			}
			h, err := e.Chain.AdvanceHeight(ctx, a.Blocks)
			return heightResult{Height: h}, err
		}),
	}
}

func tokenField(e *service.Engine, pick func(domain.TokenInfo) any) handlerFunc {
	return handle(func(ctx context.Context, _ string, _ noArgs) (any, error) {
		info, err := e.Custody.TokenInfo(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": pick(info)}, nil
	})
}
