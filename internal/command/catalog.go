package command

// paramKind selects how a flag value is converted into its JSON argument.
type paramKind int

const (
	kindString paramKind = iota
	kindUint
	kindInt
	kindAmount // human decimal unless --raw
	kindList   // comma separated
)

type param struct {
	flag     string
	key      string
	kind     paramKind
	required bool
	usage    string
}

// Definition describes one command of the engine surface.
type Definition struct {
	Name    string
	Mutates bool
	Summary string
	params  []param
}

var (
	pMarketID    = param{"market", "marketId", kindUint, true, "market id"}
	pOutcome     = param{"outcome", "outcome", kindInt, true, "outcome index"}
	pAddress     = param{"address", "address", kindString, true, "account address"}
	pQuestion    = param{"question", "question", kindString, true, "market question"}
	pDescription = param{"description", "description", kindString, false, "market description"}
	pCategory    = param{"category", "category", kindString, false, "market category"}
	pMetadata    = param{"metadata", "metadata", kindString, false, "free-form metadata"}
	pLock        = param{"lock", "lockHeight", kindUint, true, "height at which trading stops"}
	pResolution  = param{"resolution", "resolutionHeight", kindUint, true, "height from which the oracle may resolve"}
	pOracle      = param{"oracle", "oracle", kindString, true, "resolving oracle address"}
	pLiquidity   = param{"liquidity", "liquidity", kindAmount, true, "LMSR liquidity parameter b"}
	pLimit       = param{"limit", "limit", kindInt, false, "page size"}
	pOffset      = param{"offset", "offset", kindInt, false, "page offset"}
)

var marketParams = []param{pQuestion, pDescription, pCategory, pMetadata, pLock, pResolution, pOracle, pLiquidity}

// catalog lists every command in help order.
var catalog = []Definition{
	// Markets.
	{Name: "create-binary-market", Mutates: true, Summary: "create a YES/NO market",
		params: marketParams},
	{Name: "create-categorical-market", Mutates: true, Summary: "create a market over named outcomes",
		params: append(append([]param{}, marketParams...),
			param{"outcomes", "outcomes", kindList, true, "comma separated outcome labels"})},
	{Name: "create-scalar-market", Mutates: true, Summary: "create a market over numeric range buckets",
		params: append(append([]param{}, marketParams...),
			param{"min", "min", kindInt, true, "range minimum"},
			param{"max", "max", kindInt, true, "range maximum"},
			param{"unit", "unit", kindString, false, "unit label"},
			param{"buckets", "buckets", kindInt, false, "number of buckets"})},
	{Name: "create-binary-prediction", Mutates: true, Summary: "create a binary market in the general category",
		params: []param{pQuestion, pResolution, pLock, pOracle, pLiquidity}},
	{Name: "resolve-market", Mutates: true, Summary: "resolve a market to its winning outcome",
		params: []param{pMarketID, pOutcome}},
	{Name: "cancel-market", Mutates: true, Summary: "cancel an untraded market and refund its subsidy",
		params: []param{pMarketID}},
	{Name: "can-trade", Summary: "report whether a market accepts trades",
		params: []param{pMarketID}},
	{Name: "get-market", Summary: "show a market",
		params: []param{pMarketID}},
	{Name: "list-markets", Summary: "list markets",
		params: []param{
			{"kind", "kind", kindString, false, "binary, categorical or scalar"},
			{"category", "category", kindString, false, "category"},
			{"status", "status", kindString, false, "open, resolved or cancelled"},
			{"oracle", "oracle", kindString, false, "assigned oracle"},
			pLimit, pOffset,
		}},
	{Name: "get-market-count", Summary: "count markets"},
	{Name: "get-prices", Summary: "show every outcome price of a market",
		params: []param{pMarketID}},
	{Name: "get-current-price", Summary: "show one outcome price",
		params: []param{pMarketID, pOutcome}},
	{Name: "get-pending-resolutions", Summary: "list markets an oracle can resolve now",
		params: []param{pOracle}},

	// Trading.
	{Name: "calculate-buy-quote", Summary: "quote a buy without executing it",
		params: []param{pMarketID, pOutcome, {"amount", "amount", kindAmount, true, "payment amount"}}},
	{Name: "calculate-sell-quote", Summary: "quote a sell without executing it",
		params: []param{pMarketID, pOutcome, {"shares", "shares", kindAmount, true, "shares to sell"}}},
	{Name: "buy-shares", Mutates: true, Summary: "buy outcome shares",
		params: []param{pMarketID, pOutcome,
			{"amount", "amount", kindAmount, true, "payment amount"},
			{"min-shares", "minShares", kindAmount, false, "minimum shares accepted"}}},
	{Name: "sell-shares", Mutates: true, Summary: "sell outcome shares",
		params: []param{pMarketID, pOutcome,
			{"shares", "shares", kindAmount, true, "shares to sell"},
			{"min-proceeds", "minProceeds", kindAmount, false, "minimum proceeds accepted"}}},
	{Name: "claim-winnings", Mutates: true, Summary: "redeem winning shares of a resolved market",
		params: []param{pMarketID}},
	{Name: "get-user-position", Summary: "show a position",
		params: []param{{"user", "user", kindString, true, "position holder"}, pMarketID, pOutcome}},
	{Name: "get-user-positions", Summary: "list a user's positions",
		params: []param{{"user", "user", kindString, true, "position holder"}}},
	{Name: "get-market-trades", Summary: "list a market's trades",
		params: []param{pMarketID, pLimit, pOffset}},

	// Oracles.
	{Name: "register-oracle", Mutates: true, Summary: "bond funds in the oracle registry",
		params: []param{{"bond", "bond", kindAmount, true, "bond amount"}}},
	{Name: "register-manager-oracle", Mutates: true, Summary: "stake funds with the market manager",
		params: []param{{"stake", "stake", kindAmount, true, "stake amount"}}},
	{Name: "is-oracle-authorized", Summary: "report whether an oracle passes both gates",
		params: []param{pAddress}},
	{Name: "get-oracle", Summary: "show a registry oracle",
		params: []param{pAddress}},
	{Name: "get-success-rate", Summary: "show an oracle's success rate",
		params: []param{pAddress}},
	{Name: "get-oracle-stats", Summary: "aggregate oracle statistics"},

	// Vault and platform.
	{Name: "get-market-balance", Summary: "show a market's vault balance",
		params: []param{pMarketID}},
	{Name: "get-vault-stats", Summary: "aggregate vault statistics"},
	{Name: "get-platform-stats", Summary: "aggregate platform statistics"},

	// Settlement token.
	{Name: "mint", Mutates: true, Summary: "mint test tokens",
		params: []param{{"amount", "amount", kindAmount, true, "amount"}, {"recipient", "recipient", kindString, true, "recipient"}}},
	{Name: "transfer", Mutates: true, Summary: "transfer tokens",
		params: []param{{"amount", "amount", kindAmount, true, "amount"}, {"recipient", "recipient", kindString, true, "recipient"}}},
	{Name: "get-balance", Summary: "show a token balance",
		params: []param{pAddress}},
	{Name: "get-name", Summary: "token name"},
	{Name: "get-symbol", Summary: "token symbol"},
	{Name: "get-decimals", Summary: "token decimals"},
	{Name: "get-total-supply", Summary: "token total supply"},

	// Chain.
	{Name: "get-height", Summary: "show the ledger height"},
	{Name: "advance-height", Mutates: true, Summary: "advance the ledger height",
		params: []param{{"blocks", "blocks", kindUint, false, "blocks to advance (default 1)"}}},
}

// Lookup returns the definition of a command.
func Lookup(name string) (Definition, bool) {
	for _, s := range catalog {
		if s.Name == name {
			return s, true
		}
	}
	return Definition{}, false
}

// Catalog returns every command in help order.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}
