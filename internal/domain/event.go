package domain

// Event types published on the engine event channel after a command commits.
const (
	EventMarketCreated    = "market_created"
	EventMarketResolved   = "market_resolved"
	EventMarketCancelled  = "market_cancelled"
	EventTradeExecuted    = "trade_executed"
	EventWinningsClaimed  = "winnings_claimed"
	EventOracleRegistered = "oracle_registered"
	EventTokensMinted     = "tokens_minted"
	EventTokensTransfer   = "tokens_transferred"
	EventHeightAdvanced   = "height_advanced"
)

// Event is the JSON payload published on the engine event channel.
type Event struct {
	Type     string         `json:"event"`
	MarketID uint64         `json:"marketId,omitempty"`
	User     string         `json:"user,omitempty"`
	Height   uint64         `json:"height"`
	Detail   map[string]any `json:"detail,omitempty"`
}
