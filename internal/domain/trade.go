package domain

// TradeSide is the direction of an executed trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is an executed buy or sell recorded by the order book.
type Trade struct {
	ID       string    `json:"id"`
	MarketID uint64    `json:"marketId"`
	Outcome  int       `json:"outcome"`
	User     string    `json:"user"`
	Side     TradeSide `json:"side"`
	Shares   int64     `json:"shares"`
	Amount   int64     `json:"amount"` // total paid (buy) or proceeds received (sell)
	Fee      int64     `json:"fee"`
	Price    int64     `json:"price"` // average execution price
	Height   uint64    `json:"height"`
}

// Quote is a pre-trade computation. For a buy, Total is the amount debited
// (fee included); for a sell, Total is the net proceeds credited.
type Quote struct {
	Shares       int64 `json:"shares"`
	AveragePrice int64 `json:"averagePrice"`
	PriceImpact  int64 `json:"priceImpact"` // percent, fixed-point (1.5% = 1_500_000)
	Fee          int64 `json:"fee"`
	Total        int64 `json:"total"`
}
