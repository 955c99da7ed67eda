package domain

// PositionKey identifies a position.
type PositionKey struct {
	User     string
	MarketID uint64
	Outcome  int
}

// Position is a user's holding in one outcome of one market.
type Position struct {
	User      string `json:"user"`
	MarketID  uint64 `json:"marketId"`
	Outcome   int    `json:"outcome"`
	Shares    int64  `json:"shares"`
	AvgPrice  int64  `json:"avgPrice"`  // volume-weighted entry price, fixed-point
	CostBasis int64  `json:"costBasis"` // total paid for the shares still held
	UpdatedAt uint64 `json:"updatedAt"` // height of last change
}

// Key returns the position's identity.
func (p Position) Key() PositionKey {
	return PositionKey{User: p.User, MarketID: p.MarketID, Outcome: p.Outcome}
}
