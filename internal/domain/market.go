package domain

// MarketStatus represents the stored lifecycle state of a market. "Locked" is
// never stored: it is derived from the lock height (see Market.CanTrade).
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"

	// MarketStatusLocked is only reported by views, never persisted.
	MarketStatusLocked MarketStatus = "locked"
)

// MarketKind tags which variant a market is. Kind-specific parameters live in
// the matching optional field of Market (currently only Scalar).
type MarketKind string

const (
	MarketKindBinary      MarketKind = "binary"
	MarketKindCategorical MarketKind = "categorical"
	MarketKindScalar      MarketKind = "scalar"
)

// ScalarRange parameterises a scalar market: [Min, Max) split into Buckets
// equal-width outcomes.
type ScalarRange struct {
	Min     int64  `json:"min"`
	Max     int64  `json:"max"`
	Unit    string `json:"unit"`
	Buckets int    `json:"buckets"`
}

// Outcome is one tradeable result of a market.
type Outcome struct {
	Index  int    `json:"index"`
	Label  string `json:"label"`
	Shares int64  `json:"shares"` // outstanding quantity q, fixed-point
}

// Market is a prediction market. Heights are ledger block heights.
type Market struct {
	ID               uint64       `json:"id"`
	Creator          string       `json:"creator"`
	Kind             MarketKind   `json:"kind"`
	Scalar           *ScalarRange `json:"scalar,omitempty"`
	Question         string       `json:"question"`
	Description      string       `json:"description,omitempty"`
	Category         string       `json:"category"`
	Metadata         string       `json:"metadata,omitempty"`
	Outcomes         []Outcome    `json:"outcomes"`
	Liquidity        int64        `json:"liquidity"` // LMSR b, fixed-point
	LockHeight       uint64       `json:"lockHeight"`
	ResolutionHeight uint64       `json:"resolutionHeight"`
	CreatedHeight    uint64       `json:"createdHeight"`
	Oracle           string       `json:"oracle"`
	Status           MarketStatus `json:"status"`
	ResolvedOutcome  *int         `json:"resolvedOutcome,omitempty"`
	Subsidy          int64        `json:"subsidy"`
	Volume           int64        `json:"volume"`
	FeesCollected    int64        `json:"feesCollected"`
	TradeCount       int64        `json:"tradeCount"`
}

// Quantities returns the outstanding share quantity of every outcome, in
// outcome order.
func (m Market) Quantities() []int64 {
	q := make([]int64, len(m.Outcomes))
	for i, o := range m.Outcomes {
		q[i] = o.Shares
	}
	return q
}

// CanTrade reports whether the market accepts trades at the given height.
func (m Market) CanTrade(height uint64) bool {
	return m.Status == MarketStatusOpen && height < m.LockHeight
}

// EffectiveStatus reports the status a reader should see at the given
// height, including the derived Locked state.
func (m Market) EffectiveStatus(height uint64) MarketStatus {
	if m.Status == MarketStatusOpen && height >= m.LockHeight {
		return MarketStatusLocked
	}
	return m.Status
}

// HasOutcome reports whether idx is a valid outcome index.
func (m Market) HasOutcome(idx int) bool {
	return idx >= 0 && idx < len(m.Outcomes)
}

// Clone returns a deep copy so callers can mutate outcomes without aliasing
// stored state.
func (m Market) Clone() Market {
	out := m
	out.Outcomes = append([]Outcome(nil), m.Outcomes...)
	if m.Scalar != nil {
		s := *m.Scalar
		out.Scalar = &s
	}
	if m.ResolvedOutcome != nil {
		r := *m.ResolvedOutcome
		out.ResolvedOutcome = &r
	}
	return out
}

// MarketFilter narrows ListMarkets. Zero-valued fields do not filter.
type MarketFilter struct {
	Kind     MarketKind
	Category string
	Status   MarketStatus
	Oracle   string
	Limit    int
	Offset   int
}
