package domain

// VaultAccount escrows the funds of one market.
type VaultAccount struct {
	MarketID uint64 `json:"marketId"`
	Balance  int64  `json:"balance"`
}

// VaultStats aggregates all vault accounts.
type VaultStats struct {
	TotalLocked int64 `json:"totalLocked"`
	Accounts    int64 `json:"accounts"`
}

// Balance is a custodial balance of the settlement token.
type Balance struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// TokenInfo describes the settlement token.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int    `json:"decimals"`
	TotalSupply int64  `json:"totalSupply"`
}

// PlatformStats is the facade's aggregate view.
type PlatformStats struct {
	Version       string      `json:"version"`
	Height        uint64      `json:"height"`
	TotalMarkets  int64       `json:"totalMarkets"`
	ActiveMarkets int64       `json:"activeMarkets"`
	TotalVolume   int64       `json:"totalVolume"`
	TotalUsers    int64       `json:"totalUsers"`
	Vault         VaultStats  `json:"vault"`
	Oracles       OracleStats `json:"oracles"`
}

// Snapshot is a full, self-consistent copy of ledger state.
type Snapshot struct {
	Height         uint64          `json:"height"`
	NextMarketID   uint64          `json:"nextMarketId"`
	Markets        []Market        `json:"markets"`
	Positions      []Position      `json:"positions"`
	Oracles        []Oracle        `json:"oracles"`
	ManagerOracles []ManagerOracle `json:"managerOracles"`
	Vaults         []VaultAccount  `json:"vaults"`
	Balances       []Balance       `json:"balances"`
	Trades         []Trade         `json:"trades"`
	TotalSupply    int64           `json:"totalSupply"`
}
