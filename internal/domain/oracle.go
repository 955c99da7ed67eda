package domain

import "github.com/alanyoungcy/wagerwars/internal/fixedpoint"

// OracleTier is the stake class of a bonded oracle.
type OracleTier string

const (
	OracleTierNone   OracleTier = ""
	OracleTierBronze OracleTier = "bronze"
	OracleTierSilver OracleTier = "silver"
	OracleTierGold   OracleTier = "gold"
)

// Bond thresholds, fixed-point units.
const (
	BronzeBond int64 = 1_000_000
	SilverBond int64 = 5_000_000
	GoldBond   int64 = 10_000_000
)

// TierForBond returns the tier a bond qualifies for.
func TierForBond(bond int64) OracleTier {
	switch {
	case bond >= GoldBond:
		return OracleTierGold
	case bond >= SilverBond:
		return OracleTierSilver
	case bond >= BronzeBond:
		return OracleTierBronze
	default:
		return OracleTierNone
	}
}

// Oracle is a bonded resolver registered in the oracle registry.
type Oracle struct {
	Address          string     `json:"address"`
	Bond             int64      `json:"bond"`
	Tier             OracleTier `json:"tier"`
	Resolutions      uint64     `json:"resolutions"`
	Disputes         uint64     `json:"disputes"`
	RegisteredHeight uint64     `json:"registeredHeight"`
}

// SuccessRate returns resolutions / (resolutions + disputes) in fixed-point,
// or Scale when the oracle has no history yet.
func (o Oracle) SuccessRate() int64 {
	total := o.Resolutions + o.Disputes
	if total == 0 {
		return fixedpoint.Scale
	}
	rate, err := fixedpoint.MulDiv(int64(o.Resolutions), fixedpoint.Scale, int64(total))
	if err != nil {
		return 0
	}
	return rate
}

// ManagerOracle is the market manager's own authorization record: a stake
// locked with the manager, independent of the registry bond.
type ManagerOracle struct {
	Address          string `json:"address"`
	Stake            int64  `json:"stake"`
	RegisteredHeight uint64 `json:"registeredHeight"`
}

// OracleStats aggregates the registry.
type OracleStats struct {
	TotalOracles     int64 `json:"totalOracles"`
	TotalBonded      int64 `json:"totalBonded"`
	TotalResolutions int64 `json:"totalResolutions"`
	TotalDisputes    int64 `json:"totalDisputes"`
	Bronze           int64 `json:"bronze"`
	Silver           int64 `json:"silver"`
	Gold             int64 `json:"gold"`
}
