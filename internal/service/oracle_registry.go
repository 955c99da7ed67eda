package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
	"github.com/alanyoungcy/wagerwars/internal/fixedpoint"
)

// OracleRegistry tracks oracle bonds, tiers and resolution statistics.
// Bonds are moved out of the caller's custodial balance and held by the
// registry; there is no withdrawal.
type OracleRegistry struct {
	ledger domain.Ledger
	events *Publisher
	logger *slog.Logger
}

// NewOracleRegistry creates an OracleRegistry.
func NewOracleRegistry(ledger domain.Ledger, events *Publisher, logger *slog.Logger) *OracleRegistry {
	return &OracleRegistry{
		ledger: ledger,
		events: events,
		logger: logger.With(slog.String("component", "oracle_registry")),
	}
}

// RegisterOracle locks bond from caller and creates or tops up the caller's
// oracle record. Each registration must itself meet the bronze minimum. The
// tier is recomputed from the accumulated bond and never decreases.
func (r *OracleRegistry) RegisterOracle(ctx context.Context, caller string, bond int64) (domain.Oracle, error) {
	addr, err := NormalizeAddress(caller)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_registry: register %q: %w", caller, err)
	}
	if bond < domain.BronzeBond {
		return domain.Oracle{}, fmt.Errorf("oracle_registry: register %q: %w", addr, domain.ErrBondTooLow)
	}

	var o domain.Oracle
	err = r.ledger.Update(ctx, func(tx domain.Tx) error {
		height, err := currentHeight(ctx, tx)
		if err != nil {
			return err
		}
		if err := debit(ctx, tx, addr, bond); err != nil {
			return err
		}

		o, err = tx.Oracles().Get(ctx, addr)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			o = domain.Oracle{Address: addr, RegisteredHeight: height}
		case err != nil:
			return err
		}
		if o.Bond, err = fixedpoint.Add(o.Bond, bond); err != nil {
			return domain.ErrOverflow
		}
		o.Tier = higherTier(o.Tier, domain.TierForBond(o.Bond))
		return tx.Oracles().Save(ctx, o)
	})
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_registry: register %q: %w", addr, err)
	}

	r.logger.InfoContext(ctx, "oracle registered",
		slog.String("user", addr),
		slog.Int64("bond", o.Bond),
		slog.String("tier", string(o.Tier)),
	)
	r.events.Publish(ctx, domain.Event{
		Type:   domain.EventOracleRegistered,
		User:   addr,
		Height: o.RegisteredHeight,
		Detail: map[string]any{"bond": o.Bond, "tier": string(o.Tier), "gate": "registry"},
	})
	return o, nil
}

var tierRank = map[domain.OracleTier]int{
	domain.OracleTierNone:   0,
	domain.OracleTierBronze: 1,
	domain.OracleTierSilver: 2,
	domain.OracleTierGold:   3,
}

func higherTier(a, b domain.OracleTier) domain.OracleTier {
	if tierRank[b] > tierRank[a] {
		return b
	}
	return a
}

// IsOracleAuthorized reports whether addr holds a registry bond of at least
// the bronze minimum.
func (r *OracleRegistry) IsOracleAuthorized(ctx context.Context, addr string) (bool, error) {
	a, err := NormalizeAddress(addr)
	if err != nil {
		return false, nil
	}
	var ok bool
	err = r.ledger.View(ctx, func(tx domain.Tx) error {
		ok, err = bondedTx(ctx, tx, a)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("oracle_registry: authorized %q: %w", a, err)
	}
	return ok, nil
}

// bondedTx checks the registry gate inside tx.
func bondedTx(ctx context.Context, tx domain.Tx, addr string) (bool, error) {
	o, err := tx.Oracles().Get(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return o.Bond >= domain.BronzeBond, nil
}

// GetOracle returns the oracle record for addr; ok is false when none exists.
func (r *OracleRegistry) GetOracle(ctx context.Context, addr string) (o domain.Oracle, ok bool, err error) {
	a, err := NormalizeAddress(addr)
	if err != nil {
		return domain.Oracle{}, false, nil
	}
	err = r.ledger.View(ctx, func(tx domain.Tx) error {
		var getErr error
		o, getErr = tx.Oracles().Get(ctx, a)
		if errors.Is(getErr, domain.ErrNotFound) {
			return nil
		}
		ok = getErr == nil
		return getErr
	})
	if err != nil {
		return domain.Oracle{}, false, fmt.Errorf("oracle_registry: get %q: %w", a, err)
	}
	return o, ok, nil
}

// GetOracleStats aggregates the registry.
func (r *OracleRegistry) GetOracleStats(ctx context.Context) (domain.OracleStats, error) {
	var stats domain.OracleStats
	err := r.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		stats, err = oracleStats(ctx, tx)
		return err
	})
	if err != nil {
		return domain.OracleStats{}, fmt.Errorf("oracle_registry: stats: %w", err)
	}
	return stats, nil
}

func oracleStats(ctx context.Context, tx domain.Tx) (domain.OracleStats, error) {
	all, err := tx.Oracles().List(ctx)
	if err != nil {
		return domain.OracleStats{}, err
	}
	var s domain.OracleStats
	for _, o := range all {
		s.TotalOracles++
		s.TotalBonded += o.Bond
		s.TotalResolutions += int64(o.Resolutions)
		s.TotalDisputes += int64(o.Disputes)
		switch o.Tier {
		case domain.OracleTierBronze:
			s.Bronze++
		case domain.OracleTierSilver:
			s.Silver++
		case domain.OracleTierGold:
			s.Gold++
		}
	}
	return s, nil
}

// recordResolution increments the oracle's resolution counter inside tx. A
// resolver with no registry record is a broken invariant, not a user error.
func recordResolution(ctx context.Context, tx domain.Tx, addr string) error {
	o, err := tx.Oracles().Get(ctx, addr)
	if err != nil {
		return fmt.Errorf("oracle_registry: record resolution %q: %w", addr, err)
	}
	o.Resolutions++
	return tx.Oracles().Save(ctx, o)
}
