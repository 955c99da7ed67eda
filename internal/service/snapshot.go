package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// SnapshotPrefix is the object-storage prefix snapshots are written under.
const SnapshotPrefix = "snapshots/"

// multipartThreshold is the encoded size above which snapshots are uploaded
// in parts.
const multipartThreshold = 16 << 20

// SnapshotService exports and restores the complete ledger state.
type SnapshotService struct {
	ledger domain.Ledger
	writer domain.BlobWriter
	reader domain.BlobReader
	logger *slog.Logger
}

// NewSnapshotService creates a SnapshotService. writer and reader may be nil
// when only Capture/Restore are used.
func NewSnapshotService(ledger domain.Ledger, writer domain.BlobWriter, reader domain.BlobReader, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		ledger: ledger,
		writer: writer,
		reader: reader,
		logger: logger.With(slog.String("component", "snapshot")),
	}
}

// Capture reads every table from one consistent view.
func (s *SnapshotService) Capture(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.ledger.View(ctx, func(tx domain.Tx) error {
		var err error
		if snap.Height, err = tx.Chain().Height(ctx); err != nil {
			return err
		}
		if snap.NextMarketID, err = tx.Chain().PeekMarketID(ctx); err != nil {
			return err
		}
		if snap.Markets, err = tx.Markets().List(ctx, domain.MarketFilter{}); err != nil {
			return err
		}
		if snap.Positions, err = tx.Positions().All(ctx); err != nil {
			return err
		}
		if snap.Oracles, err = tx.Oracles().List(ctx); err != nil {
			return err
		}
		if snap.ManagerOracles, err = tx.Oracles().ListManager(ctx); err != nil {
			return err
		}
		if snap.Vaults, err = tx.Vaults().List(ctx); err != nil {
			return err
		}
		if snap.Balances, err = tx.Balances().List(ctx); err != nil {
			return err
		}
		if snap.Trades, err = tx.Trades().All(ctx); err != nil {
			return err
		}
		snap.TotalSupply, err = tx.Balances().TotalSupply(ctx)
		return err
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: capture: %w", err)
	}
	return snap, nil
}

// Restore loads snap into an empty ledger in a single transaction. It fails
// with ErrAlreadyExists when the ledger already holds state.
func (s *SnapshotService) Restore(ctx context.Context, snap domain.Snapshot) error {
	if snap.NextMarketID == 0 {
		snap.NextMarketID = 1
	}
	err := s.ledger.Update(ctx, func(tx domain.Tx) error {
		if err := ensureEmpty(ctx, tx); err != nil {
			return err
		}
		if err := tx.Chain().SetHeight(ctx, snap.Height); err != nil {
			return err
		}
		if err := tx.Chain().SetNextMarketID(ctx, snap.NextMarketID); err != nil {
			return err
		}
		for _, m := range snap.Markets {
			if err := tx.Markets().Insert(ctx, m); err != nil {
				return err
			}
		}
		for _, p := range snap.Positions {
			if err := tx.Positions().Save(ctx, p); err != nil {
				return err
			}
		}
		for _, o := range snap.Oracles {
			if err := tx.Oracles().Save(ctx, o); err != nil {
				return err
			}
		}
		for _, o := range snap.ManagerOracles {
			if err := tx.Oracles().SaveManager(ctx, o); err != nil {
				return err
			}
		}
		for _, v := range snap.Vaults {
			if err := tx.Vaults().Save(ctx, v); err != nil {
				return err
			}
		}
		for _, b := range snap.Balances {
			if err := tx.Balances().Set(ctx, b.Address, b.Amount); err != nil {
				return err
			}
		}
		for _, t := range snap.Trades {
			if err := tx.Trades().Insert(ctx, t); err != nil {
				return err
			}
		}
		return tx.Balances().SetTotalSupply(ctx, snap.TotalSupply)
	})
	if err != nil {
		return fmt.Errorf("snapshot: restore at height %d: %w", snap.Height, err)
	}
	s.logger.InfoContext(ctx, "snapshot restored",
		slog.Uint64("height", snap.Height),
		slog.Int("markets", len(snap.Markets)),
	)
	return nil
}

func ensureEmpty(ctx context.Context, tx domain.Tx) error {
	h, err := tx.Chain().Height(ctx)
	if err != nil {
		return err
	}
	n, err := tx.Markets().Count(ctx)
	if err != nil {
		return err
	}
	supply, err := tx.Balances().TotalSupply(ctx)
	if err != nil {
		return err
	}
	if h != 0 || n != 0 || supply != 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// SnapshotKey returns the object key of the snapshot taken at height.
func SnapshotKey(height uint64) string {
	return SnapshotPrefix + strconv.FormatUint(height, 10) + ".json"
}

// Export captures the ledger and uploads it, returning the object key.
func (s *SnapshotService) Export(ctx context.Context) (string, error) {
	if s.writer == nil {
		return "", fmt.Errorf("snapshot: export: no blob writer configured")
	}
	snap, err := s.Capture(ctx)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	key := SnapshotKey(snap.Height)
	if len(data) > multipartThreshold {
		err = s.writer.PutMultipart(ctx, key, bytes.NewReader(data), multipartThreshold/2)
	} else {
		err = s.writer.Put(ctx, key, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("snapshot: export %q: %w", key, err)
	}
	s.logger.InfoContext(ctx, "snapshot exported",
		slog.String("key", key),
		slog.Uint64("height", snap.Height),
		slog.Int("bytes", len(data)),
	)
	return key, nil
}

// Load downloads the snapshot at key and restores it.
func (s *SnapshotService) Load(ctx context.Context, key string) (domain.Snapshot, error) {
	if s.reader == nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: load: no blob reader configured")
	}
	rc, err := s.reader.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: load %q: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: read %q: %w", key, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot: decode %q: %w", key, err)
	}
	if err := s.Restore(ctx, snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Latest returns the key of the highest snapshot in storage.
func (s *SnapshotService) Latest(ctx context.Context) (string, bool, error) {
	if s.reader == nil {
		return "", false, fmt.Errorf("snapshot: latest: no blob reader configured")
	}
	infos, err := s.reader.List(ctx, SnapshotPrefix)
	if err != nil {
		return "", false, fmt.Errorf("snapshot: list: %w", err)
	}
	type entry struct {
		key    string
		height uint64
	}
	var entries []entry
	for _, info := range infos {
		name := strings.TrimSuffix(path.Base(info.Path), ".json")
		h, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{key: info.Path, height: h})
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].height > entries[j].height })
	return entries[0].key, true, nil
}
