package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// TradeSource lists a market's executed trades in execution order.
type TradeSource interface {
	GetMarketTrades(ctx context.Context, id uint64, opts domain.ListOpts) ([]domain.Trade, error)
}

// Archiver writes a market's trade history to object storage as JSONL.
// Archived trades stay in the ledger; the archive is a read-only export.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "trade_archiver")),
	}
}

// ArchiveMarket uploads every trade of marketID and returns the object path
// and the number of trades written. A market without trades writes nothing.
func (a *Archiver) ArchiveMarket(ctx context.Context, marketID uint64) (string, int, error) {
	trades, err := a.trades.GetMarketTrades(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}
	if len(trades) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}

	path := ArchivePath(marketID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive market %d: %w", marketID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.trades", map[string]any{
			"path":      path,
			"market_id": marketID,
			"count":     len(trades),
		}); err != nil {
			a.logger.WarnContext(ctx, "audit log failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.Uint64("market_id", marketID),
		slog.String("path", path),
		slog.Int("count", len(trades)),
	)
	return path, len(trades), nil
}

// ArchivePath returns the object path of a market's trade archive.
//
//	archive/trades/market-42.jsonl
func ArchivePath(marketID uint64) string {
	return fmt.Sprintf("archive/trades/market-%d.jsonl", marketID)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
