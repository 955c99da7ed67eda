package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

func TestObserveCommand(t *testing.T) {
	var r Recorder
	okBefore := testutil.ToFloat64(CommandsProcessed.WithLabelValues("buy-shares", "ok"))
	errBefore := testutil.ToFloat64(CommandsProcessed.WithLabelValues("buy-shares", "slippage_exceeded"))

	r.ObserveCommand("buy-shares", "ok", 2*time.Millisecond)
	r.ObserveCommand("buy-shares", "ok", time.Millisecond)
	r.ObserveCommand("buy-shares", "slippage_exceeded", time.Millisecond)

	assert.Equal(t, okBefore+2, testutil.ToFloat64(CommandsProcessed.WithLabelValues("buy-shares", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(CommandsProcessed.WithLabelValues("buy-shares", "slippage_exceeded")))
}

func TestHandleEvent(t *testing.T) {
	var r Recorder
	ctx := context.Background()
	buys := testutil.ToFloat64(TradesExecuted.WithLabelValues("buy"))
	volume := testutil.ToFloat64(TradeVolume)
	claimed := testutil.ToFloat64(WinningsClaimed)

	r.HandleEvent(ctx, domain.Event{
		Type:     domain.EventTradeExecuted,
		MarketID: 1,
		Height:   42,
		Detail:   map[string]any{"side": "buy", "amount": int64(100_000_000)},
	})
	r.HandleEvent(ctx, domain.Event{
		Type:   domain.EventWinningsClaimed,
		Height: 43,
		Detail: map[string]any{"payout": int64(2_500_000)},
	})

	assert.Equal(t, buys+1, testutil.ToFloat64(TradesExecuted.WithLabelValues("buy")))
	assert.InDelta(t, volume+100, testutil.ToFloat64(TradeVolume), 1e-9)
	assert.InDelta(t, claimed+2.5, testutil.ToFloat64(WinningsClaimed), 1e-9)
	assert.Equal(t, float64(43), testutil.ToFloat64(LedgerHeight))
}

func TestSetVaultLocked(t *testing.T) {
	var r Recorder
	r.SetVaultLocked(6_931_472)
	assert.InDelta(t, 6.931472, testutil.ToFloat64(VaultLocked), 1e-9)
}

func TestHandler(t *testing.T) {
	Recorder{}.ObserveCommand("get-height", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "wagerwars_commands_processed_total"))
}
