// Package metrics exposes Prometheus collectors for the ledger processor and
// the engine event stream.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// unitsPerToken converts fixed-point token units to whole tokens.
const unitsPerToken = 1_000_000

var (
	// Command processing
	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagerwars_commands_processed_total",
			Help: "Total number of command envelopes processed",
		},
		[]string{"command", "outcome"}, // ok, duplicate or an error code
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wagerwars_command_duration_seconds",
			Help:    "Duration of command execution",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"command"},
	)

	QuoteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wagerwars_quote_duration_seconds",
			Help:    "Duration of buy and sell quote calculations",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
	)

	// Engine events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagerwars_events_total",
			Help: "Total number of engine events published",
		},
		[]string{"event"},
	)

	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wagerwars_trades_executed_total",
			Help: "Total number of trades executed",
		},
		[]string{"side"}, // buy, sell
	)

	TradeVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagerwars_trade_volume_tokens_total",
			Help: "Settlement tokens paid into or out of markets by trades",
		},
	)

	WinningsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wagerwars_winnings_claimed_tokens_total",
			Help: "Settlement tokens paid out to winning positions",
		},
	)

	// Ledger state
	VaultLocked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wagerwars_vault_locked_tokens",
			Help: "Settlement tokens held across all market vault accounts",
		},
	)

	LedgerHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wagerwars_ledger_height",
			Help: "Current ledger block height",
		},
	)
)

// Recorder feeds the collectors. The zero value is ready to use.
type Recorder struct{}

// ObserveCommand records one processed envelope.
func (Recorder) ObserveCommand(name, outcome string, elapsed time.Duration) {
	CommandsProcessed.WithLabelValues(name, outcome).Inc()
	CommandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if outcome == "ok" && strings.HasPrefix(name, "calculate-") {
		QuoteDuration.Observe(elapsed.Seconds())
	}
}

// HandleEvent is an engine event hook.
func (Recorder) HandleEvent(_ context.Context, evt domain.Event) {
	EventsPublished.WithLabelValues(evt.Type).Inc()
	if evt.Height > 0 {
		LedgerHeight.Set(float64(evt.Height))
	}

	switch evt.Type {
	case domain.EventTradeExecuted:
		side, _ := evt.Detail["side"].(string)
		TradesExecuted.WithLabelValues(side).Inc()
		if amount, ok := units(evt.Detail["amount"]); ok {
			TradeVolume.Add(tokens(amount))
		}
	case domain.EventWinningsClaimed:
		if payout, ok := units(evt.Detail["payout"]); ok {
			WinningsClaimed.Add(tokens(payout))
		}
	}
}

// SetVaultLocked records the total vault balance in fixed-point units.
func (Recorder) SetVaultLocked(total int64) {
	VaultLocked.Set(tokens(total))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func units(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func tokens(u int64) float64 {
	if u < 0 {
		u = -u
	}
	return float64(u) / unitsPerToken
}
