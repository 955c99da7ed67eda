package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

// Describe renders an engine event as a notification title and body.
func Describe(evt domain.Event) (string, string) {
	var title string
	switch evt.Type {
	case domain.EventMarketCreated:
		title = fmt.Sprintf("Market #%d created", evt.MarketID)
	case domain.EventMarketResolved:
		title = fmt.Sprintf("Market #%d resolved", evt.MarketID)
	case domain.EventMarketCancelled:
		title = fmt.Sprintf("Market #%d cancelled", evt.MarketID)
	case domain.EventTradeExecuted:
		title = fmt.Sprintf("Trade on market #%d", evt.MarketID)
	case domain.EventWinningsClaimed:
		title = fmt.Sprintf("Winnings claimed on market #%d", evt.MarketID)
	case domain.EventOracleRegistered:
		title = "Oracle registered"
	default:
		title = strings.ReplaceAll(evt.Type, "_", " ")
	}

	var b strings.Builder
	if evt.User != "" {
		fmt.Fprintf(&b, "account: %s\n", evt.User)
	}
	for _, key := range detailOrder {
		v, ok := evt.Detail[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", key, formatValue(key, v))
	}
	fmt.Fprintf(&b, "height: %d", evt.Height)
	return title, b.String()
}

// detailOrder fixes the line order of event details in a message.
var detailOrder = []string{
	"question", "kind", "outcomes", "oracle",
	"side", "outcome", "shares", "amount", "fee", "price",
	"payout", "refund", "bond", "stake", "tier", "gate",
}

var amountKeys = map[string]bool{
	"amount": true, "fee": true, "payout": true, "refund": true,
	"bond": true, "stake": true, "shares": true, "price": true,
}

func formatValue(key string, v any) string {
	if !amountKeys[key] {
		return fmt.Sprint(v)
	}
	var units int64
	switch n := v.(type) {
	case int64:
		units = n
	case int:
		units = int64(n)
	case float64:
		units = int64(n)
	default:
		return fmt.Sprint(v)
	}
	return decimal.New(units, -6).String()
}
