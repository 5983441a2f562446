package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	one           = decimal.NewFromInt(1)
	tenThousandth = decimal.RequireFromString("0.0001")
)

// FormatPrice renders a USD price with precision scaled to its magnitude.
func FormatPrice(price decimal.Decimal) string {
	switch {
	case price.GreaterThanOrEqual(one):
		return "$" + price.StringFixed(4)
	case price.GreaterThanOrEqual(tenThousandth):
		return "$" + price.StringFixed(6)
	default:
		return fmt.Sprintf("$%.4e", price.InexactFloat64())
	}
}

// FormatPercent renders a signed percentage with two decimals.
func FormatPercent(pct decimal.Decimal) string {
	sign := ""
	if !pct.IsNegative() {
		sign = "+"
	}
	return sign + pct.StringFixed(2) + "%"
}

// FormatDuration renders d as "1h 5m", "5m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TruncateToken shortens long token identifiers to head...tail.
func TruncateToken(token string, chars int) string {
	if chars <= 0 {
		chars = 8
	}
	if len(token) <= chars*2+3 {
		return token
	}
	return token[:chars] + "..." + token[len(token)-chars:]
}

// FormatMessage renders a payload as plain multi-line text.
func FormatMessage(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALERT: %s\n", p.Description)
	fmt.Fprintf(&b, "Token:    %s\n", p.Token)
	fmt.Fprintf(&b, "Baseline: $%s\n", p.BaselinePrice.StringFixed(8))
	fmt.Fprintf(&b, "Current:  $%s\n", p.CurrentPrice.StringFixed(8))
	fmt.Fprintf(&b, "Change:   %s\n", FormatPercent(p.PercentChange))
	fmt.Fprintf(&b, "Time:     %s", p.Timestamp.UTC().Format(time.RFC3339))
	return b.String()
}
