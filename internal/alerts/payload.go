package alerts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Payload is the structured alert handed to notifiers.
type Payload struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Owner         string          `json:"owner,omitempty"`
	Token         string          `json:"token"`
	Kind          Kind            `json:"alertType"`
	BaselinePrice decimal.Decimal `json:"baselinePrice"`
	CurrentPrice  decimal.Decimal `json:"currentPrice"`
	PercentChange decimal.Decimal `json:"percentChange"`
	Description   string          `json:"thresholdDescription"`
}

// NewPayload builds the alert for kind at price.
func NewPayload(owner, token string, kind Kind, baseline, price decimal.Decimal, now time.Time) Payload {
	return Payload{
		ID:            uuid.NewString(),
		Timestamp:     now.UTC(),
		Owner:         owner,
		Token:         token,
		Kind:          kind,
		BaselinePrice: baseline,
		CurrentPrice:  price,
		PercentChange: PercentChange(baseline, price),
		Description:   Describe(kind),
	}
}

// PercentChange returns (current-baseline)/baseline*100, or zero for a non-positive baseline.
func PercentChange(baseline, current decimal.Decimal) decimal.Decimal {
	if !baseline.IsPositive() {
		return decimal.Zero
	}
	return current.Sub(baseline).Div(baseline).Mul(hundred)
}
