package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
)

// Summary is the final report of a monitor whose window elapsed.
type Summary struct {
	Owner            string          `json:"owner,omitempty"`
	Token            string          `json:"token"`
	BaselinePrice    decimal.Decimal `json:"baselinePrice"`
	FinalPrice       decimal.Decimal `json:"finalPrice"`
	MaxPrice         decimal.Decimal `json:"maxPrice"`
	MinPrice         decimal.Decimal `json:"minPrice"`
	FinalPctChange   decimal.Decimal `json:"finalPercentChange"`
	MaxPercentChange decimal.Decimal `json:"maxPercentChange"`
	MinPercentChange decimal.Decimal `json:"minPercentChange"`
	AlertsFired      []alerts.Kind   `json:"alertsFired"`
	Duration         time.Duration   `json:"monitoringDuration"`
}

// Summarize computes the report for m as of now.
func Summarize(m Monitor, now time.Time) Summary {
	return Summary{
		Owner:            m.Owner,
		Token:            m.Token,
		BaselinePrice:    m.BaselinePrice,
		FinalPrice:       m.LastPrice,
		MaxPrice:         m.MaxPrice,
		MinPrice:         m.MinPrice,
		FinalPctChange:   alerts.PercentChange(m.BaselinePrice, m.LastPrice),
		MaxPercentChange: alerts.PercentChange(m.BaselinePrice, m.MaxPrice),
		MinPercentChange: alerts.PercentChange(m.BaselinePrice, m.MinPrice),
		AlertsFired:      append([]alerts.Kind{}, m.FiredAlerts...),
		Duration:         m.Elapsed(now),
	}
}

// Text renders the summary for chat delivery or the console.
func (s Summary) Text() string {
	fired := "none"
	if len(s.AlertsFired) > 0 {
		names := make([]string, len(s.AlertsFired))
		for i, k := range s.AlertsFired {
			names[i] = string(k)
		}
		fired = strings.Join(names, ", ")
	}

	var b strings.Builder
	b.WriteString("MONITORING SUMMARY\n")
	fmt.Fprintf(&b, "Token:          %s\n", s.Token)
	fmt.Fprintf(&b, "Duration:       %s\n", alerts.FormatDuration(s.Duration))
	fmt.Fprintf(&b, "Baseline Price: %s\n", alerts.FormatPrice(s.BaselinePrice))
	fmt.Fprintf(&b, "Final Price:    %s (%s)\n", alerts.FormatPrice(s.FinalPrice), alerts.FormatPercent(s.FinalPctChange))
	fmt.Fprintf(&b, "Max Price:      %s (%s)\n", alerts.FormatPrice(s.MaxPrice), alerts.FormatPercent(s.MaxPercentChange))
	fmt.Fprintf(&b, "Min Price:      %s (%s)\n", alerts.FormatPrice(s.MinPrice), alerts.FormatPercent(s.MinPercentChange))
	fmt.Fprintf(&b, "Alerts Fired:   %s", fired)
	return b.String()
}
