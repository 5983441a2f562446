// Package alerts is the threshold engine: the fixed set of alert kinds and the
// pure evaluation of a new price against a monitor's baseline.
package alerts

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind names one percentage-move threshold.
type Kind string

const (
	Up30    Kind = "UP_30"
	Down30  Kind = "DOWN_30"
	Up100   Kind = "UP_100"
	Down100 Kind = "DOWN_100"
)

// Direction of a threshold relative to the baseline.
type Direction int

const (
	Increase Direction = iota
	Decrease
)

func (d Direction) String() string {
	if d == Decrease {
		return "decrease"
	}
	return "increase"
}

// Threshold binds a kind to its multiplier on the baseline price.
type Threshold struct {
	Kind        Kind
	Direction   Direction
	Multiplier  decimal.Decimal
	Description string
}

// Triggered reports whether price crosses the threshold for baseline.
func (t Threshold) Triggered(baseline, price decimal.Decimal) bool {
	target := baseline.Mul(t.Multiplier)
	if t.Direction == Decrease {
		return price.LessThanOrEqual(target)
	}
	return price.GreaterThanOrEqual(target)
}

// Thresholds is the canonical, ordered set. Evaluation and marking follow this order.
var Thresholds = []Threshold{
	{Kind: Up30, Direction: Increase, Multiplier: decimal.RequireFromString("1.30"), Description: "30% price increase"},
	{Kind: Down30, Direction: Decrease, Multiplier: decimal.RequireFromString("0.70"), Description: "30% price decrease"},
	{Kind: Up100, Direction: Increase, Multiplier: decimal.RequireFromString("2.00"), Description: "100% price increase (2x)"},
	{Kind: Down100, Direction: Decrease, Multiplier: decimal.RequireFromString("0.50"), Description: "50% price decrease (halved)"},
}

// Subject is the part of a monitor the engine reads.
type Subject interface {
	Baseline() decimal.Decimal
	HasFired(kind Kind) bool
}

// Evaluate returns the kinds newly triggered by price, in declared order,
// skipping any kind already fired. It has no side effects.
func Evaluate(m Subject, price decimal.Decimal) []Kind {
	baseline := m.Baseline()
	var triggered []Kind
	for _, th := range Thresholds {
		if m.HasFired(th.Kind) {
			continue
		}
		if th.Triggered(baseline, price) {
			triggered = append(triggered, th.Kind)
		}
	}
	return triggered
}

// Lookup returns the threshold definition for kind.
func Lookup(kind Kind) (Threshold, bool) {
	for _, th := range Thresholds {
		if th.Kind == kind {
			return th, true
		}
	}
	return Threshold{}, false
}

// Valid reports whether kind belongs to the known set.
func Valid(kind Kind) bool {
	_, ok := Lookup(kind)
	return ok
}

// Describe returns the human description of kind.
func Describe(kind Kind) string {
	if th, ok := Lookup(kind); ok {
		return th.Description
	}
	return string(kind)
}

// ParseKind accepts a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !Valid(k) {
		return "", fmt.Errorf("unknown alert kind %q", s)
	}
	return k, nil
}

// Order returns the declared position of kind, or -1.
func Order(kind Kind) int {
	for i, th := range Thresholds {
		if th.Kind == kind {
			return i
		}
	}
	return -1
}
