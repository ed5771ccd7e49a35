package trade

import (
	"fmt"
	"strings"
)

type Side string

const (
	SideBuy        Side = "buy"
	SideSell       Side = "sell"
	SideSellShort  Side = "sell_short"
	SideBuyToCover Side = "buy_to_cover"
)

// ParseSide only accepts the four order sides the broker understands.
func ParseSide(raw string) (Side, error) {
	s := Side(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unsupported order side %q", raw)
	}
	return s, nil
}

func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideSellShort, SideBuyToCover:
		return true
	}
	return false
}

// Opens reports whether the side adds exposure (long or short).
func (s Side) Opens() bool {
	return s == SideBuy || s == SideSellShort
}

// Direction is +1 for sides that add shares to the signed position and -1 otherwise.
func (s Side) Direction() int {
	if s == SideBuy || s == SideBuyToCover {
		return 1
	}
	return -1
}

type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

func ParseConfidence(raw string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(raw))) {
	case ConfidenceLow:
		return ConfidenceLow
	case ConfidenceHigh:
		return ConfidenceHigh
	default:
		return ConfidenceMedium
	}
}

// Action is one proposed order. Quantity and TargetAllocationPct are mutually
// exclusive; when both are nil the validator sizes the order.
type Action struct {
	Side                Side       `json:"side"`
	Symbol              string     `json:"symbol"`
	Quantity            *float64   `json:"quantity,omitempty"`
	TargetAllocationPct *float64   `json:"target_allocation_pct,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	Confidence          Confidence `json:"confidence"`
	StopLoss            *float64   `json:"stop_loss,omitempty"`
	TakeProfit          *float64   `json:"take_profit,omitempty"`
}

func (a Action) Key() string {
	return strings.ToUpper(a.Symbol) + "|" + string(a.Side)
}

func (a Action) Check() error {
	if !a.Side.Valid() {
		return fmt.Errorf("unsupported order side %q", a.Side)
	}
	if strings.TrimSpace(a.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	if a.Quantity != nil && a.TargetAllocationPct != nil {
		return fmt.Errorf("quantity and target_allocation_pct are mutually exclusive")
	}
	if a.Quantity != nil && *a.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	if a.TargetAllocationPct != nil && (*a.TargetAllocationPct < 0 || *a.TargetAllocationPct > 100) {
		return fmt.Errorf("target_allocation_pct must be within [0,100]")
	}
	return nil
}

func (a Action) String() string {
	var sizing string
	switch {
	case a.Quantity != nil:
		sizing = fmt.Sprintf(" qty=%g", *a.Quantity)
	case a.TargetAllocationPct != nil:
		sizing = fmt.Sprintf(" alloc=%g%%", *a.TargetAllocationPct)
	}
	return fmt.Sprintf("%s %s%s", a.Side, a.Symbol, sizing)
}

func Float(v float64) *float64 { return &v }
