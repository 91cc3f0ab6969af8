package model

import (
	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Order is the canonical broker-agnostic order schema. It is created by the
// decision engine from an approved signal and owned by execution until a
// terminal status is reached.
type Order struct {
	OrderID        string              `json:"order_id"`
	SignalID       string              `json:"signal_id"`
	StrategyID     string              `json:"strategy_id"`
	Instrument     string              `json:"instrument"`
	Underlying     string              `json:"underlying,omitempty"`
	InstrumentType enum.InstrumentType `json:"instrument_type"`
	Direction      enum.Direction      `json:"direction"`
	Quantity       decimal.Decimal     `json:"quantity"`
	OrderType      enum.OrderType      `json:"order_type"`
	LimitPrice     decimal.Decimal     `json:"limit_price,omitempty"`
	StopPrice      decimal.Decimal     `json:"stop_price,omitempty"`
	Expiry         string              `json:"expiry,omitempty"`

	// Broker hints. Empty values fall back to adapter defaults.
	Exchange string `json:"exchange,omitempty"`
	Product  string `json:"product,omitempty"`

	Legs      []OrderLeg `json:"legs,omitempty"`
	AccountID string     `json:"account_id"`
}

// IsMultiLeg reports whether the order carries option legs that must be
// submitted and tracked as one logical group.
func (o Order) IsMultiLeg() bool {
	return len(o.Legs) > 0
}
