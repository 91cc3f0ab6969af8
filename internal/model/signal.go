package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Signal is an immutable trading signal. SignalID is the idempotency key:
// exactly one ProcessingRecord is ever created per signal.
type Signal struct {
	SignalID       string              `json:"signal_id"`
	StrategyID     string              `json:"strategy_id"`
	Instrument     string              `json:"instrument"`
	InstrumentType enum.InstrumentType `json:"instrument_type"`
	Direction      enum.Direction      `json:"direction"`
	Action         enum.SignalAction   `json:"action"`
	Quantity       decimal.Decimal     `json:"quantity"`
	OrderType      enum.OrderType      `json:"order_type"`

	// LimitPrice and StopPrice are zero when not applicable to OrderType.
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  decimal.Decimal `json:"stop_price,omitempty"`

	// Expiry in YYYYMMDD form, required for futures.
	Expiry string `json:"expiry,omitempty"`

	Legs       []OrderLeg `json:"legs,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
}

// OrderLeg is one leg of a multi-leg (option) order.
type OrderLeg struct {
	Instrument string          `json:"instrument"`
	Direction  enum.Direction  `json:"direction"`
	Quantity   decimal.Decimal `json:"quantity"`
	Strike     decimal.Decimal `json:"strike,omitempty"`
	Right      string          `json:"right,omitempty"` // CALL or PUT
	Expiry     string          `json:"expiry,omitempty"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty"`
}
