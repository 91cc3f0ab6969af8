package broker

import (
	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
)

// Validate applies the canonical pre-translation checks. Invalid orders are
// rejected, never clamped.
func Validate(brokerName string, o model.Order) error {
	if !o.Quantity.IsPositive() {
		return newError(ErrValidation, brokerName, "quantity must be positive", map[string]any{
			"symbol":   o.Instrument,
			"quantity": o.Quantity.String(),
		})
	}
	if !o.Direction.IsAvailable() {
		return newError(ErrValidation, brokerName, "unsupported direction", map[string]any{
			"symbol": o.Instrument,
		})
	}
	if !o.OrderType.IsAvailable() {
		return newError(ErrValidation, brokerName, "unsupported order type", map[string]any{
			"symbol": o.Instrument,
		})
	}
	if o.OrderType == enum.OrderTypeLimit || o.OrderType == enum.OrderTypeStopLimit {
		if !o.LimitPrice.IsPositive() {
			return newError(ErrValidation, brokerName, "limit order requires limit_price", map[string]any{
				"symbol": o.Instrument,
			})
		}
	}
	if o.OrderType == enum.OrderTypeStop || o.OrderType == enum.OrderTypeStopLimit {
		if !o.StopPrice.IsPositive() {
			return newError(ErrValidation, brokerName, "stop order requires stop_price", map[string]any{
				"symbol": o.Instrument,
			})
		}
	}

	switch o.InstrumentType {
	case enum.InstrumentTypeOption:
		if o.Underlying == "" || len(o.Legs) == 0 {
			return newError(ErrValidation, brokerName, "option order requires underlying and legs", map[string]any{
				"symbol": o.Instrument,
				"legs":   len(o.Legs),
			})
		}
		for _, leg := range o.Legs {
			if !leg.Quantity.IsPositive() {
				return newError(ErrValidation, brokerName, "leg quantity must be positive", map[string]any{
					"symbol": leg.Instrument,
				})
			}
		}
	case enum.InstrumentTypeForex:
		if len(o.Instrument) != 6 {
			return newError(ErrValidation, brokerName, "forex instrument must be a 6-character pair", map[string]any{
				"symbol": o.Instrument,
			})
		}
	case enum.InstrumentTypeFuture:
		if o.Expiry == "" {
			return newError(ErrValidation, brokerName, "futures order requires expiry", map[string]any{
				"symbol": o.Instrument,
			})
		}
	}
	return nil
}

// sideWord maps the canonical direction onto a venue side vocabulary:
// LONG is always the buy side, SHORT the sell side.
func sideWord(d enum.Direction, buy, sell string) string {
	if d == enum.DirectionShort {
		return sell
	}
	return buy
}

// roundHalfUpShares coerces a quantity to a whole share count, rounding
// half up (150.5 -> 151).
func roundHalfUpShares(q decimal.Decimal) int64 {
	return q.Round(0).IntPart()
}

// truncateShares coerces a quantity to a whole share count by truncation
// (150.9 -> 150).
func truncateShares(q decimal.Decimal) int64 {
	return q.IntPart()
}

// orDefault returns v unless empty.
func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// legOrder expands one leg into a standalone single-leg order so the group
// submission path can reuse the single-order translation.
func legOrder(parent model.Order, leg model.OrderLeg) model.Order {
	o := parent
	o.Instrument = leg.Instrument
	o.Direction = leg.Direction
	o.Quantity = leg.Quantity
	o.Expiry = orDefault(leg.Expiry, parent.Expiry)
	o.Legs = nil
	if leg.LimitPrice.IsPositive() {
		o.LimitPrice = leg.LimitPrice
		o.OrderType = enum.OrderTypeLimit
	}
	return o
}
