// Package ledger maintains weighted-average cost basis per (strategy,
// instrument). Positions are mutated only by fill confirmations, never by
// raw signals.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/pkg/exception"
)

type key struct {
	strategyID string
	instrument string
}

// Persister durably stores position mutations. A nil persister keeps the
// ledger memory-only (tests, paper mode).
type Persister interface {
	SavePosition(ctx context.Context, p model.Position) error
}

// Ledger tracks one open position per (strategy, instrument) pair.
// Strategies sharing an instrument are independent and never netted.
type Ledger struct {
	mu      sync.RWMutex
	open    map[key]*model.Position
	persist Persister
}

// New creates a ledger. persist may be nil.
func New(persist Persister) *Ledger {
	return &Ledger{
		open:    make(map[key]*model.Position),
		persist: persist,
	}
}

// Restore seeds the ledger with previously open positions, typically loaded
// from the store at startup.
func (l *Ledger) Restore(positions []model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range positions {
		if p.Status != enum.PositionStatusOpen {
			continue
		}
		cp := p
		l.open[key{p.StrategyID, p.Instrument}] = &cp
	}
	obs.OpenPositions.Set(float64(len(l.open)))
}

// OpenPosition returns a copy of the open position for the pair.
func (l *Ledger) OpenPosition(strategyID, instrument string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.open[key{strategyID, instrument}]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// OpenPositions returns copies of every open position.
func (l *Ledger) OpenPositions() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, *p)
	}
	return out
}

// ApplyFill applies one fill confirmation and returns the resulting position
// state. Entries open or scale into a position recomputing the weighted
// average entry price; exits reduce quantity leaving the entry price
// untouched, closing exactly when cumulative exits equal cumulative entries.
func (l *Ledger) ApplyFill(ctx context.Context, order model.Order, filledQty, avgFillPrice decimal.Decimal) (model.Position, error) {
	if !filledQty.IsPositive() {
		return model.Position{}, exception.ErrLedgerNonPositiveFill
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	k := key{order.StrategyID, order.Instrument}
	pos, exists := l.open[k]

	switch {
	case !exists:
		p := &model.Position{
			StrategyID:    order.StrategyID,
			EntrySignalID: order.SignalID,
			Instrument:    order.Instrument,
			Direction:     order.Direction,
			Quantity:      filledQty,
			CumEntryQty:   filledQty,
			AvgEntryPrice: avgFillPrice,
			CurrentPrice:  avgFillPrice,
			Status:        enum.PositionStatusOpen,
			OpenedAt:      time.Now().UTC(),
		}
		l.open[k] = p
		pos = p

	case pos.Direction == order.Direction:
		// Scale-in: the entry price becomes the quantity-weighted mean of
		// all fills, never a plain overwrite.
		oldNotional := pos.Quantity.Mul(pos.AvgEntryPrice)
		newNotional := filledQty.Mul(avgFillPrice)
		total := pos.Quantity.Add(filledQty)
		pos.AvgEntryPrice = oldNotional.Add(newNotional).Div(total)
		pos.Quantity = total
		pos.CumEntryQty = pos.CumEntryQty.Add(filledQty)
		pos.CurrentPrice = avgFillPrice

	default:
		if filledQty.GreaterThan(pos.Quantity) {
			return model.Position{}, errors.Wrap(exception.ErrLedgerOverfill, "").
				With("open", pos.Quantity.String()).
				With("fill", filledQty.String())
		}

		pnl := avgFillPrice.Sub(pos.AvgEntryPrice).Mul(filledQty)
		if pos.Direction == enum.DirectionShort {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.Quantity = pos.Quantity.Sub(filledQty)
		pos.CurrentPrice = avgFillPrice

		if pos.Quantity.IsZero() {
			now := time.Now().UTC()
			pos.Status = enum.PositionStatusClosed
			pos.AvgExitPrice = avgFillPrice
			pos.ClosedAt = &now
			delete(l.open, k)
		}
	}

	obs.OpenPositions.Set(float64(len(l.open)))

	result := *pos
	if l.persist != nil {
		if err := l.persist.SavePosition(ctx, result); err != nil {
			return result, errors.Wrap(err, "persist position").
				With("strategy", order.StrategyID).
				With("instrument", order.Instrument)
		}
	}
	return result, nil
}
