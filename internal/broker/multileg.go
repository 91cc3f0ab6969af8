package broker

import (
	"context"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
)

// singleLegPlacer is what an adapter must expose for the shared multi-leg
// submission path.
type singleLegPlacer interface {
	Name() string
	placeSingle(ctx context.Context, order model.Order) (Placement, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	OrderStatus(ctx context.Context, brokerOrderID string) (enum.OrderStatus, error)
}

// placeGroup submits each leg of a multi-leg order independently and tracks
// them as one logical group: all legs filled is FILLED, some filled is
// PARTIALLY_FILLED, and any terminal leg failure reconciles the rest by
// cancelling already-submitted legs before returning ErrOrderRejected. A
// half-open group is never left behind silently.
func placeGroup(ctx context.Context, p singleLegPlacer, order model.Order, settle time.Duration) (Placement, error) {
	submitted := make([]string, 0, len(order.Legs))

	for i, leg := range order.Legs {
		placement, err := p.placeSingle(ctx, legOrder(order, leg))
		if err != nil {
			reconcileLegs(ctx, p, submitted)
			return Placement{Status: enum.OrderStatusRejected, Timestamp: time.Now().UTC()},
				wrapError(ErrOrderRejected, p.Name(), err, map[string]any{
					"symbol":         leg.Instrument,
					"leg":            i + 1,
					"legs":           len(order.Legs),
					"submitted_legs": len(submitted),
				})
		}
		submitted = append(submitted, placement.BrokerOrderID)
	}

	if settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	filled, failed := 0, 0
	for _, id := range submitted {
		status, err := p.OrderStatus(ctx, id)
		if err != nil {
			logs.Errorf("broker %s: leg status %s: %+v", p.Name(), id, err)
			continue
		}
		switch status {
		case enum.OrderStatusFilled:
			filled++
		case enum.OrderStatusCancelled, enum.OrderStatusRejected:
			failed++
		}
	}

	result := Placement{
		BrokerOrderID: order.OrderID,
		Timestamp:     time.Now().UTC(),
	}

	switch {
	case failed > 0:
		reconcileLegs(ctx, p, submitted)
		result.Status = enum.OrderStatusRejected
		result.Message = "leg failure, group reconciled"
		return result, newError(ErrOrderRejected, p.Name(), "multi-leg group had failed legs", map[string]any{
			"symbol":      order.Instrument,
			"legs":        len(submitted),
			"filled_legs": filled,
			"failed_legs": failed,
		})
	case filled == len(submitted):
		result.Status = enum.OrderStatusFilled
	case filled > 0:
		result.Status = enum.OrderStatusPartiallyFilled
	default:
		result.Status = enum.OrderStatusSubmitted
	}
	return result, nil
}

// reconcileLegs best-effort cancels every non-terminal submitted leg.
func reconcileLegs(ctx context.Context, p singleLegPlacer, brokerOrderIDs []string) {
	for _, id := range brokerOrderIDs {
		status, err := p.OrderStatus(ctx, id)
		if err == nil && status.IsTerminal() {
			continue
		}
		if err := p.CancelOrder(ctx, id); err != nil {
			// Loud on purpose: an uncancelled leg needs operator attention.
			logs.Errorf("broker %s: reconcile cancel %s failed: %+v", p.Name(), id, err)
		}
	}
}
