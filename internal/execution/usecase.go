// Package execution runs approved signals through sizing, order placement,
// and fill application on a bounded worker pool.
package execution

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/decision"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/pkg/exception"
)

const (
	defaultSettlePoll    = time.Second
	defaultSettleTimeout = 30 * time.Second

	// stopTick bounds how long an idle worker takes to notice Stop.
	stopTick = 100 * time.Millisecond
)

// Task is one linked signal awaiting execution.
type Task struct {
	Signal   model.Signal
	RecordID string
}

// Recorder persists decision and execution outcomes onto the signal's
// processing record. realizedPnL is the position's cumulative realized pnl,
// stored as-is, not added to the previous value.
type Recorder interface {
	SetDecision(ctx context.Context, recordID string, d enum.Decision, reason string) error
	SetExecution(ctx context.Context, recordID, executionRef string, positionStatus enum.PositionStatus) error
	AppendExitSignal(ctx context.Context, entrySignalID, exitSignalID string, realizedPnL decimal.Decimal) error
}

// AccountReader serves the freshest account snapshot, normally the poller.
type AccountReader interface {
	Account(ctx context.Context, accountID string) (model.AccountSnapshot, bool)
}

// PriceSource resolves the reference price a signal is sized against.
type PriceSource interface {
	ReferencePrice(ctx context.Context, sig model.Signal) (decimal.Decimal, bool)
}

// Ledger applies confirmed fills.
type Ledger interface {
	ApplyFill(ctx context.Context, order model.Order, filledQty, avgFillPrice decimal.Decimal) (model.Position, error)
}

// Router maps a signal to the broker config of the account that trades it.
type Router func(model.Signal) (broker.Config, bool)

type Usecase struct {
	engine   *decision.Engine
	alloc    AllocationReader
	ledger   Ledger
	cache    *broker.Cache
	records  Recorder
	accounts AccountReader
	prices   PriceSource
	route    Router

	running atomic.Bool
	worker  int
	queue   chan Task

	settlePoll    time.Duration
	settleTimeout time.Duration
}

// AllocationReader yields the active allocation snapshot.
type AllocationReader interface {
	Current() model.AllocationWeights
}

func NewUsecase(
	workerCount, queueCap int,
	engine *decision.Engine,
	alloc AllocationReader,
	ledger Ledger,
	cache *broker.Cache,
	records Recorder,
	accounts AccountReader,
	prices PriceSource,
	route Router,
) (*Usecase, error) {
	if workerCount <= 0 || queueCap <= 0 {
		return nil, exception.ErrOrderInvalidWorkers
	}
	return &Usecase{
		engine:        engine,
		alloc:         alloc,
		ledger:        ledger,
		cache:         cache,
		records:       records,
		accounts:      accounts,
		prices:        prices,
		route:         route,
		worker:        workerCount,
		queue:         make(chan Task, queueCap),
		settlePoll:    defaultSettlePoll,
		settleTimeout: defaultSettleTimeout,
	}, nil
}

// Handle enqueues one linked signal. A full queue rejects rather than
// blocking the watcher loop.
func (use *Usecase) Handle(task Task) error {
	select {
	case use.queue <- task:
		return nil
	default:
		return exception.ErrOrderQueueFull
	}
}

func (use *Usecase) Run(ctx context.Context) {
	if use.running.Swap(true) {
		return
	}
	for range use.worker {
		go use.work(ctx)
	}
}

func (use *Usecase) Stop() {
	use.running.Store(false)
}

func (use *Usecase) work(ctx context.Context) {
	for use.running.Load() {
		select {
		case task := <-use.queue:
			if err := use.process(ctx, task); err != nil {
				logs.Errorf("execute signal %s: %v", task.Signal.SignalID, err)
			}
		case <-ctx.Done():
			return
		case <-time.After(stopTick):
		}
	}
}

func (use *Usecase) process(ctx context.Context, task Task) error {
	sig := task.Signal

	cfg, ok := use.route(sig)
	if !ok {
		use.reject(ctx, task, "no account routes this strategy")
		return nil
	}
	accountID := cfg["account_id"]

	price, ok := use.prices.ReferencePrice(ctx, sig)
	if !ok {
		use.reject(ctx, task, "no reference price")
		return nil
	}
	account, ok := use.accounts.Account(ctx, accountID)
	if !ok {
		use.reject(ctx, task, "no account snapshot")
		return nil
	}

	res := use.engine.Decide(sig, use.alloc.Current(), account, price)
	if err := use.records.SetDecision(ctx, task.RecordID, res.Decision, res.Reason); err != nil {
		logs.Errorf("record decision for %s: %v", sig.SignalID, err)
	}
	if res.Decision == enum.DecisionRejected {
		logs.Infof("signal %s rejected: %s", sig.SignalID, res.Reason)
		return nil
	}

	order := buildOrder(sig, res.FinalQuantity, accountID)
	b, err := use.cache.Get(cfg)
	if err != nil {
		return err
	}
	if !b.IsConnected() {
		if err := b.Connect(ctx); err != nil {
			return err
		}
	}

	placement, err := b.PlaceOrder(ctx, order)
	if err != nil {
		obs.OrdersPlaced.WithLabelValues(b.Name(), enum.OrderStatusRejected.String()).Inc()
		return err
	}

	final, err := use.settle(ctx, b, placement)
	if err != nil {
		return err
	}
	obs.OrdersPlaced.WithLabelValues(b.Name(), final.Status.String()).Inc()
	logs.Infof("order %s on %s settled %s", order.OrderID, b.Name(), final.Status)

	var filledQty decimal.Decimal
	switch {
	case final.Status == enum.OrderStatusFilled:
		// A venue that confirms a full fill without a quantity filled
		// exactly what was asked.
		filledQty = final.FilledQuantity
		if !filledQty.IsPositive() {
			filledQty = order.Quantity
		}
	case final.Status == enum.OrderStatusPartiallyFilled && final.FilledQuantity.IsPositive():
		filledQty = final.FilledQuantity
	case final.Status == enum.OrderStatusPartiallyFilled || !final.Status.IsTerminal():
		// The venue never confirmed how much executed. Booking a guessed
		// quantity would corrupt the cost basis; flag the record for
		// operator reconciliation and leave the ledger untouched.
		logs.Warnf("order %s on %s unreconciled at settle deadline, status %s",
			order.OrderID, b.Name(), final.Status)
		return use.records.SetExecution(ctx, task.RecordID, final.BrokerOrderID, enum.PositionStatusUnreconciled)
	default:
		// Rejected or cancelled: no fill, position unchanged.
		return use.records.SetExecution(ctx, task.RecordID, final.BrokerOrderID, enum.PositionStatusOpen)
	}

	fillPrice := final.AvgFillPrice
	if !fillPrice.IsPositive() {
		fillPrice = price
	}

	position, err := use.ledger.ApplyFill(ctx, order, filledQty, fillPrice)
	if err != nil {
		return err
	}
	if err := use.records.SetExecution(ctx, task.RecordID, final.BrokerOrderID, position.Status); err != nil {
		return err
	}
	if sig.Action.IsExit() && position.EntrySignalID != "" {
		// Exit signals append to the entry's record instead of opening a
		// record lifecycle of their own.
		if err := use.records.AppendExitSignal(ctx, position.EntrySignalID, sig.SignalID, position.RealizedPnL); err != nil {
			logs.Errorf("append exit signal %s: %v", sig.SignalID, err)
		}
	}
	return nil
}

func (use *Usecase) reject(ctx context.Context, task Task, reason string) {
	obs.Decisions.WithLabelValues(enum.DecisionRejected.String()).Inc()
	if err := use.records.SetDecision(ctx, task.RecordID, enum.DecisionRejected, reason); err != nil {
		logs.Errorf("record rejection for %s: %v", task.Signal.SignalID, err)
	}
}

// settle polls the venue until the order reaches a terminal status. A venue
// that filled synchronously settles without any query.
func (use *Usecase) settle(ctx context.Context, b broker.Broker, placement broker.Placement) (broker.Placement, error) {
	if placement.Status.IsTerminal() {
		return placement, nil
	}

	deadline := time.Now().Add(use.settleTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return placement, ctx.Err()
		case <-time.After(use.settlePoll):
		}

		status, err := b.OrderStatus(ctx, placement.BrokerOrderID)
		if err != nil {
			return placement, err
		}
		placement.Status = status
		if status.IsTerminal() {
			return placement, nil
		}
	}

	// Still working at the deadline: leave it to the venue and report the
	// last observed status.
	return placement, nil
}

func buildOrder(sig model.Signal, quantity decimal.Decimal, accountID string) model.Order {
	// A signal's direction names the position side. Exit orders trade the
	// opposite side to flatten it, legs included: each leg closes the leg
	// position it opened.
	direction := sig.Direction
	legs := sig.Legs
	if sig.Action.IsExit() {
		direction = flipDirection(direction)
		if len(sig.Legs) > 0 {
			legs = make([]model.OrderLeg, len(sig.Legs))
			copy(legs, sig.Legs)
			for i := range legs {
				legs[i].Direction = flipDirection(legs[i].Direction)
			}
		}
	}

	order := model.Order{
		OrderID:        uuid.NewString(),
		SignalID:       sig.SignalID,
		StrategyID:     sig.StrategyID,
		Instrument:     sig.Instrument,
		InstrumentType: sig.InstrumentType,
		Direction:      direction,
		Quantity:       quantity,
		OrderType:      sig.OrderType,
		LimitPrice:     sig.LimitPrice,
		StopPrice:      sig.StopPrice,
		Expiry:         sig.Expiry,
		Legs:           legs,
		AccountID:      accountID,
	}
	if sig.InstrumentType == enum.InstrumentTypeOption {
		order.Underlying = sig.Instrument
	}
	return order
}

func flipDirection(d enum.Direction) enum.Direction {
	if d == enum.DirectionLong {
		return enum.DirectionShort
	}
	return enum.DirectionLong
}
