package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/allocation"
	"main/internal/broker"
	"main/internal/decision"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/exception"
)

type recorderSpy struct {
	mu         sync.Mutex
	decisions  map[string]enum.Decision
	reasons    map[string]string
	executions map[string]string
	statuses   map[string]enum.PositionStatus
	exits      map[string]string
	pnl        map[string]decimal.Decimal
}

func newRecorderSpy() *recorderSpy {
	return &recorderSpy{
		decisions:  make(map[string]enum.Decision),
		reasons:    make(map[string]string),
		executions: make(map[string]string),
		statuses:   make(map[string]enum.PositionStatus),
		exits:      make(map[string]string),
		pnl:        make(map[string]decimal.Decimal),
	}
}

func (r *recorderSpy) SetDecision(_ context.Context, recordID string, d enum.Decision, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[recordID] = d
	r.reasons[recordID] = reason
	return nil
}

func (r *recorderSpy) SetExecution(_ context.Context, recordID, ref string, status enum.PositionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[recordID] = ref
	r.statuses[recordID] = status
	return nil
}

func (r *recorderSpy) AppendExitSignal(_ context.Context, entryID, exitID string, realizedPnL decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits[entryID] = exitID
	r.pnl[entryID] = realizedPnL
	return nil
}

func (r *recorderSpy) decision(recordID string) (enum.Decision, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[recordID], r.reasons[recordID]
}

func (r *recorderSpy) execution(recordID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[recordID]
}

func (r *recorderSpy) status(recordID string) enum.PositionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[recordID]
}

func (r *recorderSpy) exitPnL(entryID string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pnl[entryID]
}

func (r *recorderSpy) hasDecision(recordID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.decisions[recordID]
	return ok
}

type fixedAccounts struct {
	snap model.AccountSnapshot
}

func (f fixedAccounts) Account(context.Context, string) (model.AccountSnapshot, bool) {
	return f.snap, true
}

type fixture struct {
	use     *Usecase
	ledger  *ledger.Ledger
	records *recorderSpy
	cfg     broker.Config
	cache   *broker.Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	led := ledger.New(nil)
	records := newRecorderSpy()
	cfg := broker.Config{
		"broker":     broker.NameMock,
		"account_id": "ACC-1",
		"fill_price": "150",
	}
	cache := broker.NewCache(nil)
	alloc := allocation.NewStore(model.AllocationWeights{
		Weights: map[string]float64{"momentum": 20},
	})
	accounts := fixedAccounts{snap: model.AccountSnapshot{
		AccountID:       "ACC-1",
		Equity:          decimal.NewFromInt(1_000_000),
		MarginUsed:      decimal.Zero,
		MarginAvailable: decimal.NewFromInt(1_000_000),
	}}
	engine := decision.NewEngine(decision.DefaultPolicy(), led)

	use, err := NewUsecase(1, 8, engine, alloc, led, cache, records, accounts,
		SignalPriceSource{}, StaticRouter([]broker.Config{cfg}, nil))
	require.NoError(t, err)

	return &fixture{use: use, ledger: led, records: records, cfg: cfg, cache: cache}
}

func entrySignal(id string) model.Signal {
	return model.Signal{
		SignalID:       id,
		StrategyID:     "momentum",
		Instrument:     "AAPL",
		InstrumentType: enum.InstrumentTypeEquity,
		Direction:      enum.DirectionLong,
		Action:         enum.SignalActionEntry,
		OrderType:      enum.OrderTypeLimit,
		LimitPrice:     decimal.NewFromInt(150),
		ReceivedAt:     time.Now().UTC(),
	}
}

func TestProcessApprovedEntryOpensPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.use.process(ctx, Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"})
	require.NoError(t, err)

	d, _ := f.records.decision("rec-1")
	assert.Equal(t, enum.DecisionApproved, d)
	assert.NotEmpty(t, f.records.execution("rec-1"))

	pos, ok := f.ledger.OpenPosition("momentum", "AAPL")
	require.True(t, ok)
	// 20% of 1M at the 150 limit price.
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(200_000).Div(decimal.NewFromInt(150))),
		"got %s", pos.Quantity)
	assert.Equal(t, "sig-1", pos.EntrySignalID)
}

func TestProcessExitClosesAndAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.use.process(ctx, Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"}))

	exit := entrySignal("sig-2")
	exit.Action = enum.SignalActionExit
	require.NoError(t, f.use.process(ctx, Task{Signal: exit, RecordID: "rec-2"}))

	_, ok := f.ledger.OpenPosition("momentum", "AAPL")
	assert.False(t, ok, "full exit closes the position")

	f.records.mu.Lock()
	defer f.records.mu.Unlock()
	assert.Equal(t, "sig-2", f.records.exits["sig-1"])
}

func TestProcessPartialExitsRecordCumulativePnL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.use.process(ctx, Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"}))

	b, err := f.cache.Get(f.cfg)
	require.NoError(t, err)
	b.(*broker.Mock).SetFillPrice(decimal.NewFromInt(154))

	exit1 := entrySignal("sig-2")
	exit1.Action = enum.SignalActionScaleOut
	exit1.Quantity = decimal.NewFromInt(100)
	require.NoError(t, f.use.process(ctx, Task{Signal: exit1, RecordID: "rec-2"}))

	assert.True(t, f.records.exitPnL("sig-1").Equal(decimal.NewFromInt(400)),
		"got %s", f.records.exitPnL("sig-1"))

	exit2 := entrySignal("sig-3")
	exit2.Action = enum.SignalActionScaleOut
	exit2.Quantity = decimal.NewFromInt(120)
	require.NoError(t, f.use.process(ctx, Task{Signal: exit2, RecordID: "rec-3"}))

	// (154-150) * (100+120). The record mirrors the position's cumulative
	// realized pnl; re-adding the first exit would report 1280.
	assert.True(t, f.records.exitPnL("sig-1").Equal(decimal.NewFromInt(880)),
		"got %s", f.records.exitPnL("sig-1"))

	f.records.mu.Lock()
	assert.Equal(t, "sig-3", f.records.exits["sig-1"])
	f.records.mu.Unlock()

	pos, ok := f.ledger.OpenPosition("momentum", "AAPL")
	require.True(t, ok, "220 shares out of the entry remain open")
	assert.True(t, pos.RealizedPnL.Equal(decimal.NewFromInt(880)), "got %s", pos.RealizedPnL)
}

func TestProcessUnconfirmedPartialFillSkipsLedger(t *testing.T) {
	f := newFixture(t)
	f.use.settleTimeout = 50 * time.Millisecond
	f.use.settlePoll = 10 * time.Millisecond

	b, err := f.cache.Get(f.cfg)
	require.NoError(t, err)
	b.(*broker.Mock).PartialFillSymbol("AAPL")

	require.NoError(t, f.use.process(context.Background(), Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"}))

	_, ok := f.ledger.OpenPosition("momentum", "AAPL")
	assert.False(t, ok, "an unconfirmed fill quantity must never reach the ledger")
	assert.Equal(t, enum.PositionStatusUnreconciled, f.records.status("rec-1"))
	assert.NotEmpty(t, f.records.execution("rec-1"))
}

func TestProcessRejectsUnallocatedStrategy(t *testing.T) {
	f := newFixture(t)
	sig := entrySignal("sig-1")
	sig.StrategyID = "unknown"

	require.NoError(t, f.use.process(context.Background(), Task{Signal: sig, RecordID: "rec-1"}))

	d, reason := f.records.decision("rec-1")
	assert.Equal(t, enum.DecisionRejected, d)
	assert.Contains(t, reason, "allocation")
	assert.Empty(t, f.records.execution("rec-1"))
}

func TestProcessRejectsMissingReferencePrice(t *testing.T) {
	f := newFixture(t)
	sig := entrySignal("sig-1")
	sig.OrderType = enum.OrderTypeMarket
	sig.LimitPrice = decimal.Zero

	require.NoError(t, f.use.process(context.Background(), Task{Signal: sig, RecordID: "rec-1"}))

	d, reason := f.records.decision("rec-1")
	assert.Equal(t, enum.DecisionRejected, d)
	assert.Contains(t, reason, "reference price")
}

func TestHandleQueueFull(t *testing.T) {
	f := newFixture(t)

	// Workers never started, so the queue only drains by capacity.
	for i := 0; i < 8; i++ {
		require.NoError(t, f.use.Handle(Task{Signal: entrySignal("s")}))
	}
	err := f.use.Handle(Task{Signal: entrySignal("s")})
	assert.ErrorIs(t, err, exception.ErrOrderQueueFull)
}

func TestStopHaltsWorkers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.use.Run(ctx)
	f.use.Stop()

	// Idle workers notice the flag within one tick.
	time.Sleep(3 * stopTick)

	require.NoError(t, f.use.Handle(Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"}))
	assert.Never(t, func() bool {
		return f.records.hasDecision("rec-1")
	}, 500*time.Millisecond, 25*time.Millisecond, "stopped workers must not pick up new tasks")
}

func TestBuildOrderFlipsExitLegDirections(t *testing.T) {
	sig := model.Signal{
		SignalID:       "sig-1",
		StrategyID:     "vol",
		Instrument:     "AAPL",
		InstrumentType: enum.InstrumentTypeOption,
		Direction:      enum.DirectionLong,
		Action:         enum.SignalActionExit,
		OrderType:      enum.OrderTypeLimit,
		LimitPrice:     decimal.NewFromInt(5),
		Legs: []model.OrderLeg{
			{Instrument: "AAPL240119C190", Direction: enum.DirectionLong, Quantity: decimal.NewFromInt(1)},
			{Instrument: "AAPL240119C200", Direction: enum.DirectionShort, Quantity: decimal.NewFromInt(1)},
		},
	}

	order := buildOrder(sig, decimal.NewFromInt(1), "ACC-1")

	assert.Equal(t, enum.DirectionShort, order.Direction)
	require.Len(t, order.Legs, 2)
	assert.Equal(t, enum.DirectionShort, order.Legs[0].Direction)
	assert.Equal(t, enum.DirectionLong, order.Legs[1].Direction)
	// The signal stays immutable.
	assert.Equal(t, enum.DirectionLong, sig.Legs[0].Direction)
	assert.Equal(t, enum.DirectionShort, sig.Legs[1].Direction)
}

func TestRunProcessesQueuedTasks(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.use.Run(ctx)
	require.NoError(t, f.use.Handle(Task{Signal: entrySignal("sig-1"), RecordID: "rec-1"}))

	require.Eventually(t, func() bool {
		d, _ := f.records.decision("rec-1")
		return d == enum.DecisionApproved
	}, time.Second, 10*time.Millisecond)
}
