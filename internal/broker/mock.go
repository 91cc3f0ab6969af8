package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
)

// Mock is the in-memory broker used by tests and the paper wiring path. It
// fills orders immediately at a configurable price and can be scripted to
// reject specific symbols.
type Mock struct {
	accountID string

	mu          sync.Mutex
	connected   bool
	seq         int64
	fillPrice   decimal.Decimal
	reject      map[string]bool
	rejectLater map[string]bool
	partial     map[string]bool
	orders      map[string]*mockOrder
	balance     model.AccountSnapshot
}

type mockOrder struct {
	order     model.Order
	status    enum.OrderStatus
	cancelled bool
}

// NewMock creates a mock broker. cfg may set "fill_price".
func NewMock(cfg Config) *Mock {
	fillPrice := decimal.NewFromInt(100)
	if raw, ok := cfg["fill_price"]; ok {
		if p, err := decimal.NewFromString(raw); err == nil {
			fillPrice = p
		}
	}
	return &Mock{
		accountID:   cfg["account_id"],
		fillPrice:   fillPrice,
		reject:      make(map[string]bool),
		rejectLater: make(map[string]bool),
		partial:     make(map[string]bool),
		orders:      make(map[string]*mockOrder),
		balance: model.AccountSnapshot{
			AccountID:       cfg["account_id"],
			Equity:          decimal.NewFromInt(1_000_000),
			MarginUsed:      decimal.Zero,
			MarginAvailable: decimal.NewFromInt(1_000_000),
		},
	}
}

// RejectSymbol scripts a rejection for every order on symbol.
func (b *Mock) RejectSymbol(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reject[symbol] = true
}

// RejectSymbolAfterSubmit scripts a post-submission terminal rejection:
// the order is accepted but lands REJECTED when its status is queried.
func (b *Mock) RejectSymbolAfterSubmit(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectLater[symbol] = true
}

// PartialFillSymbol scripts a stuck partial execution: orders on symbol are
// accepted, report PARTIALLY_FILLED on every status query, and never carry a
// confirmed fill quantity.
func (b *Mock) PartialFillSymbol(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.partial[symbol] = true
}

// SetFillPrice changes the price subsequent orders fill at.
func (b *Mock) SetFillPrice(p decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillPrice = p
}

// SetBalance overrides the reported account snapshot.
func (b *Mock) SetBalance(snapshot model.AccountSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = snapshot
}

// FillPrice returns the configured fill price.
func (b *Mock) FillPrice() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fillPrice
}

// CancelledOrders lists broker order ids cancelled so far.
func (b *Mock) CancelledOrders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for id, o := range b.orders {
		if o.cancelled {
			out = append(out, id)
		}
	}
	return out
}

func (b *Mock) Name() string { return NameMock }

func (b *Mock) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

func (b *Mock) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	return nil
}

func (b *Mock) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Mock) PlaceOrder(ctx context.Context, order model.Order) (Placement, error) {
	if err := Validate(NameMock, order); err != nil {
		return Placement{}, err
	}
	if order.IsMultiLeg() {
		// No settle wait: mock fills are synchronous.
		return placeGroup(ctx, b, order, 0)
	}
	return b.placeSingle(ctx, order)
}

func (b *Mock) placeSingle(ctx context.Context, order model.Order) (Placement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.reject[order.Instrument] {
		return Placement{}, newError(ErrOrderRejected, NameMock, "scripted rejection", map[string]any{
			"symbol": order.Instrument,
		})
	}

	b.seq++
	id := "mock-" + strconv.FormatInt(b.seq, 10)
	placement := Placement{
		BrokerOrderID:  id,
		Status:         enum.OrderStatusFilled,
		FilledQuantity: order.Quantity,
		AvgFillPrice:   b.fillPrice,
		Timestamp:      time.Now().UTC(),
	}
	status := enum.OrderStatusFilled
	switch {
	case b.rejectLater[order.Instrument]:
		// Accepted at submission, rejected once the venue reports back.
		status = enum.OrderStatusRejected
		placement.Status = enum.OrderStatusSubmitted
		placement.FilledQuantity = decimal.Zero
		placement.AvgFillPrice = decimal.Zero
	case b.partial[order.Instrument]:
		status = enum.OrderStatusPartiallyFilled
		placement.Status = enum.OrderStatusSubmitted
		placement.FilledQuantity = decimal.Zero
		placement.AvgFillPrice = decimal.Zero
	}
	b.orders[id] = &mockOrder{order: order, status: status}
	return placement, nil
}

func (b *Mock) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return newError(ErrOrderNotFound, NameMock, "unknown order", map[string]any{
			"order_id": brokerOrderID,
		})
	}
	if !o.status.IsTerminal() {
		o.status = enum.OrderStatusCancelled
	}
	o.cancelled = true
	return nil
}

func (b *Mock) OrderStatus(ctx context.Context, brokerOrderID string) (enum.OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok {
		return enum.OrderStatusPending, newError(ErrOrderNotFound, NameMock, "unknown order", map[string]any{
			"order_id": brokerOrderID,
		})
	}
	return o.status, nil
}

func (b *Mock) AccountBalance(ctx context.Context) (model.AccountSnapshot, error) {
	return b.MarginInfo(ctx)
}

func (b *Mock) MarginInfo(ctx context.Context) (model.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

func (b *Mock) OpenPositions(ctx context.Context) ([]VenuePosition, error) {
	return nil, nil
}

func (b *Mock) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []OpenOrder
	for id, o := range b.orders {
		if o.status.IsTerminal() {
			continue
		}
		out = append(out, OpenOrder{
			BrokerOrderID: id,
			Instrument:    o.order.Instrument,
			Status:        o.status,
			Quantity:      o.order.Quantity,
		})
	}
	return out, nil
}
