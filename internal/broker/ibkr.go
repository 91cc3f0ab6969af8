package broker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
	"main/internal/model/enum"
)

const (
	ibkrDefaultHost     = "127.0.0.1"
	ibkrDefaultPort     = "7497"
	ibkrDefaultExchange = "SMART"
	ibkrDefaultCurrency = "USD"
	ibkrSettleInterval  = 2 * time.Second
)

// IBKR is a stateful desktop-gateway adapter: a persistent websocket session
// must be established with Connect before any call, and IsConnected reflects
// socket liveness.
type IBKR struct {
	accountID string
	url       string

	mu        sync.Mutex
	wss       *ws.WebSocket
	connected atomic.Bool
	reqID     atomic.Uint64
}

func newIBKR(cfg Config) *IBKR {
	host := orDefault(cfg["host"], ibkrDefaultHost)
	port := orDefault(cfg["port"], ibkrDefaultPort)
	return &IBKR{
		accountID: cfg["account_id"],
		url:       fmt.Sprintf("ws://%s:%s/ws", host, port),
	}
}

func (b *IBKR) Name() string { return NameIBKR }

// Connect dials the gateway and starts the liveness monitor.
func (b *IBKR) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected.Load() {
		return nil
	}

	wss := ws.New(ctx, b.url)
	if err := wss.Start(ctx); err != nil {
		return wrapError(ErrConnection, NameIBKR, err, map[string]any{"url": b.url})
	}
	b.wss = wss
	b.connected.Store(true)

	// The subscription channel closes with the socket.
	ch, cancel := wss.Subscribe()
	go func() {
		defer cancel()
		for range ch {
		}
		b.connected.Store(false)
		logs.Warnf("broker %s: gateway socket closed", NameIBKR)
	}()
	return nil
}

func (b *IBKR) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wss != nil {
		b.wss.Close()
		b.wss = nil
	}
	b.connected.Store(false)
	return nil
}

func (b *IBKR) IsConnected() bool {
	return b.connected.Load()
}

type ibkrRequest struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Payload any   `json:"payload,omitempty"`
}

type ibkrError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ibkrResult struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status,omitempty"`

	NetLiquidation string `json:"netLiquidation,omitempty"`
	MaintMargin    string `json:"maintMargin,omitempty"`
	AvailableFunds string `json:"availableFunds,omitempty"`

	Positions []ibkrPosition  `json:"positions,omitempty"`
	Orders    []ibkrOpenOrder `json:"orders,omitempty"`
}

type ibkrPosition struct {
	Symbol   string  `json:"symbol"`
	Position float64 `json:"position"`
	AvgCost  float64 `json:"avgCost"`
}

type ibkrOpenOrder struct {
	OrderID  string  `json:"orderId"`
	Symbol   string  `json:"symbol"`
	Status   string  `json:"status"`
	Quantity float64 `json:"totalQuantity"`
}

type ibkrResponse struct {
	ID     uint64     `json:"id"`
	Error  *ibkrError `json:"error,omitempty"`
	Result ibkrResult `json:"result"`
}

// ibkrOrderPayload is the gateway-native order. The canonical instrument is
// renamed to symbol, direction becomes BUY/SELL, quantity is coerced to whole
// shares (round half up) and gateway-required fields get defaults that the
// order may override.
type ibkrOrderPayload struct {
	Account       string  `json:"account"`
	Symbol        string  `json:"symbol"`
	SecType       string  `json:"secType"`
	Exchange      string  `json:"exchange"`
	Currency      string  `json:"currency"`
	Side          string  `json:"side"`
	OrderType     string  `json:"orderType"`
	TotalQuantity int64   `json:"totalQuantity"`
	LmtPrice      float64 `json:"lmtPrice,omitempty"`
	AuxPrice      float64 `json:"auxPrice,omitempty"`
	Tif           string  `json:"tif"`
	Expiry        string  `json:"lastTradeDateOrContractMonth,omitempty"`
}

func ibkrSecType(t enum.InstrumentType) string {
	switch t {
	case enum.InstrumentTypeFuture:
		return "FUT"
	case enum.InstrumentTypeOption:
		return "OPT"
	case enum.InstrumentTypeForex:
		return "CASH"
	default:
		return "STK"
	}
}

func ibkrOrderType(t enum.OrderType) string {
	switch t {
	case enum.OrderTypeLimit:
		return "LMT"
	case enum.OrderTypeStop:
		return "STP"
	case enum.OrderTypeStopLimit:
		return "STP LMT"
	default:
		return "MKT"
	}
}

func ibkrTranslate(accountID string, o model.Order) ibkrOrderPayload {
	return ibkrOrderPayload{
		Account:       accountID,
		Symbol:        o.Instrument,
		SecType:       ibkrSecType(o.InstrumentType),
		Exchange:      orDefault(o.Exchange, ibkrDefaultExchange),
		Currency:      ibkrDefaultCurrency,
		Side:          sideWord(o.Direction, "BUY", "SELL"),
		OrderType:     ibkrOrderType(o.OrderType),
		TotalQuantity: roundHalfUpShares(o.Quantity),
		LmtPrice:      o.LimitPrice.InexactFloat64(),
		AuxPrice:      o.StopPrice.InexactFloat64(),
		Tif:           "DAY",
		Expiry:        o.Expiry,
	}
}

func ibkrStatus(s string) enum.OrderStatus {
	switch s {
	case "Filled":
		return enum.OrderStatusFilled
	case "Cancelled", "ApiCancelled":
		return enum.OrderStatusCancelled
	case "Inactive", "Rejected":
		return enum.OrderStatusRejected
	case "Submitted", "PreSubmitted", "PendingSubmit":
		return enum.OrderStatusSubmitted
	default:
		return enum.OrderStatusPending
	}
}

// mapIBKRError folds gateway error codes into the shared taxonomy.
func mapIBKRError(e *ibkrError) *Error {
	details := map[string]any{"gateway_code": e.Code}
	kind := ErrAPI
	switch e.Code {
	case 1100, 1101, 1102, 2110:
		kind = ErrConnection
	case 201:
		kind = ErrOrderRejected
	case 202:
		kind = ErrInsufficientFunds
	case 135, 200, 203:
		kind = ErrInvalidSymbol
	case 2100, 2101:
		kind = ErrAuthentication
	case 399:
		kind = ErrMarketClosed
	case 321:
		kind = ErrValidation
	case 10147, 10148:
		kind = ErrOrderNotFound
	}
	err := newError(kind, NameIBKR, e.Message, details)
	err.Code = strconv.Itoa(e.Code)
	return err
}

// request performs one gateway round trip correlated by request id.
func (b *IBKR) request(ctx context.Context, timeout time.Duration, method string, payload any) (ibkrResult, error) {
	b.mu.Lock()
	wss := b.wss
	b.mu.Unlock()

	if wss == nil || !b.connected.Load() {
		return ibkrResult{}, newError(ErrConnection, NameIBKR, "not connected, call Connect first", nil)
	}

	id := b.reqID.Add(1)
	var out ibkrResult

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, w *ws.WebSocket) error {
			return w.WriteJSON(ibkrRequest{ID: id, Method: method, Payload: payload})
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp ibkrResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}
			if resp.Error != nil {
				return false, mapIBKRError(resp.Error)
			}
			out = resp.Result
			return true, nil
		},
	}, false)
	if err != nil {
		var mapped *Error
		switch {
		case errors.As(err, &mapped):
			return ibkrResult{}, mapped
		case errors.Is(err, context.DeadlineExceeded):
			return ibkrResult{}, wrapError(ErrTimeout, NameIBKR, err, map[string]any{"method": method})
		default:
			return ibkrResult{}, wrapError(ErrConnection, NameIBKR, err, map[string]any{"method": method})
		}
	}
	return out, nil
}

// PlaceOrder validates, translates and submits the order. Multi-leg orders go
// through the shared group path.
func (b *IBKR) PlaceOrder(ctx context.Context, order model.Order) (Placement, error) {
	if err := Validate(NameIBKR, order); err != nil {
		return Placement{}, err
	}
	if order.IsMultiLeg() {
		return placeGroup(ctx, b, order, ibkrSettleInterval)
	}
	return b.placeSingle(ctx, order)
}

func (b *IBKR) placeSingle(ctx context.Context, order model.Order) (Placement, error) {
	res, err := b.request(ctx, placeTimeout, "placeOrder", ibkrTranslate(b.accountID, order))
	if err != nil {
		return Placement{}, err
	}
	return Placement{
		BrokerOrderID: res.OrderID,
		Status:        ibkrStatus(res.Status),
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (b *IBKR) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := b.request(ctx, queryTimeout, "cancelOrder", map[string]string{"orderId": brokerOrderID})
	return err
}

func (b *IBKR) OrderStatus(ctx context.Context, brokerOrderID string) (enum.OrderStatus, error) {
	res, err := b.request(ctx, queryTimeout, "orderStatus", map[string]string{"orderId": brokerOrderID})
	if err != nil {
		return enum.OrderStatusPending, err
	}
	return ibkrStatus(res.Status), nil
}

func (b *IBKR) AccountBalance(ctx context.Context) (model.AccountSnapshot, error) {
	return b.MarginInfo(ctx)
}

func (b *IBKR) MarginInfo(ctx context.Context) (model.AccountSnapshot, error) {
	res, err := b.request(ctx, queryTimeout, "accountSummary", map[string]string{"account": b.accountID})
	if err != nil {
		return model.AccountSnapshot{}, err
	}

	equity, err := decimal.NewFromString(res.NetLiquidation)
	if err != nil {
		return model.AccountSnapshot{}, wrapError(ErrAPI, NameIBKR, err, map[string]any{
			"field": "netLiquidation",
			"value": res.NetLiquidation,
		})
	}
	marginUsed, err := decimal.NewFromString(res.MaintMargin)
	if err != nil {
		return model.AccountSnapshot{}, wrapError(ErrAPI, NameIBKR, err, map[string]any{
			"field": "maintMargin",
			"value": res.MaintMargin,
		})
	}
	available, err := decimal.NewFromString(res.AvailableFunds)
	if err != nil {
		return model.AccountSnapshot{}, wrapError(ErrAPI, NameIBKR, err, map[string]any{
			"field": "availableFunds",
			"value": res.AvailableFunds,
		})
	}

	return model.AccountSnapshot{
		AccountID:       b.accountID,
		Equity:          equity,
		MarginUsed:      marginUsed,
		MarginAvailable: available,
	}, nil
}

func (b *IBKR) OpenPositions(ctx context.Context) ([]VenuePosition, error) {
	res, err := b.request(ctx, queryTimeout, "positions", map[string]string{"account": b.accountID})
	if err != nil {
		return nil, err
	}

	out := make([]VenuePosition, 0, len(res.Positions))
	for _, p := range res.Positions {
		direction := enum.DirectionLong
		qty := p.Position
		if qty < 0 {
			direction = enum.DirectionShort
			qty = -qty
		}
		out = append(out, VenuePosition{
			Instrument: p.Symbol,
			Direction:  direction,
			Quantity:   decimal.NewFromFloat(qty),
			AvgPrice:   decimal.NewFromFloat(p.AvgCost),
		})
	}
	return out, nil
}

func (b *IBKR) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	res, err := b.request(ctx, queryTimeout, "openOrders", map[string]string{"account": b.accountID})
	if err != nil {
		return nil, err
	}

	out := make([]OpenOrder, 0, len(res.Orders))
	for _, o := range res.Orders {
		out = append(out, OpenOrder{
			BrokerOrderID: o.OrderID,
			Instrument:    o.Symbol,
			Status:        ibkrStatus(o.Status),
			Quantity:      decimal.NewFromFloat(o.Quantity),
		})
	}
	return out, nil
}
