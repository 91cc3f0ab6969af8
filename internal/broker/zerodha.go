package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
)

const (
	zerodhaBaseURL         = "https://api.kite.trade"
	zerodhaDefaultExchange = "NSE"
	zerodhaDefaultProduct  = "MIS"
	zerodhaDefaultVariety  = "regular"
	zerodhaSettleInterval  = 2 * time.Second

	// Access tokens are invalidated by the venue daily.
	zerodhaTokenTTL = 24 * time.Hour
)

// Zerodha is a stateless REST adapter: Connect only probes token validity,
// Disconnect is a no-op, and IsConnected reflects a present, non-expired
// token.
type Zerodha struct {
	accountID   string
	apiKey      string
	accessToken string
	baseURL     string
	client      *http.Client

	// tokenCheckedAt is the unix time of the last successful probe; zero
	// means never validated.
	tokenCheckedAt atomic.Int64
}

func newZerodha(cfg Config) *Zerodha {
	return &Zerodha{
		accountID:   cfg["account_id"],
		apiKey:      cfg["api_key"],
		accessToken: cfg["access_token"],
		baseURL:     orDefault(cfg["base_url"], zerodhaBaseURL),
		client:      &http.Client{},
	}
}

func (b *Zerodha) Name() string { return NameZerodha }

// Connect validates the bearer token against the profile endpoint. No
// session is established; REST calls are self-contained.
func (b *Zerodha) Connect(ctx context.Context) error {
	if b.apiKey == "" || b.accessToken == "" {
		return newError(ErrAuthentication, NameZerodha, "missing api_key or access_token", nil)
	}
	var out zerodhaEnvelope
	if err := b.call(ctx, queryTimeout, http.MethodGet, "/user/profile", nil, &out); err != nil {
		return err
	}
	b.tokenCheckedAt.Store(time.Now().Unix())
	return nil
}

// Disconnect is a no-op for a stateless broker.
func (b *Zerodha) Disconnect(ctx context.Context) error { return nil }

func (b *Zerodha) IsConnected() bool {
	checked := b.tokenCheckedAt.Load()
	if checked == 0 {
		return false
	}
	return time.Since(time.Unix(checked, 0)) < zerodhaTokenTTL
}

type zerodhaEnvelope struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Data      struct {
		OrderID string `json:"order_id,omitempty"`

		Equity struct {
			Net       float64 `json:"net"`
			Available struct {
				LiveBalance float64 `json:"live_balance"`
			} `json:"available"`
			Utilised struct {
				Debits float64 `json:"debits"`
			} `json:"utilised"`
		} `json:"equity"`

		Net []zerodhaPosition `json:"net,omitempty"`
	} `json:"data"`

	// Order history / open order queries return a list payload instead.
	Orders []zerodhaOrder `json:"orders,omitempty"`
}

type zerodhaPosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Quantity      float64 `json:"quantity"`
	AveragePrice  float64 `json:"average_price"`
}

type zerodhaOrder struct {
	OrderID       string  `json:"order_id"`
	TradingSymbol string  `json:"tradingsymbol"`
	Status        string  `json:"status"`
	Quantity      float64 `json:"quantity"`
}

// zerodhaTranslate builds the venue form payload: instrument renamed to
// tradingsymbol, LONG/SHORT to BUY/SELL, quantity truncated to whole lots,
// exchange/product/variety injected with overridable defaults.
func zerodhaTranslate(o model.Order) url.Values {
	form := url.Values{}
	form.Set("tradingsymbol", o.Instrument)
	form.Set("exchange", orDefault(o.Exchange, zerodhaDefaultExchange))
	form.Set("transaction_type", sideWord(o.Direction, "BUY", "SELL"))
	form.Set("product", orDefault(o.Product, zerodhaDefaultProduct))
	form.Set("validity", "DAY")
	form.Set("quantity", strconv.FormatInt(truncateShares(o.Quantity), 10))

	switch o.OrderType {
	case enum.OrderTypeLimit:
		form.Set("order_type", "LIMIT")
		form.Set("price", o.LimitPrice.String())
	case enum.OrderTypeStop:
		form.Set("order_type", "SL-M")
		form.Set("trigger_price", o.StopPrice.String())
	case enum.OrderTypeStopLimit:
		form.Set("order_type", "SL")
		form.Set("price", o.LimitPrice.String())
		form.Set("trigger_price", o.StopPrice.String())
	default:
		form.Set("order_type", "MARKET")
	}
	return form
}

func zerodhaStatus(s string) enum.OrderStatus {
	switch s {
	case "COMPLETE":
		return enum.OrderStatusFilled
	case "CANCELLED":
		return enum.OrderStatusCancelled
	case "REJECTED":
		return enum.OrderStatusRejected
	case "OPEN", "TRIGGER PENDING":
		return enum.OrderStatusSubmitted
	default:
		return enum.OrderStatusPending
	}
}

// mapZerodhaError folds venue error envelopes into the shared taxonomy.
func mapZerodhaError(httpStatus int, env zerodhaEnvelope) *Error {
	details := map[string]any{"http_status": httpStatus}
	kind := ErrAPI
	lower := strings.ToLower(env.Message)
	switch {
	case env.ErrorType == "TokenException", env.ErrorType == "PermissionException", httpStatus == http.StatusForbidden:
		kind = ErrAuthentication
	case strings.Contains(lower, "insufficient") || strings.Contains(lower, "margin required"):
		kind = ErrInsufficientFunds
	case strings.Contains(lower, "market") && strings.Contains(lower, "closed"):
		kind = ErrMarketClosed
	case strings.Contains(lower, "instrument") || strings.Contains(lower, "symbol"):
		kind = ErrInvalidSymbol
	case env.ErrorType == "InputException":
		kind = ErrValidation
	case httpStatus == http.StatusNotFound:
		kind = ErrOrderNotFound
	case env.ErrorType == "OrderException":
		kind = ErrOrderRejected
	case env.ErrorType == "NetworkException", httpStatus >= http.StatusInternalServerError:
		kind = ErrConnection
	}
	err := newError(kind, NameZerodha, env.Message, details)
	err.Code = env.ErrorType
	return err
}

// call performs one REST round trip and decodes the envelope.
func (b *Zerodha) call(ctx context.Context, timeout time.Duration, method, path string, form url.Values, out *zerodhaEnvelope) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return wrapError(ErrAPI, NameZerodha, err, nil)
	}
	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", b.apiKey, b.accessToken))
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return wrapError(ErrTimeout, NameZerodha, err, map[string]any{"path": path})
		}
		return wrapError(ErrConnection, NameZerodha, err, map[string]any{"path": path})
	}
	defer func() { _ = resp.Body.Close() }()

	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(out); err != nil {
		return wrapError(ErrAPI, NameZerodha, err, map[string]any{"path": path})
	}
	if out.Status == "error" || resp.StatusCode >= http.StatusBadRequest {
		return mapZerodhaError(resp.StatusCode, *out)
	}
	return nil
}

// PlaceOrder validates, translates and submits the order. Multi-leg orders
// go through the shared group path.
func (b *Zerodha) PlaceOrder(ctx context.Context, order model.Order) (Placement, error) {
	if err := Validate(NameZerodha, order); err != nil {
		return Placement{}, err
	}
	if order.IsMultiLeg() {
		return placeGroup(ctx, b, order, zerodhaSettleInterval)
	}
	return b.placeSingle(ctx, order)
}

func (b *Zerodha) placeSingle(ctx context.Context, order model.Order) (Placement, error) {
	var out zerodhaEnvelope
	path := "/orders/" + zerodhaDefaultVariety
	if err := b.call(ctx, placeTimeout, http.MethodPost, path, zerodhaTranslate(order), &out); err != nil {
		return Placement{}, err
	}
	return Placement{
		BrokerOrderID: out.Data.OrderID,
		Status:        enum.OrderStatusSubmitted,
		Timestamp:     time.Now().UTC(),
	}, nil
}

func (b *Zerodha) CancelOrder(ctx context.Context, brokerOrderID string) error {
	var out zerodhaEnvelope
	path := fmt.Sprintf("/orders/%s/%s", zerodhaDefaultVariety, brokerOrderID)
	return b.call(ctx, queryTimeout, http.MethodDelete, path, nil, &out)
}

func (b *Zerodha) OrderStatus(ctx context.Context, brokerOrderID string) (enum.OrderStatus, error) {
	var out zerodhaEnvelope
	if err := b.call(ctx, queryTimeout, http.MethodGet, "/orders/"+brokerOrderID, nil, &out); err != nil {
		return enum.OrderStatusPending, err
	}
	if len(out.Orders) == 0 {
		return enum.OrderStatusPending, newError(ErrOrderNotFound, NameZerodha, "empty order history", map[string]any{
			"order_id": brokerOrderID,
		})
	}
	// History is chronological; the last entry is current.
	return zerodhaStatus(out.Orders[len(out.Orders)-1].Status), nil
}

func (b *Zerodha) AccountBalance(ctx context.Context) (model.AccountSnapshot, error) {
	return b.MarginInfo(ctx)
}

func (b *Zerodha) MarginInfo(ctx context.Context) (model.AccountSnapshot, error) {
	var out zerodhaEnvelope
	if err := b.call(ctx, queryTimeout, http.MethodGet, "/user/margins", nil, &out); err != nil {
		return model.AccountSnapshot{}, err
	}
	return model.AccountSnapshot{
		AccountID:       b.accountID,
		Equity:          decimal.NewFromFloat(out.Data.Equity.Net),
		MarginUsed:      decimal.NewFromFloat(out.Data.Equity.Utilised.Debits),
		MarginAvailable: decimal.NewFromFloat(out.Data.Equity.Available.LiveBalance),
	}, nil
}

func (b *Zerodha) OpenPositions(ctx context.Context) ([]VenuePosition, error) {
	var out zerodhaEnvelope
	if err := b.call(ctx, queryTimeout, http.MethodGet, "/portfolio/positions", nil, &out); err != nil {
		return nil, err
	}

	positions := make([]VenuePosition, 0, len(out.Data.Net))
	for _, p := range out.Data.Net {
		direction := enum.DirectionLong
		qty := p.Quantity
		if qty < 0 {
			direction = enum.DirectionShort
			qty = -qty
		}
		positions = append(positions, VenuePosition{
			Instrument: p.TradingSymbol,
			Direction:  direction,
			Quantity:   decimal.NewFromFloat(qty),
			AvgPrice:   decimal.NewFromFloat(p.AveragePrice),
		})
	}
	return positions, nil
}

func (b *Zerodha) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var out zerodhaEnvelope
	if err := b.call(ctx, queryTimeout, http.MethodGet, "/orders", nil, &out); err != nil {
		return nil, err
	}

	orders := make([]OpenOrder, 0, len(out.Orders))
	for _, o := range out.Orders {
		status := zerodhaStatus(o.Status)
		if status.IsTerminal() {
			continue
		}
		orders = append(orders, OpenOrder{
			BrokerOrderID: o.OrderID,
			Instrument:    o.TradingSymbol,
			Status:        status,
			Quantity:      decimal.NewFromFloat(o.Quantity),
		})
	}
	return orders, nil
}
