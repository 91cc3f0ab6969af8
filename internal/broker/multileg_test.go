package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

func optionOrder() model.Order {
	return model.Order{
		OrderID:        "ord-1",
		Instrument:     "AAPL",
		Underlying:     "AAPL",
		InstrumentType: enum.InstrumentTypeOption,
		Direction:      enum.DirectionLong,
		Quantity:       decimal.NewFromInt(1),
		OrderType:      enum.OrderTypeMarket,
		AccountID:      "ACC-1",
		Legs: []model.OrderLeg{
			{Instrument: "AAPL260116C00150000", Direction: enum.DirectionLong, Quantity: decimal.NewFromInt(1)},
			{Instrument: "AAPL260116C00160000", Direction: enum.DirectionShort, Quantity: decimal.NewFromInt(1)},
		},
	}
}

func TestPlaceGroupAllLegsFilled(t *testing.T) {
	b := NewMock(Config{"account_id": "ACC-1"})

	placement, err := b.PlaceOrder(context.Background(), optionOrder())
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFilled, placement.Status)
	assert.Equal(t, "ord-1", placement.BrokerOrderID)
}

func TestPlaceGroupSubmitFailureReconciles(t *testing.T) {
	b := NewMock(Config{"account_id": "ACC-1"})
	// Second leg fails at submission; the already-submitted first leg must
	// be cancelled and the group rejected.
	b.RejectSymbol("AAPL260116C00160000")

	placement, err := b.PlaceOrder(context.Background(), optionOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, enum.OrderStatusRejected, placement.Status)

	assert.Len(t, b.CancelledOrders(), 1, "submitted leg must be reconciled")
}

func TestPlaceGroupPostSubmitFailureReconciles(t *testing.T) {
	b := NewMock(Config{"account_id": "ACC-1"})
	// Both legs submit, but one lands terminally rejected at the venue. The
	// group must never report FILLED and must cancel what it can.
	b.RejectSymbolAfterSubmit("AAPL260116C00160000")

	placement, err := b.PlaceOrder(context.Background(), optionOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderRejected)
	assert.Equal(t, enum.OrderStatusRejected, placement.Status)

	var brokerErr *Error
	require.ErrorAs(t, err, &brokerErr)
	assert.Equal(t, 1, brokerErr.Details["filled_legs"])
	assert.Equal(t, 1, brokerErr.Details["failed_legs"])
}

func TestErrorTaxonomy(t *testing.T) {
	err := newError(ErrInsufficientFunds, NameZerodha, "margin shortfall", map[string]any{
		"required":  "120000",
		"available": "85000",
	})
	err.Code = "OrderException"

	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrConnection)
	assert.Contains(t, err.Error(), "zerodha")
	assert.Contains(t, err.Error(), "margin shortfall")
	assert.Contains(t, err.Error(), "OrderException")
}

func TestMapIBKRErrorCodes(t *testing.T) {
	cases := map[int]error{
		1100:  ErrConnection,
		201:   ErrOrderRejected,
		202:   ErrInsufficientFunds,
		200:   ErrInvalidSymbol,
		2100:  ErrAuthentication,
		399:   ErrMarketClosed,
		321:   ErrValidation,
		10147: ErrOrderNotFound,
		9999:  ErrAPI,
	}
	for code, want := range cases {
		err := mapIBKRError(&ibkrError{Code: code, Message: "x"})
		assert.ErrorIs(t, err, want, "gateway code %d", code)
	}
}

func TestMapZerodhaErrors(t *testing.T) {
	err := mapZerodhaError(403, zerodhaEnvelope{ErrorType: "TokenException", Message: "token expired"})
	assert.ErrorIs(t, err, ErrAuthentication)

	err = mapZerodhaError(400, zerodhaEnvelope{ErrorType: "OrderException", Message: "insufficient funds"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	err = mapZerodhaError(400, zerodhaEnvelope{ErrorType: "InputException", Message: "bad field"})
	assert.ErrorIs(t, err, ErrValidation)

	err = mapZerodhaError(503, zerodhaEnvelope{ErrorType: "NetworkException", Message: "downstream"})
	assert.ErrorIs(t, err, ErrConnection)
}

func TestCacheReturnsSameInstancePerAccount(t *testing.T) {
	cache := NewCache(nil)
	cfg := Config{"broker": NameMock, "account_id": "ACC-1"}

	a, err := cache.Get(cfg)
	require.NoError(t, err)
	b, err := cache.Get(cfg)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := cache.Get(Config{"broker": NameMock, "account_id": "ACC-2"})
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	_, err = cache.Get(Config{"broker": NameMock})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNewUnknownBroker(t *testing.T) {
	_, err := New(Config{"broker": "etrade"})
	assert.ErrorIs(t, err, ErrUnsupported)
}
