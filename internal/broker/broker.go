// Package broker is the capability layer between canonical orders and broker
// SDK calls. Each adapter translates the canonical schema into its venue's
// vocabulary and normalizes every venue failure into the shared taxonomy.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model"
	"main/internal/model/enum"
)

// Call timeouts. Exceeding them surfaces ErrTimeout; the caller decides
// whether to retry, never the adapter.
const (
	placeTimeout = 30 * time.Second
	queryTimeout = 5 * time.Second
)

// Placement is the normalized result of submitting an order. Fill fields are
// zero until the venue reports an execution; synchronous venues populate
// them immediately.
type Placement struct {
	BrokerOrderID  string           `json:"broker_order_id"`
	Status         enum.OrderStatus `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal  `json:"avg_fill_price"`
	Timestamp      time.Time        `json:"timestamp"`
	Message        string           `json:"message,omitempty"`
}

// VenuePosition is a broker-reported open position.
type VenuePosition struct {
	Instrument string          `json:"instrument"`
	Direction  enum.Direction  `json:"direction"`
	Quantity   decimal.Decimal `json:"quantity"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
}

// OpenOrder is a broker-reported working order.
type OpenOrder struct {
	BrokerOrderID string           `json:"broker_order_id"`
	Instrument    string           `json:"instrument"`
	Status        enum.OrderStatus `json:"status"`
	Quantity      decimal.Decimal  `json:"quantity"`
}

// Broker is the polymorphic execution capability. Stateful brokers require
// Connect before any call; stateless brokers treat Connect as a token probe
// and Disconnect as a no-op.
type Broker interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	PlaceOrder(ctx context.Context, order model.Order) (Placement, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	OrderStatus(ctx context.Context, brokerOrderID string) (enum.OrderStatus, error)

	AccountBalance(ctx context.Context) (model.AccountSnapshot, error)
	MarginInfo(ctx context.Context) (model.AccountSnapshot, error)
	OpenPositions(ctx context.Context) ([]VenuePosition, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
}

// Config is a flat key/value broker configuration. Required keys: "broker"
// and "account_id"; the rest are adapter-specific credentials and hosts.
type Config map[string]string

const (
	NameIBKR    = "ibkr"
	NameZerodha = "zerodha"
	NameMock    = "mock"
)

// New selects an adapter from cfg["broker"]. The set is closed on purpose:
// dispatch happens here, not through ambient registries.
func New(cfg Config) (Broker, error) {
	switch cfg["broker"] {
	case NameIBKR:
		return newIBKR(cfg), nil
	case NameZerodha:
		return newZerodha(cfg), nil
	case NameMock:
		return NewMock(cfg), nil
	default:
		return nil, newError(ErrUnsupported, cfg["broker"], "unknown broker name", nil)
	}
}

// Cache hands out one broker instance per account id, creating it on first
// use. Create-if-absent runs under the lock.
type Cache struct {
	mu      sync.Mutex
	brokers map[string]Broker
	factory func(Config) (Broker, error)
}

// NewCache creates a cache using factory, or New when factory is nil.
func NewCache(factory func(Config) (Broker, error)) *Cache {
	if factory == nil {
		factory = New
	}
	return &Cache{
		brokers: make(map[string]Broker),
		factory: factory,
	}
}

// Get returns the broker for cfg["account_id"], creating it if absent.
func (c *Cache) Get(cfg Config) (Broker, error) {
	accountID := cfg["account_id"]
	if accountID == "" {
		return nil, newError(ErrValidation, cfg["broker"], "missing account_id", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.brokers[accountID]; ok {
		return b, nil
	}
	b, err := c.factory(cfg)
	if err != nil {
		return nil, err
	}
	c.brokers[accountID] = b
	return b, nil
}
