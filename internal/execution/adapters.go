package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"main/internal/broker"
	"main/internal/model"
	"main/internal/poller"
)

// SignalPriceSource sizes a signal against its own limit or stop price.
// Market signals without either carry no usable reference and are rejected
// upstream.
type SignalPriceSource struct{}

func (SignalPriceSource) ReferencePrice(ctx context.Context, sig model.Signal) (decimal.Decimal, bool) {
	if sig.LimitPrice.IsPositive() {
		return sig.LimitPrice, true
	}
	if sig.StopPrice.IsPositive() {
		return sig.StopPrice, true
	}
	return decimal.Zero, false
}

// PollerAccounts reads account snapshots from the poller, forcing an
// immediate poll for accounts that have never been polled.
type PollerAccounts struct {
	Poller *poller.Poller
}

func (a PollerAccounts) Account(ctx context.Context, accountID string) (model.AccountSnapshot, bool) {
	if snap, ok := a.Poller.Latest(accountID); ok {
		return snap.Account, true
	}
	if err := a.Poller.TriggerNow(ctx, accountID); err != nil {
		return model.AccountSnapshot{}, false
	}
	snap, ok := a.Poller.Latest(accountID)
	return snap.Account, ok
}

// StaticRouter routes every strategy to its configured account, falling back
// to the first config when a strategy has no explicit route.
func StaticRouter(configs []broker.Config, byStrategy map[string]string) Router {
	index := make(map[string]broker.Config, len(configs))
	for _, cfg := range configs {
		index[cfg["account_id"]] = cfg
	}
	return func(sig model.Signal) (broker.Config, bool) {
		if accountID, ok := byStrategy[sig.StrategyID]; ok {
			cfg, ok := index[accountID]
			return cfg, ok
		}
		if len(configs) == 0 {
			return nil, false
		}
		return configs[0], true
	}
}
