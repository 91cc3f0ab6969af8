// Package poller refreshes broker account state on a schedule and on demand.
// A per-account mutex keeps the scheduled and event-driven paths from ever
// querying one account concurrently.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/model"
	"main/internal/obs"
	"main/pkg/exception"
)

const (
	triggerScheduled = "scheduled"
	triggerEvent     = "event"
)

// Snapshot is the freshest broker-reported view of one account.
type Snapshot struct {
	Account   model.AccountSnapshot
	Positions []broker.VenuePosition
	PolledAt  time.Time
}

type account struct {
	mu  sync.Mutex
	cfg broker.Config

	snapMu sync.RWMutex
	snap   Snapshot
	ok     bool
}

// Poller polls every configured account at a fixed interval. TriggerNow
// serves as the position-change watcher callback for immediate refreshes.
type Poller struct {
	cache    *broker.Cache
	interval time.Duration
	running  atomic.Bool

	mu       sync.RWMutex
	accounts map[string]*account
}

func New(cache *broker.Cache, interval time.Duration, configs []broker.Config) *Poller {
	p := &Poller{
		cache:    cache,
		interval: interval,
		accounts: make(map[string]*account, len(configs)),
	}
	for _, cfg := range configs {
		if id := cfg["account_id"]; id != "" {
			p.accounts[id] = &account{cfg: cfg}
		}
	}
	return p
}

// Run polls all accounts until ctx is done or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	p.running.Store(true)
	defer p.running.Store(false)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.running.Load() {
				return
			}
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) Stop() {
	p.running.Store(false)
}

// TriggerNow refreshes one account outside the schedule. Unknown accounts
// are reported so a misrouted trigger event is visible.
func (p *Poller) TriggerNow(ctx context.Context, accountID string) error {
	acc, ok := p.account(accountID)
	if !ok {
		return exception.ErrPollerUnknownAccount
	}
	return p.poll(ctx, accountID, acc, triggerEvent)
}

// Latest returns the last successful snapshot for an account.
func (p *Poller) Latest(accountID string) (Snapshot, bool) {
	acc, ok := p.account(accountID)
	if !ok {
		return Snapshot{}, false
	}
	acc.snapMu.RLock()
	defer acc.snapMu.RUnlock()
	return acc.snap, acc.ok
}

func (p *Poller) account(id string) (*account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acc, ok := p.accounts[id]
	return acc, ok
}

func (p *Poller) pollAll(ctx context.Context) {
	p.mu.RLock()
	ids := make([]string, 0, len(p.accounts))
	for id := range p.accounts {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		if ctx.Err() != nil || !p.running.Load() {
			return
		}
		acc, ok := p.account(id)
		if !ok {
			continue
		}
		if err := p.poll(ctx, id, acc, triggerScheduled); err != nil {
			logs.Errorf("poll account %s: %v", id, err)
		}
	}
}

func (p *Poller) poll(ctx context.Context, accountID string, acc *account, trigger string) error {
	// One in-flight poll per account. A trigger landing mid-schedule waits
	// instead of racing the same venue session.
	acc.mu.Lock()
	defer acc.mu.Unlock()

	obs.AccountPolls.WithLabelValues(accountID, trigger).Inc()

	b, err := p.cache.Get(acc.cfg)
	if err != nil {
		return err
	}

	snapshot, err := b.MarginInfo(ctx)
	if err != nil {
		return err
	}
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return err
	}

	acc.snapMu.Lock()
	acc.snap = Snapshot{
		Account:   snapshot,
		Positions: positions,
		PolledAt:  time.Now().UTC(),
	}
	acc.ok = true
	acc.snapMu.Unlock()
	return nil
}
