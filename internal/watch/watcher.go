package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/pkg/backoff"
	"main/pkg/exception"
)

const sleepTick = time.Second

// Callback receives every delivered event, at least once. isCatchup is true
// for events replayed from the unprocessed backlog at startup.
type Callback func(ctx context.Context, e Event, isCatchup bool) error

// Config tunes one watcher instance.
type Config struct {
	// Name labels logs and metrics, e.g. "signals" or "position-triggers".
	Name string

	// Environment must match the event's tag for it to be delivered.
	Environment string

	// MaxRetries bounds consecutive transport failures before Run gives up.
	MaxRetries int

	// BaseDelay seeds the exponential backoff between retries.
	BaseDelay time.Duration
}

// Watcher turns an append-only collection into a resumable at-least-once
// delivery stream: a bounded catch-up pass over the unprocessed backlog,
// then a live change subscription. Instances do not share cursors.
type Watcher struct {
	cfg Config
	src Source
	cb  Callback

	running atomic.Bool

	// progressed flags that the current session delivered at least one
	// event to the callback, so the next transport error starts a fresh
	// retry streak. Redelivered already-linked events do not count.
	progressed atomic.Bool

	mu            sync.Mutex
	cursor        []byte
	lastProcessed time.Time
}

// New creates a watcher over src delivering to cb.
func New(cfg Config, src Source, cb Callback) (*Watcher, error) {
	if src == nil {
		return nil, exception.ErrWatchNilSource
	}
	if cb == nil {
		return nil, exception.ErrWatchNilCallback
	}
	if cfg.Name == "" {
		cfg.Name = "watch"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Watcher{cfg: cfg, src: src, cb: cb}, nil
}

// Connect establishes the store session.
func (w *Watcher) Connect(ctx context.Context) error {
	if err := w.src.Connect(ctx); err != nil {
		return errors.Wrap(exception.ErrWatchConnect, err.Error()).With("watcher", w.cfg.Name)
	}
	return nil
}

// Stop requests shutdown. Backoff sleeps observe it within one tick.
func (w *Watcher) Stop() {
	w.running.Store(false)
}

// Cursor returns a copy of the current resume token and the timestamp of the
// last processed event.
func (w *Watcher) Cursor() ([]byte, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor == nil {
		return nil, w.lastProcessed
	}
	out := make([]byte, len(w.cursor))
	copy(out, w.cursor)
	return out, w.lastProcessed
}

func (w *Watcher) setCursor(token []byte, ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor = token
	if !ts.IsZero() {
		w.lastProcessed = ts
	}
}

func (w *Watcher) clearCursor() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cursor = nil
}

// Run executes the catch-up phase followed by the live subscription, retrying
// transport failures with exponential backoff. An invalid-cursor error clears
// the cursor and resubscribes immediately without consuming retry budget.
// Exceeding MaxRetries is fatal and surfaced to the operator.
func (w *Watcher) Run(ctx context.Context) error {
	if w.running.Swap(true) {
		return nil
	}
	defer w.running.Store(false)

	retryCount := 0
	for {
		if err := w.runOnce(ctx); err != nil {
			switch {
			case ctx.Err() != nil || !w.running.Load():
				logs.Infof("watcher %s stopped", w.cfg.Name)
				return nil
			case w.src.IsCursorInvalid(err):
				// Resume token no longer valid: drop it and resubscribe
				// from now. Not a failure for retry accounting.
				w.clearCursor()
				obs.WatcherCursorResets.WithLabelValues(w.cfg.Name).Inc()
				logs.Warnf("watcher %s: invalid cursor, resubscribing immediately", w.cfg.Name)
				continue
			default:
				if w.progressed.Swap(false) {
					// The budget bounds consecutive failures only. A
					// session that went live and delivered makes this
					// drop a new incident, not retry N+1 of the last one.
					retryCount = 0
				}
				retryCount++
				obs.WatcherRestarts.WithLabelValues(w.cfg.Name).Inc()
				if retryCount > w.cfg.MaxRetries {
					return errors.Wrap(exception.ErrWatchRetryExhausted, err.Error()).
						With("watcher", w.cfg.Name).
						With("retries", retryCount-1)
				}
				delay := backoff.Delay(w.cfg.BaseDelay, retryCount-1)
				logs.Errorf("watcher %s: %+v, retry %d/%d in %s",
					w.cfg.Name, err, retryCount, w.cfg.MaxRetries, delay)
				if !w.sleep(ctx, delay) {
					return nil
				}
				continue
			}
		}

		// runOnce returns nil only on an orderly stop.
		return nil
	}
}

func (w *Watcher) runOnce(ctx context.Context) error {
	if err := w.catchUp(ctx); err != nil {
		return err
	}
	return w.live(ctx)
}

// catchUp drains the unprocessed backlog once, oldest first.
func (w *Watcher) catchUp(ctx context.Context) error {
	events, err := w.src.Pending(ctx)
	if err != nil {
		return errors.Wrap(err, "query pending").With("watcher", w.cfg.Name)
	}
	if len(events) > 0 {
		logs.Infof("watcher %s: catching up %d pending events", w.cfg.Name, len(events))
	}

	for _, e := range events {
		if !w.running.Load() || ctx.Err() != nil {
			return ctx.Err()
		}

		if e.CorrelationID == "" {
			// Unlinkable record: mark it so it does not wedge every
			// future catch-up pass.
			logs.Warnf("watcher %s: pending event %s missing correlation key", w.cfg.Name, e.ID)
			if err := w.src.MarkProcessed(ctx, e); err != nil {
				return errors.Wrap(err, "mark processed").With("event", e.ID)
			}
			continue
		}

		// Replays after a crash hit the same test-and-set as live events,
		// so at most one downstream record ever exists per source record.
		if e.LinkID == "" {
			linkID, created, err := w.src.Link(ctx, e)
			if err != nil {
				logs.Errorf("watcher %s: catch-up link %s: %+v, skipping", w.cfg.Name, e.ID, err)
				continue
			}
			if created {
				e.LinkID = linkID
			}
		}

		if err := w.deliver(ctx, e, true); err != nil {
			logs.Errorf("watcher %s: catch-up callback failed for %s: %+v, skipping",
				w.cfg.Name, e.ID, err)
			continue
		}
		if err := w.src.MarkProcessed(ctx, e); err != nil {
			return errors.Wrap(err, "mark processed").With("event", e.ID)
		}
		w.progressed.Store(true)
		obs.WatcherEvents.WithLabelValues(w.cfg.Name, "catchup").Inc()
	}
	return nil
}

// live consumes the change subscription until an error or a stop request.
func (w *Watcher) live(ctx context.Context) error {
	token, _ := w.Cursor()
	sub, err := w.src.Subscribe(ctx, token)
	if err != nil {
		return errors.Wrap(err, "subscribe").With("watcher", w.cfg.Name)
	}
	defer func() { _ = sub.Close(ctx) }()

	logs.Infof("watcher %s: live, resume cursor present: %t", w.cfg.Name, token != nil)

	for w.running.Load() {
		e, next, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		w.consume(ctx, e)
		w.setCursor(next, e.Timestamp)
	}
	return nil
}

// consume applies live-phase filtering and linking, then invokes the
// callback. Failures are isolated so one malformed event cannot take down
// the subscription loop.
func (w *Watcher) consume(ctx context.Context, e Event) {
	switch {
	case e.LinkID != "":
		obs.WatcherEvents.WithLabelValues(w.cfg.Name, "already_linked").Inc()
		return
	case e.Environment != w.cfg.Environment:
		obs.WatcherEvents.WithLabelValues(w.cfg.Name, "wrong_env").Inc()
		return
	case e.CorrelationID == "":
		obs.WatcherEvents.WithLabelValues(w.cfg.Name, "no_correlation").Inc()
		logs.Warnf("watcher %s: event %s missing correlation key", w.cfg.Name, e.ID)
		return
	}

	linkID, created, err := w.src.Link(ctx, e)
	if err != nil {
		logs.Errorf("watcher %s: link %s: %+v, skipping", w.cfg.Name, e.ID, err)
		return
	}
	if !created {
		// Lost the test-and-set race: another consumer owns this event.
		obs.WatcherEvents.WithLabelValues(w.cfg.Name, "link_race").Inc()
		return
	}
	e.LinkID = linkID

	if err := w.deliver(ctx, e, false); err != nil {
		logs.Errorf("watcher %s: callback failed for %s: %+v, skipping", w.cfg.Name, e.ID, err)
		return
	}
	w.progressed.Store(true)
	obs.WatcherEvents.WithLabelValues(w.cfg.Name, "live").Inc()
}

// deliver invokes the callback with panic isolation.
func (w *Watcher) deliver(ctx context.Context, e Event, isCatchup bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("callback panic: %+v", r)
		}
	}()
	return w.cb(ctx, e, isCatchup)
}

// sleep waits for d, waking at least once per second to honor stop requests.
// Returns false when the watcher should exit.
func (w *Watcher) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !w.running.Load() || ctx.Err() != nil {
			return false
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return true
		}
		if remain > sleepTick {
			remain = sleepTick
		}
		timer := time.NewTimer(remain)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
