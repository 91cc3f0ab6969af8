package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/allocation"
	"main/internal/broker"
	"main/internal/decision"
	"main/internal/execution"
	"main/internal/ledger"
	"main/internal/model"
	"main/internal/ops"
	"main/internal/poller"
	"main/internal/store"
	"main/internal/watch"
	"main/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("trader: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "trader",
			ServerAddress:   *pyroscopeAddr,
			Tags:            map[string]string{"env": loaded.Environment},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseObjects,
			},
		})
		if err != nil {
			return err
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := conn.NewMongo(ctx, loaded.Mongo)
	if err != nil {
		return err
	}
	defer func() { _ = mongoClient.Close(context.Background()) }()

	pg, err := conn.New(loaded.Postgres)
	if err != nil {
		return err
	}
	defer func() { _ = pg.Close() }()

	eventStore := store.New(mongoClient.Database(), loaded.Environment)
	if err := eventStore.EnsureIndexes(ctx); err != nil {
		return err
	}

	ledgerStore, err := ledger.NewStore(pg.DB())
	if err != nil {
		return err
	}
	led := ledger.New(ledgerStore)
	openPositions, err := ledgerStore.OpenPositions(ctx)
	if err != nil {
		return err
	}
	led.Restore(openPositions)
	logs.Infof("ledger restored with %d open positions", len(openPositions))

	snapshots, err := allocation.NewSnapshotStore(pg.DB())
	if err != nil {
		return err
	}
	allocStore, err := seedAllocation(ctx, snapshots, loaded)
	if err != nil {
		return err
	}

	cache := broker.NewCache(nil)
	accountPoller := poller.New(cache, loaded.PollEvery, loaded.Brokers)
	go accountPoller.Run(ctx)

	engine := decision.NewEngine(loaded.Policy, led)
	use, err := execution.NewUsecase(
		loaded.Workers, loaded.QueueSize,
		engine, allocStore, led, cache, eventStore,
		execution.PollerAccounts{Poller: accountPoller},
		execution.SignalPriceSource{},
		execution.StaticRouter(loaded.Brokers, loaded.Routes),
	)
	if err != nil {
		return err
	}
	use.Run(ctx)

	signalWatcher, err := watch.New(watch.Config{
		Name:        "signals",
		Environment: loaded.Environment,
		MaxRetries:  loaded.WatchRetries,
		BaseDelay:   loaded.WatchDelay,
	}, eventStore.SignalSource(), func(ctx context.Context, e watch.Event, isCatchup bool) error {
		sig, ok := e.Document.(model.Signal)
		if !ok {
			logs.Warnf("signal event %s has no decoded signal, skipping", e.ID)
			return nil
		}
		return use.Handle(execution.Task{Signal: sig, RecordID: e.LinkID})
	})
	if err != nil {
		return err
	}

	triggerWatcher, err := watch.New(watch.Config{
		Name:        "position-triggers",
		Environment: loaded.Environment,
		MaxRetries:  loaded.WatchRetries,
		BaseDelay:   loaded.WatchDelay,
	}, eventStore.TriggerSource(), func(ctx context.Context, e watch.Event, isCatchup bool) error {
		accountID, ok := e.Document.(string)
		if !ok || accountID == "" {
			return nil
		}
		return accountPoller.TriggerNow(ctx, accountID)
	})
	if err != nil {
		return err
	}

	fatal := make(chan error, 2)
	for name, w := range map[string]*watch.Watcher{
		"signals":           signalWatcher,
		"position-triggers": triggerWatcher,
	} {
		if err := w.Connect(ctx); err != nil {
			return err
		}
		go func(name string, w *watch.Watcher) {
			if err := w.Run(ctx); err != nil {
				fatal <- errors.Wrap(err, "watcher "+name)
			}
		}(name, w)
	}

	go solveLoop(ctx, loaded, ledgerStore, allocStore, snapshots)

	metricsServer := &http.Server{Addr: loaded.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		logs.Infof("metrics listening on %s", loaded.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("metrics server: %+v", err)
		}
	}()

	logs.Infof("trader running, environment %s, %d brokers", loaded.Environment, len(loaded.Brokers))
	var runErr error
	select {
	case <-sys.Shutdown():
		logs.Info("shutting down")
	case runErr = <-fatal:
		logs.Errorf("fatal: %+v", runErr)
	}

	// Stop intake first so in-flight orders drain before connections close.
	signalWatcher.Stop()
	triggerWatcher.Stop()
	accountPoller.Stop()
	use.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()
	return runErr
}

// seedAllocation loads the last persisted allocation, falling back to an
// equal split across routed strategies so a fresh deployment can trade
// before the first solve completes.
func seedAllocation(ctx context.Context, snapshots *allocation.SnapshotStore, loaded ops.Loaded) (*allocation.Store, error) {
	latest, ok, err := snapshots.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		logs.Infof("allocation restored, version %d", latest.Version)
		return allocation.NewStore(latest), nil
	}

	weights := make(map[string]float64, len(loaded.Routes))
	if n := len(loaded.Routes); n > 0 {
		per := loaded.Optimizer.MaxLeverage * 100 / float64(n)
		if capPct := loaded.Optimizer.MaxSingleStrategy * 100; per > capPct {
			per = capPct
		}
		for strategy := range loaded.Routes {
			weights[strategy] = per
		}
	}
	logs.Infof("no persisted allocation, seeding equal weights for %d strategies", len(weights))
	return allocation.NewStore(model.AllocationWeights{
		Weights:     weights,
		Fallback:    true,
		GeneratedAt: time.Now().UTC(),
	}), nil
}

// solveLoop periodically re-optimizes allocation weights from realized
// strategy returns. Solves run here, never on the watcher loop.
func solveLoop(ctx context.Context, loaded ops.Loaded, ledgerStore *ledger.Store, allocStore *allocation.Store, snapshots *allocation.SnapshotStore) {
	ticker := time.NewTicker(loaded.SolveEvery)
	defer ticker.Stop()

	window := loaded.Optimizer.Window
	if window <= 0 {
		window = 252
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sys.Shutdown():
			return
		case <-ticker.C:
		}

		returns, err := ledgerStore.StrategyReturns(ctx, window)
		if err != nil {
			logs.Errorf("allocation returns query: %+v", err)
			continue
		}

		weights, err := allocation.Optimize(returns, loaded.Optimizer)
		if err != nil {
			// Not enough history yet: keep the current allocation.
			logs.Warnf("allocation solve skipped: %v", err)
			continue
		}

		installed := allocStore.Replace(weights)
		if err := snapshots.Save(ctx, installed); err != nil {
			logs.Errorf("persist allocation snapshot: %+v", err)
		}
		logs.Infof("allocation v%d installed, %d strategies, fallback=%t",
			installed.Version, len(installed.Weights), installed.Fallback)
	}
}
