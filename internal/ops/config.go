// Package ops loads and validates the JSON runtime configuration.
package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/allocation"
	"main/internal/broker"
	"main/internal/decision"
	"main/internal/model/enum"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Environment string            `json:"environment"`
	Mongo       MongoConfig       `json:"mongo"`
	Postgres    PostgresConfig    `json:"postgres"`
	Brokers     []broker.Config   `json:"brokers"`
	Routes      map[string]string `json:"routes"`
	Decision    DecisionConfig    `json:"decision"`
	Optimizer   OptimizerConfig   `json:"optimizer"`
	Watcher     WatcherConfig     `json:"watcher"`
	Poll        PollConfig        `json:"poll"`
	Execution   ExecutionConfig   `json:"execution"`
	MetricsAddr string            `json:"metricsAddr"`
}

// MongoConfig describes the signal event store connection.
type MongoConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Database   string `json:"database"`
	ReplicaSet string `json:"replicaSet"`
	ConnString string `json:"connString"`
}

// PostgresConfig describes the ledger database connection.
type PostgresConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	Database     string `json:"database"`
	SSLMode      string `json:"sslMode"`
	MaxOpenConns int    `json:"maxOpenConns"`
	MaxIdleConns int    `json:"maxIdleConns"`
}

// DecisionConfig captures the sizing policy knobs.
type DecisionConfig struct {
	MaxMarginUtilizationPct float64            `json:"maxMarginUtilizationPct"`
	MarginFractions         map[string]float64 `json:"marginFractions"`
}

// OptimizerConfig captures the allocation solve bounds plus schedule.
type OptimizerConfig struct {
	allocation.Config
	SolveIntervalMinutes int `json:"solveIntervalMinutes"`
}

// WatcherConfig bounds change-stream retry behavior.
type WatcherConfig struct {
	MaxRetries  int `json:"maxRetries"`
	BaseDelayMs int `json:"baseDelayMs"`
}

// PollConfig sets the account poll schedule.
type PollConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// ExecutionConfig sizes the order pipeline.
type ExecutionConfig struct {
	QueueSize int `json:"queueSize"`
	Workers   int `json:"workers"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Environment  string
	Mongo        conn.MongoOption
	Postgres     conn.Option
	Brokers      []broker.Config
	Routes       map[string]string
	Policy       decision.Policy
	Optimizer    allocation.Config
	SolveEvery   time.Duration
	WatchRetries int
	WatchDelay   time.Duration
	PollEvery    time.Duration
	QueueSize    int
	Workers      int
	MetricsAddr  string
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.ConfigFastest.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	if cfg.Environment == "" {
		return Loaded{}, fmt.Errorf("environment is empty")
	}
	brokers, err := resolveBrokers(cfg.Brokers)
	if err != nil {
		return Loaded{}, err
	}
	policy, err := resolvePolicy(cfg.Decision)
	if err != nil {
		return Loaded{}, err
	}
	optimizer, solveEvery, err := resolveOptimizer(cfg.Optimizer)
	if err != nil {
		return Loaded{}, err
	}
	routes, err := resolveRoutes(cfg.Routes, brokers)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{
		Environment:  cfg.Environment,
		Mongo:        resolveMongo(cfg.Mongo),
		Postgres:     resolvePostgres(cfg.Postgres),
		Brokers:      brokers,
		Routes:       routes,
		Policy:       policy,
		Optimizer:    optimizer,
		SolveEvery:   solveEvery,
		WatchRetries: cfg.Watcher.MaxRetries,
		WatchDelay:   time.Duration(cfg.Watcher.BaseDelayMs) * time.Millisecond,
		PollEvery:    time.Duration(cfg.Poll.IntervalSeconds) * time.Second,
		QueueSize:    cfg.Execution.QueueSize,
		Workers:      cfg.Execution.Workers,
		MetricsAddr:  cfg.MetricsAddr,
	}

	if loaded.WatchRetries <= 0 {
		loaded.WatchRetries = 10
	}
	if loaded.WatchDelay <= 0 {
		loaded.WatchDelay = time.Second
	}
	if loaded.PollEvery <= 0 {
		loaded.PollEvery = 30 * time.Second
	}
	if loaded.QueueSize <= 0 {
		loaded.QueueSize = 256
	}
	if loaded.Workers <= 0 {
		loaded.Workers = 4
	}
	if loaded.MetricsAddr == "" {
		loaded.MetricsAddr = ":9102"
	}
	return loaded, nil
}

func resolveMongo(cfg MongoConfig) conn.MongoOption {
	return conn.MongoOption{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		Database:   cfg.Database,
		ReplicaSet: cfg.ReplicaSet,
		ConnString: cfg.ConnString,
	}
}

func resolvePostgres(cfg PostgresConfig) conn.Option {
	return conn.Option{
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password,
		Database:     cfg.Database,
		SSLMode:      cfg.SSLMode,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	}
}

func resolveBrokers(configs []broker.Config) ([]broker.Config, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}
	seen := make(map[string]struct{}, len(configs))
	for i, cfg := range configs {
		if cfg["broker"] == "" {
			return nil, fmt.Errorf("broker[%d]: name is empty", i)
		}
		id := cfg["account_id"]
		if id == "" {
			return nil, fmt.Errorf("broker[%d]: account_id is empty", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("broker[%d]: duplicate account_id %s", i, id)
		}
		seen[id] = struct{}{}
	}
	return configs, nil
}

func resolveRoutes(routes map[string]string, brokers []broker.Config) (map[string]string, error) {
	accounts := make(map[string]struct{}, len(brokers))
	for _, cfg := range brokers {
		accounts[cfg["account_id"]] = struct{}{}
	}
	for strategy, accountID := range routes {
		if _, ok := accounts[accountID]; !ok {
			return nil, fmt.Errorf("route for %s targets unknown account %s", strategy, accountID)
		}
	}
	return routes, nil
}

func resolvePolicy(cfg DecisionConfig) (decision.Policy, error) {
	policy := decision.DefaultPolicy()
	if cfg.MaxMarginUtilizationPct != 0 {
		if cfg.MaxMarginUtilizationPct < 0 || cfg.MaxMarginUtilizationPct > 100 {
			return decision.Policy{}, fmt.Errorf("maxMarginUtilizationPct must be in (0, 100]")
		}
		policy.MaxMarginUtilizationPct = decimal.NewFromFloat(cfg.MaxMarginUtilizationPct)
	}
	for name, fraction := range cfg.MarginFractions {
		t, ok := enum.ParseInstrumentType(name)
		if !ok {
			return decision.Policy{}, fmt.Errorf("unknown instrument type in marginFractions: %s", name)
		}
		if fraction <= 0 || fraction > 1 {
			return decision.Policy{}, fmt.Errorf("margin fraction for %s must be in (0, 1]", name)
		}
		policy.MarginFractions[t] = decimal.NewFromFloat(fraction)
	}
	return policy, nil
}

func resolveOptimizer(cfg OptimizerConfig) (allocation.Config, time.Duration, error) {
	out := cfg.Config
	if out.MaxLeverage <= 0 {
		out.MaxLeverage = 1.0
	}
	if out.MaxSingleStrategy <= 0 {
		out.MaxSingleStrategy = out.MaxLeverage
	}
	if out.MaxDrawdownLimit <= 0 {
		out.MaxDrawdownLimit = 0.30
	}
	if out.MinAllocation < 0 ||
		out.MaxSingleStrategy <= out.MinAllocation ||
		out.MaxSingleStrategy > out.MaxLeverage {
		return allocation.Config{}, 0, fmt.Errorf("optimizer bounds are inconsistent")
	}
	every := time.Duration(cfg.SolveIntervalMinutes) * time.Minute
	if every <= 0 {
		every = time.Hour
	}
	return out, every, nil
}
