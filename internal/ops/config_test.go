package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model/enum"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadResolvesAllSections(t *testing.T) {
	path := writeConfig(t, `{
		"environment": "prod",
		"mongo": {"host": "localhost", "port": 27017, "database": "signals"},
		"postgres": {"host": "localhost", "port": 5432, "database": "ledger"},
		"brokers": [
			{"broker": "mock", "account_id": "ACC-1"},
			{"broker": "zerodha", "account_id": "ACC-2", "api_key": "k"}
		],
		"decision": {
			"maxMarginUtilizationPct": 35,
			"marginFractions": {"EQUITY": 0.5, "FUTURE": 1.0}
		},
		"optimizer": {
			"min_allocation": 0.0,
			"max_single_strategy": 0.5,
			"max_leverage": 1.0,
			"max_drawdown_limit": 0.25,
			"solveIntervalMinutes": 30
		},
		"watcher": {"maxRetries": 5, "baseDelayMs": 500},
		"poll": {"intervalSeconds": 15},
		"execution": {"queueSize": 128, "workers": 2}
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", loaded.Environment)
	assert.Equal(t, "signals", loaded.Mongo.Database)
	assert.Equal(t, "ledger", loaded.Postgres.Database)
	assert.Len(t, loaded.Brokers, 2)
	assert.True(t, loaded.Policy.MaxMarginUtilizationPct.Equal(decimal.NewFromInt(35)))
	assert.True(t, loaded.Policy.MarginFractions[enum.InstrumentTypeEquity].Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, 0.5, loaded.Optimizer.MaxSingleStrategy)
	assert.Equal(t, 30*time.Minute, loaded.SolveEvery)
	assert.Equal(t, 5, loaded.WatchRetries)
	assert.Equal(t, 500*time.Millisecond, loaded.WatchDelay)
	assert.Equal(t, 15*time.Second, loaded.PollEvery)
	assert.Equal(t, 128, loaded.QueueSize)
	assert.Equal(t, 2, loaded.Workers)
	assert.Equal(t, ":9102", loaded.MetricsAddr)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"environment": "paper",
		"brokers": [{"broker": "mock", "account_id": "A"}]
	}`)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, loaded.WatchRetries)
	assert.Equal(t, time.Second, loaded.WatchDelay)
	assert.Equal(t, 30*time.Second, loaded.PollEvery)
	assert.Equal(t, 256, loaded.QueueSize)
	assert.Equal(t, 4, loaded.Workers)
	assert.Equal(t, 1.0, loaded.Optimizer.MaxLeverage)
	assert.Equal(t, time.Hour, loaded.SolveEvery)
	assert.True(t, loaded.Policy.MaxMarginUtilizationPct.Equal(decimal.NewFromInt(40)))
}

func TestLoadRejections(t *testing.T) {
	for name, body := range map[string]string{
		"missing environment":  `{"brokers": [{"broker": "mock", "account_id": "A"}]}`,
		"no brokers":           `{"environment": "prod"}`,
		"missing account":      `{"environment": "prod", "brokers": [{"broker": "mock"}]}`,
		"duplicate account":    `{"environment": "prod", "brokers": [{"broker": "mock", "account_id": "A"}, {"broker": "mock", "account_id": "A"}]}`,
		"bad margin cap":       `{"environment": "prod", "brokers": [{"broker": "mock", "account_id": "A"}], "decision": {"maxMarginUtilizationPct": 150}}`,
		"bad instrument":       `{"environment": "prod", "brokers": [{"broker": "mock", "account_id": "A"}], "decision": {"marginFractions": {"CRYPTO": 0.5}}}`,
		"inconsistent bounds":  `{"environment": "prod", "brokers": [{"broker": "mock", "account_id": "A"}], "optimizer": {"min_allocation": 0.6, "max_single_strategy": 0.5}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
