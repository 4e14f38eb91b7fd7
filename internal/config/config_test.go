package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
storage:
  backend: memory
scheduler:
  interval: 30s
monitor:
  window: 12h
  pools:
    - address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"
      name: usdc-weth
      price_basis: a_per_b
      price_change_threshold: 2.5
    - address: "0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852"
      price_basis: token0
alerting:
  cooldown: 90m
  channels: log,telegram
  telegram:
    enabled: true
    bot_token: abc
    chat_ids: "1,2"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 12*time.Hour, cfg.Monitor.Window)
	assert.Equal(t, 90*time.Minute, cfg.Alerting.Cooldown)
	assert.Equal(t, []string{"log", "telegram"}, cfg.Alerting.Channels)
	assert.Equal(t, []string{"1", "2"}, cfg.Alerting.Telegram.ChatIDs)
	require.Len(t, cfg.Monitor.Pools, 2)
	assert.Equal(t, "usdc-weth", cfg.Monitor.Pools[0].Name)
	assert.Equal(t, BackendMemory, cfg.ResolveBackend())

	price, liquidity := cfg.Thresholds(cfg.Monitor.Pools[0])
	assert.Equal(t, 2.5, price)
	assert.Equal(t, 5.0, liquidity)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 24*time.Hour, cfg.Monitor.Window)
	assert.Equal(t, 3*time.Hour, cfg.Alerting.Cooldown)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, BackendMemory, cfg.ResolveBackend())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("POOLWATCH_ALERTING_COOLDOWN", "45m")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Alerting.Cooldown)
}

func TestLoadEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("POOLWATCH_SCHEDULER_INTERVAL=2m\n"), 0o600))
	t.Setenv("POOLWATCH_APP_ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("POOLWATCH_SCHEDULER_INTERVAL") })

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad basis": `
monitor:
  pools:
    - address: "0x1"
      price_basis: sideways
`,
		"duplicate pool": `
monitor:
  pools:
    - address: "0xabc"
      price_basis: a_per_b
    - address: "0xABC"
      price_basis: b_per_a
`,
		"missing chat ids": `
alerting:
  telegram:
    enabled: true
    bot_token: abc
`,
		"postgres without dsn": `
storage:
  backend: postgres
`,
		"unknown backend": `
storage:
  backend: sqlite
`,
		"zero window": `
monitor:
  window: 0s
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestResolveBackendPrefersPostgresWithDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{DSN: "postgres://localhost/db"}}
	assert.Equal(t, BackendPostgres, cfg.ResolveBackend())

	cfg.Storage.Backend = BackendRedis
	assert.Equal(t, BackendRedis, cfg.ResolveBackend())
}
