package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "none", c.Backend.Type)
	assert.Equal(t, "info", c.Logging.Level)
	assert.True(t, c.Monitor.AutoStart)
	assert.Equal(t, time.Minute, c.Monitor.ReconcileInterval)
	assert.Equal(t, 15*time.Minute, c.Monitor.AdvisoryWindow)
	assert.Equal(t, 14, c.Monitor.MaxScanDays)
	assert.Equal(t, 3, c.Monitor.Retry.Attempts)
	assert.Equal(t, 200*time.Millisecond, c.Monitor.Retry.Backoff)
	assert.Equal(t, "marketpulse.transitions", c.Kafka.EventsTopic)
	assert.Equal(t, "market_transitions", c.ClickHouse.Table)
	assert.Equal(t, []string{"*"}, c.Server.CORS.AllowOrigins)
	assert.Equal(t, 10*time.Minute, c.Server.CORS.MaxAge)
}

func TestParse_CORSOrigins(t *testing.T) {
	c, err := Parse([]byte("server: {cors: {allow_origins: [\"https://ops.example.com\", \"*.example.net\"]}}"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://ops.example.com", "*.example.net"}, c.Server.CORS.AllowOrigins)

	c, err = Parse([]byte("server: {cors: {allow_origins: []}}"))
	require.NoError(t, err)
	assert.Empty(t, c.Server.CORS.AllowOrigins)

	require.NoError(t, c.applyEnv(func(k string) string {
		return map[string]string{"CORS_ALLOW_ORIGINS": " https://a.example.com, https://b.example.com "}[k]
	}))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.Server.CORS.AllowOrigins)

	require.NoError(t, c.applyEnv(func(k string) string { return map[string]string{"CORS_ALLOW_ORIGINS": "-"}[k] }))
	assert.Empty(t, c.Server.CORS.AllowOrigins)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "backend: {type: s3}"},
		{"kafka without brokers", "backend: {type: kafka}"},
		{"clickhouse without host", "backend: {type: clickhouse}"},
		{"bad log level", "logging: {level: loud}"},
		{"scan bound", "monitor: {max_scan_days: 0}"},
		{"session hour", "sessions: [{name: X, start_hour: 25, end_hour: 3}]"},
		{"lock without redis", "monitor: {instance_lock: true}"},
		{"config topic without brokers", "kafka: {config_topic: cfg}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte("environment: test\n"))
	require.NoError(t, err)

	env := map[string]string{
		"MONITOR_AUTOSTART": "false",
		"KAFKA_BROKERS":     "k1:9092,k2:9092",
		"BACKEND_TYPE":      "kafka",
		"REDIS_HOST":        "redis",
		"SERVER_PORT":       "9090",
		"LOG_LEVEL":         "debug",
	}
	require.NoError(t, c.applyEnv(func(k string) string { return env[k] }))

	assert.False(t, c.Monitor.AutoStart)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "kafka", c.Backend.Type)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis", c.Redis.Host)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "debug", c.Logging.Level)
	assert.NoError(t, c.Validate())

	env = map[string]string{"MONITOR_AUTOSTART": "maybe"}
	assert.Error(t, c.applyEnv(func(k string) string { return env[k] }))
}

func TestLoad_RepositoryConfigs(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, c.Monitor.MarketsFile)

	f, err := LoadMarkets(filepath.Join("..", "..", "config", "markets.yaml"))
	require.NoError(t, err)
	assert.Len(t, f.Markets, 9)

	var total float64
	for _, m := range f.Markets {
		total += m.Weight
		assert.True(t, m.ControlMarket(), m.Key)
		assert.True(t, m.Active(), m.Key)
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestParseMarkets_Defaults(t *testing.T) {
	f, err := ParseMarkets([]byte(`
markets:
  - key: X
    timezone: UTC
    open: "09:00"
    close: "17:00"
    weight: 0.5
    is_active: false
  - key: Y
    timezone: UTC
    open: "09:00"
    close: "17:00"
    weekend: [friday]
`))
	require.NoError(t, err)
	require.Len(t, f.Markets, 2)
	assert.Equal(t, []string{"saturday", "sunday"}, f.Markets[0].Weekend)
	assert.False(t, f.Markets[0].Active())
	assert.Equal(t, []string{"friday"}, f.Markets[1].Weekend)

	_, err = ParseMarkets([]byte("markets: [{key: Z, timezone: UTC, open: '09:00', close: '10:00', weight: 2}]"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
