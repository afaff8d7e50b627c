package control

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 50*time.Millisecond, cfg.IPC.SendRetryDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.IPC.SendTimeout)
	assert.False(t, cfg.IPC.NotifyPipe)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatchesDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"IPC_SEND_RETRY_DELAY": "10ms",
		"IPC_SEND_TIMEOUT":     "2s",
		"IPC_NOTIFY_PIPE":      "true",
		"IPC_WORKERS":          "4",
		"IPC_PIN_CPUS":         "true",
		"LOG_LEVEL":            "debug",
		"LOG_DEV":              "true",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cfg.IPC.SendRetryDelay)
	assert.Equal(t, 2*time.Second, cfg.IPC.SendTimeout)
	assert.True(t, cfg.IPC.NotifyPipe)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.PinCPUs)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("IPC_WORKERS", "-1")
	_, err := Load()
	assert.Error(t, err)

	assert.Equal(t, Default(), LoadOrDefault())
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("IPC_SEND_RETRY_DELAY", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestStoreUpdateNotifies(t *testing.T) {
	s := NewStore(*Default())
	var seen []time.Duration
	s.OnReload(func(c Config) { seen = append(seen, c.IPC.SendRetryDelay) })

	require.NoError(t, s.Update(func(c *Config) { c.IPC.SendRetryDelay = 5 * time.Millisecond }))
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, seen)
	assert.Equal(t, 5*time.Millisecond, s.Snapshot().IPC.SendRetryDelay)

	err := s.Update(func(c *Config) { c.IPC.SendRetryDelay = 0 })
	assert.Error(t, err)
	assert.Len(t, seen, 1)
	assert.Equal(t, 5*time.Millisecond, s.Snapshot().IPC.SendRetryDelay)
}

func TestStoreListenerMayRegisterListener(t *testing.T) {
	s := NewStore(*Default())
	late := 0
	s.OnReload(func(Config) {
		s.OnReload(func(Config) { late++ })
	})

	require.NoError(t, s.Update(func(c *Config) { c.Workers = 3 }))
	assert.Zero(t, late, "a listener added during notification waits for the next update")
	require.NoError(t, s.Update(func(c *Config) { c.Workers = 4 }))
	assert.Equal(t, 1, late)
}

func TestMetricsIsolatedPerRegistry(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	m1 := NewMetrics(reg1)
	m2 := NewMetrics(prometheus.NewRegistry())

	m1.Sent.WithLabelValues("master", "direct").Inc()
	m1.Sent.WithLabelValues("master", "direct").Inc()
	m2.Sent.WithLabelValues("master", "direct").Inc()
	m1.RetryDepth.WithLabelValues("worker-0").Set(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m1.Sent.WithLabelValues("master", "direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.Sent.WithLabelValues("master", "direct")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m1.RetryDepth.WithLabelValues("worker-0")))

	n, err := testutil.GatherAndCount(reg1, "ipc_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("ring.len", func() any { return 7 })
	dp.RegisterProbe("nested", func() any {
		dp.RegisterProbe("late", func() any { return true })
		return "ok"
	})

	state := dp.DumpState()
	assert.Equal(t, 7, state["ring.len"])
	assert.Equal(t, "ok", state["nested"])
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, dp.Names(), "late")

	dp.UnregisterProbe("ring.len")
	assert.NotContains(t, dp.DumpState(), "ring.len")
}
