package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config
// directory inside it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "outreachd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	def.normalize()
	assert.Equal(t, def, cfg)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, CounterMemory, cfg.Gate.CounterBackend)
}

func TestLoad_YAMLOverrides(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
server:
  http_port: 9300
gate:
  counter_backend: redis
  warn_below: 0.5
redis:
  addr: redis.internal:6379
  password: hunter2
policy:
  files: [/etc/outreachd/policies.toml]
  watch: true
sequencer:
  runner:
    interval: 5s
    concurrency: 4
  retry:
    max_retries: 5
guardrails:
  max_bounce_rate: 0.02
  max_complaint_rate: 0.001
  max_negative_reply_rate: 0.1
  max_opt_out_rate: 0.02
logging:
  redaction:
    fields: [email]
experiment:
  assigner: hash
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9300, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
	assert.Equal(t, CounterRedis, cfg.Gate.CounterBackend)
	assert.Equal(t, 0.5, cfg.Gate.WarnBelow)
	assert.Equal(t, "hunter2", cfg.Redis.Password.Value())
	assert.Equal(t, "hunter2", cfg.Redis.Client().Password)
	assert.Equal(t, []string{"/etc/outreachd/policies.toml"}, cfg.Policy.Files)
	assert.True(t, cfg.Policy.Watch)
	assert.Equal(t, 5*time.Second, cfg.Sequencer.Runner.Interval)
	assert.Equal(t, 4, cfg.Sequencer.Runner.Concurrency)
	assert.Equal(t, 500, cfg.Sequencer.Runner.Batch)
	assert.Equal(t, 5, cfg.Sequencer.Retry.MaxRetries)
	assert.Equal(t, []string{"email"}, cfg.Logging.Redaction.Fields, "lists replace defaults")
	assert.Equal(t, AssignerHash, cfg.Experiment.Assigner)

	assert.Equal(t, 0.02, cfg.Guardrails.MaxBounceRate)
	assert.Equal(t, cfg.Guardrails, cfg.Campaign.Guardrails)
	assert.Equal(t, cfg.Guardrails, cfg.Optimizer.Guardrails)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "server:\n  http_port: 9300\n")

	t.Setenv("OUTREACHD_SERVER_HTTP_PORT", "9400")
	t.Setenv("OUTREACHD_SEQUENCER_RUNNER_INTERVAL", "2s")
	t.Setenv("OUTREACHD_POLICY_FILES", "a.yaml,b.toml")
	t.Setenv("OUTREACHD_STORE_BACKEND", "memory")
	t.Setenv("OUTREACHD_OPTIMIZER_EPSILON", "0.2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9400, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Sequencer.Runner.Interval)
	assert.Equal(t, []string{"a.yaml", "b.toml"}, cfg.Policy.Files)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 0.2, cfg.Optimizer.Epsilon)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "gate:\n  counter_backend: etcd\nexperiment:\n  min_samples: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter_backend")
	assert.Contains(t, err.Error(), "min_samples")
}

func TestLoad_RejectsPathOutsideConfigDir(t *testing.T) {
	setupTestHome(t)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  http_port: 1\n"), 0600))

	_, err := Load(outside)
	assert.ErrorContains(t, err, "config path validation failed")

	_, err = Load("/etc/outreachd-evil/config.yaml")
	assert.ErrorContains(t, err, "config path validation failed")
}

func TestLoad_RejectsSymlinkEscape(t *testing.T) {
	dir := setupTestHome(t)

	target := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(target, []byte("{}"), 0600))
	link := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.Symlink(target, link))

	_, err := Load(link)
	assert.ErrorContains(t, err, "config path validation failed")
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "{}")
	require.NoError(t, os.Chmod(path, 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "insecure config file permissions")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	dir := setupTestHome(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, make([]byte, maxConfigFileSize+1), 0600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "too large")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"OUTREACHD_SERVER_HTTP_PORT":             "server.http_port",
		"OUTREACHD_GATE_COUNTER_BACKEND":         "gate.counter_backend",
		"OUTREACHD_SEQUENCER_RUNNER_INTERVAL":    "sequencer.runner.interval",
		"OUTREACHD_SEQUENCER_SEND_TIMEOUT":       "sequencer.send_timeout",
		"OUTREACHD_SEQUENCER_TEMPORAL_HOST_PORT": "sequencer.temporal.host_port",
		"OUTREACHD_LOGGING_SAMPLING_TICK":        "logging.sampling.tick",
		"OUTREACHD_OBSERVABILITY_SERVICE_NAME":   "observability.service_name",
		"OUTREACHD_OPTIMIZER_WEIGHTS_REPLY_RATE": "optimizer.weights.reply_rate",
		"OUTREACHD_CONTENTGUARD_ENABLED":         "contentguard.enabled",
		"OUTREACHD_DEBUG":                        "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~/.config/outreachd/outreachd.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "outreachd", "outreachd.db"), got)

	got, err = ExpandHome("/var/lib/outreachd.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/outreachd.db", got)
}

func TestEnsureConfigDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.NoError(t, EnsureConfigDir())
	info, err := os.Stat(filepath.Join(home, ".config", "outreachd"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
