package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the reasond config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "reasond")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.Runtime.MaxRounds)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.ResetTimeout.Duration())
	assert.InDelta(t, 0.40, cfg.Conscience.EntropyThreshold, 1e-9)
	assert.InDelta(t, 0.60, cfg.Conscience.CoherenceThreshold, 1e-9)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Runtime, cfg.Runtime)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
runtime:
  max_rounds: 3
  workers: 2
bus:
  retry_attempts: 1
  call_timeout: 5s
reasoning:
  - name: primary
    endpoint: http://localhost:8000/v1
    model: small
    api_key: sk-test
    priority: high
  - name: backup
    kind: langchain
    endpoint: http://localhost:8001/v1
    model: tiny
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Runtime.MaxRounds)
	assert.Equal(t, 2, cfg.Runtime.Workers)
	assert.Equal(t, 64, cfg.Runtime.QueueSize, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.Bus.CallTimeout.Duration())

	require.Len(t, cfg.Reasoning, 2)
	assert.Equal(t, "http", cfg.Reasoning[0].Kind)
	assert.Equal(t, "high", cfg.Reasoning[0].Priority)
	assert.Equal(t, "sk-test", cfg.Reasoning[0].APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Reasoning[0].APIKey.String())
	assert.Equal(t, "normal", cfg.Reasoning[1].Priority)
	assert.Equal(t, 5*time.Second, cfg.Reasoning[1].Timeout.Duration())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "runtime:\n  max_rounds: 3\n", 0600)

	t.Setenv("REASOND_RUNTIME_MAX_ROUNDS", "5")
	t.Setenv("REASOND_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Runtime.MaxRounds)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "runtime:\n  max_rounds: 3\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Runtime.MaxRounds = 0
	cfg.Bus.Strategy = "random"
	cfg.Store.Driver = "postgres"
	cfg.Reasoning = []ReasoningConfig{{Kind: "grpc"}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "runtime.max_rounds")
	assert.Contains(t, msg, "bus.strategy")
	assert.Contains(t, msg, "store.driver")
	assert.Contains(t, msg, "reasoning[0].name is required")
	assert.Contains(t, msg, "reasoning[0].kind")
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"REASOND_RUNTIME_MAX_ROUNDS", "runtime.max_rounds"},
		{"REASOND_NATS_URL", "nats.url"},
		{"REASOND_SERVER", "server"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.in))
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte(" 45 ")))
	assert.Equal(t, 45*time.Second, d.Duration(), "bare numbers are seconds")

	require.NoError(t, d.UnmarshalText([]byte("1.5")))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("-3")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, d.UnmarshalText([]byte("NaN")))
}

func TestSecret_NeverPrinted(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte(" sk-live-123 \n")))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))

	data, err := json.Marshal(struct{ Key Secret }{Key: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Empty(t, Secret("").String())
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandHome("~/data/x.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "x.db"), got)

	got, err = ExpandHome("/var/lib/x.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/x.db", got)
}
