package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/chronicle/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)

	// Initialize output
	ui = output.New()
	dryRun = false

	// Drop any store opened by a previous test
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
			dataStore = nil
		}
	})

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chronicle configuration")
	assert.Contains(t, string(data), "window: 100ms")
	assert.Contains(t, string(data), "idle_timeout: 1m0s")
	assert.Contains(t, string(data), `addr: "127.0.0.1:7777"`)
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chronicle configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	t.Setenv("CHRONICLE_TEST_KEY", "val")
	assert.Contains(t, detectSource("test_key", "CHRONICLE_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "CHRONICLE_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "CHRONICLE_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestConfigKeys_EnvNames(t *testing.T) {
	envs := map[string]string{}
	for _, k := range configKeys {
		envs[k.Key] = k.EnvVar
	}
	assert.Equal(t, "CHRONICLE_BATCH_WINDOW", envs["batch.window"])
	assert.Equal(t, "CHRONICLE_DB_PATH", envs["db_path"])
	assert.Equal(t, "CHRONICLE_SERVE_MAX_STREAMS", envs["serve.max_streams"])
}

func TestEngineConfig_FromViper(t *testing.T) {
	testEnv(t)
	viper.Set("batch.window", "250ms")
	viper.Set("status.idle_timeout", "2m")
	viper.Set("buffer.capacity", 42)

	cfg := engineConfig()
	assert.Equal(t, 42, cfg.Buffer.Capacity)
	assert.Equal(t, 250*time.Millisecond, cfg.Batch.Window)
	assert.Equal(t, 10, cfg.Batch.BurstThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Status.IdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.Health.HeartbeatInterval)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}

	var buf bytes.Buffer
	newLogger(&buf, "info", "json").Info("hello", "session_id", "S1")
	assert.Contains(t, buf.String(), `"session_id":"S1"`)
}

func TestNewLLMClient(t *testing.T) {
	testEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")
	assert.Nil(t, newLLMClient())

	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	c := newLLMClient()
	require.NotNil(t, c)
	assert.Equal(t, "claude-haiku-4-5-20251001", c.Model())

	viper.Set("anthropic.model", "claude-sonnet-4-5")
	viper.Set("anthropic.api_key", "from-config")
	assert.Equal(t, "claude-sonnet-4-5", newLLMClient().Model())
}
