package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newBufferLogger(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	var buf bytes.Buffer
	Initialize(cfg, zapcore.AddSync(&buf))
	return &buf
}

func TestInitialize(t *testing.T) {
	t.Run("console output is colorized", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "miner",
			Colors:      config.ColorConfig{Info: "green"},
		})
		GetLogger().Info("solving task")

		out := buf.String()
		assert.Contains(t, out, "INFO")
		assert.Contains(t, out, "solving task")
		assert.Contains(t, out, colorMap["green"])
		assert.Contains(t, out, colorReset)
		assert.Contains(t, out, "miner.")
	})

	t.Run("json output", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})
		GetLogger().Warn("cache vetoed", zap.String("tier", "cache"))

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "cache vetoed", entry["msg"])
		assert.Equal(t, "cache", entry["tier"])
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "miner.log")
		newBufferLogger(t, config.LoggerConfig{Level: "debug", Format: "json", LogFile: path, MaxSize: 1})
		GetLogger().Error("written to file")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "written to file")
	})

	t.Run("only the first call wins", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{Level: "info", ServiceName: "First"})
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&bytes.Buffer{}))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		buf := newBufferLogger(t, config.LoggerConfig{Level: "loud", Format: "json"})
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestSetLevel(t *testing.T) {
	ResetForTest()
	assert.Error(t, SetLevel("debug"))

	buf := newBufferLogger(t, config.LoggerConfig{Level: "info", Format: "json"})
	GetLogger().Debug("before")
	require.NoError(t, SetLevel("DEBUG"))
	GetLogger().Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	require.NotNil(t, GetLogger())
}

func TestForTask(t *testing.T) {
	buf := newBufferLogger(t, config.LoggerConfig{Level: "info", Format: "json"})
	ForTask(GetLogger(), "t1", "http://localhost:8001").Info("done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "t1", entry["task_id"])
	assert.Equal(t, "http://localhost:8001", entry["url"])
}
