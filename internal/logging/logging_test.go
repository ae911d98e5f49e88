package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnableFileLoggingWritesRotatedFile(t *testing.T) {
	Init()
	path := filepath.Join(t.TempDir(), "logs", "rodentwatch.log")

	closeFn, err := EnableFileLogging(path)
	require.NoError(t, err)

	Info("pipeline started", "node", "test-node")
	ForService("notify").Warn("channel fallback", "channel", "webhook")

	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "pipeline started", first["msg"])
	assert.Equal(t, "test-node", first["node"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "notify", second["service"], "service loggers inherit the file output")
}

func TestNewFileLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "service.log")

	logger, closeFn, err := NewFileLogger(path, "datastore", LevelTrace)
	require.NoError(t, err)

	logger.Info("opened")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"datastore"`)
}
