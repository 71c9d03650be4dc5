package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/config"
)

func TestNew_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(config.Log{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("sync complete", zap.String("account", "alice"))
	require.NoError(t, closeFn())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "sync complete", entry["msg"])
	assert.Equal(t, "alice", entry["account"])
}

func TestNew_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "roost.log")
	var buf bytes.Buffer
	logger, closeFn, err := New(config.Log{Level: "debug", Format: "console", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	logger.Debug("cache miss", zap.String("key", "user_timeline:bob"))
	require.NoError(t, closeFn())

	assert.Contains(t, buf.String(), "cache miss")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"key":"user_timeline:bob"`)
}

func TestNew_Invalid(t *testing.T) {
	_, _, err := New(config.Log{Level: "loud"}, nil)
	assert.Error(t, err)

	_, _, err = New(config.Log{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}
