package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/config"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bitechat.log")
	log, err := New(config.LogConfig{File: path, Level: "info", MaxSizeMB: 1}, false)
	require.NoError(t, err)

	log.Info("turn completed")
	log.Debug("dropped below level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"turn completed"`)
	assert.NotContains(t, string(data), "dropped below level")
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "x.log"), Level: "chatty"}, false)
	assert.Error(t, err)
}
