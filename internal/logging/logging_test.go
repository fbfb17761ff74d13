package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToBothHandlers(t *testing.T) {
	var out bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "copier.log")

	logger, closer, err := New(&out, "info", file)
	require.NoError(t, err)

	logger.With(slog.String("account_id", "M1")).Info("Account online")
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, out.String(), "Account online")
	assert.NotContains(t, out.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "account_id=M1")
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_StdoutOnly(t *testing.T) {
	var out bytes.Buffer

	logger, closer, err := New(&out, "debug", "")
	require.NoError(t, err)
	defer closer.Close()

	logger.WithGroup("relay").Debug("cycle", slog.Int("kept", 2))
	assert.Contains(t, out.String(), "relay.kept")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
