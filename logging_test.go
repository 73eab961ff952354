package syncengine

import (
	"bytes"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("json output honours the level", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewLogger("warn", true, &buf)
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown", zap.String("channel", "chat"))
		require.NoError(t, logger.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "shown", entry["msg"])
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "chat", entry["channel"])
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := NewLogger("loud", false, nil)
		assert.Error(t, err)
	})
}
