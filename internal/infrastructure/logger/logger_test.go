package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellmesh/cellmesh/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"), "unknown levels fall back to info")
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		log := New(config.LoggingConfig{Level: "info", Format: format})
		require.NotNil(t, log)
		require.NotNil(t, log.Logger)
	}
}

func TestWith_CarriesAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	log := base.With("notebook_id", "nb-1")
	log.Info("cell executed", "cell_id", "c1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "cell executed", record["msg"])
	assert.Equal(t, "nb-1", record["notebook_id"])
	assert.Equal(t, "c1", record["cell_id"])
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	_ = base.With("notebook_id", "nb-1")
	base.Info("kernel spawned")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, has := record["notebook_id"]
	assert.False(t, has)
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	log := New(config.LoggingConfig{Level: "error", Format: "text"})
	SetDefault(log)
	assert.Same(t, log, Default())
}
