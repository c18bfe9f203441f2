package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFields_Constructors(t *testing.T) {
	require.Equal(t, Field{Key: "k", Value: "v"}, String("k", "v"))
	require.Equal(t, Field{Key: "k", Value: 1}, Int("k", 1))
	require.Equal(t, Field{Key: "k", Value: int64(2)}, Int64("k", 2))
	require.Equal(t, Field{Key: "k", Value: time.Second}, Duration("k", time.Second))
	require.Equal(t, Field{Key: "error", Value: "boom"}, Err(errors.New("boom")))
	require.Equal(t, Field{Key: "error", Value: ""}, Err(nil))
}

func TestNopLogger_NoPanic(t *testing.T) {
	l := Nop()
	l.Debug("d", String("k", "v"))
	l.Info("i")
	l.Warn("w")
	l.Error("e")
	require.NotNil(t, l.With(String("x", "y")))
	require.NoError(t, l.Sync())
}

func TestLogrusAdapter_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrus(&buf, "debug").With(String("component", "test"))

	l.Info("delivery accepted", String("delivery_id", "d-1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "delivery accepted", entry["msg"])
	require.Equal(t, "d-1", entry["delivery_id"])
	require.Equal(t, "test", entry["component"])
	require.Equal(t, "info", entry["level"])
}

func TestLogrusAdapter_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrus(&buf, "warn")

	l.Info("hidden")
	require.Zero(t, buf.Len())

	l.Warn("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestNewLogrus_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogrus(&buf, "loud")

	l.Debug("hidden")
	require.Zero(t, buf.Len())
	l.Info("shown")
	require.NotZero(t, buf.Len())
}
