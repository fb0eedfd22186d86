package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("DEBUG", "true")
	assert.Equal(t, "debug", LevelFromEnv("info"))

	t.Setenv("DEBUG", "0")
	assert.Equal(t, "info", LevelFromEnv("info"))
}

func TestForTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	l := For(CompHub)
	l.Info().Str("session_id", "abc").Msg("viewer attached")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hub", entry["component"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "viewer attached", entry["message"])
}

func TestInitWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent-connect.log")
	require.NoError(t, Init(Config{Level: "info", File: path}))
	t.Cleanup(func() {
		_ = Close()
		SetOutput(os.Stderr)
	})

	l := For(CompServer)
	l.Info().Msg("hello file")
	l.Debug().Msg("filtered out")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.NotContains(t, string(data), "filtered out")
}
