package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestCaptureCountsProblems(t *testing.T) {
	Reset()
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelDebug)

	Info("cycle finished", "services", 3)
	Warn("tick skipped")
	Error("store unavailable", "error", "boom")
	Warn("slow cycle")

	assert.Equal(t, Counts{Warnings: 2, Errors: 1}, ProblemCounts())

	entries := RecentProblems()
	require.Len(t, entries, 3)
	assert.Equal(t, "tick skipped", entries[0].Message)
	assert.Equal(t, "slow cycle", entries[2].Message)

	var first map[string]any
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &first))
	assert.Equal(t, "cycle finished", first["msg"])
	assert.EqualValues(t, 3, first["services"])

	Reset()
	assert.Equal(t, Counts{}, ProblemCounts())
	assert.Empty(t, RecentProblems())
}

func TestRecentEntriesWraps(t *testing.T) {
	r := newRecentEntries(2)
	r.add(Entry{Level: slog.LevelWarn, Message: "a"})
	r.add(Entry{Level: slog.LevelWarn, Message: "b"})
	r.add(Entry{Level: slog.LevelError, Message: "c"})

	all := r.all()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Message)
	assert.Equal(t, "c", all[1].Message)
	assert.Equal(t, Counts{Warnings: 2, Errors: 1}, r.counts)
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tollgate.log")
	prev := slog.Default()
	require.NoError(t, Init(Options{Level: "info", Path: path}))
	t.Cleanup(func() {
		Close()
		Log = nil
		slog.SetDefault(prev)
	})

	Info("started")
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"started"`)
	assert.Equal(t, path, Path)
}
