package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json"}, &buf)
	l.Info("hidden")
	l.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "v", entry["k"])
}

func TestWithContextAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "debug", Format: "text"}, &buf)
	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, SourceIDKey, int64(7))

	WithContext(ctx, base).Info("processing")
	out := buf.String()
	require.Contains(t, out, "request_id=req-123")
	require.Contains(t, out, "source_id=7")
}
