package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		m := map[string]any{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter(buf, "debug")

	ctx := ContextWith(context.Background(), slog.String("traceId", "t-1"))
	l.InfoContext(ctx, "hello")
	l.Info("no context")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "t-1", lines[0]["traceId"])
	assert.NotContains(t, lines[1], "traceId")
}

func TestContextWith_NestedScopesRestoreParent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter(buf, "info")

	outer := ContextWith(context.Background(), slog.String("eventId", "outer"), slog.String("traceId", "t"))
	inner := ContextWith(outer, slog.String("eventId", "inner"))

	l.InfoContext(inner, "inner")
	l.InfoContext(outer, "outer")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "inner", lines[0]["eventId"])
	assert.Equal(t, "t", lines[0]["traceId"])
	assert.Equal(t, "outer", lines[1]["eventId"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
