package utils

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultArgsPropagate(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelDebug)

	ctx := WithDefaultArgs(context.Background(), "request_id", "r-1")
	log.InfoCtx(ctx, "hello", "k", "v")

	out := buf.String()
	assert.Contains(t, out, "[arke] hello")
	assert.Contains(t, out, "request_id=r-1")
	assert.Contains(t, out, "k=v")
}

func TestDefaultArgsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelDebug)

	ctx := WithDefaultArgs(context.Background(), "a", "1")
	ctx = WithDefaultArgs(ctx, "b", "2")
	log.DebugCtx(ctx, "x")

	out := buf.String()
	assert.Contains(t, out, "a=1")
	assert.Contains(t, out, "b=2")
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, slog.LevelInfo)
	log.Debug("invisible")
	assert.Empty(t, buf.String())
	log.Warn("visible")
	assert.Contains(t, buf.String(), "visible")
}
