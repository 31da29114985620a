package log

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestFieldsReachZap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zapLogger: zap.New(core), level: zap.NewAtomicLevelAt(zap.DebugLevel)}

	l.With(String("entity_id", "e1")).Warn("fallback",
		Int("size", 9),
		Strings("tags", []string{"a"}),
		Error(errors.New("boom")),
	)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "e1", ctx["entity_id"])
		assert.Equal(t, int64(9), ctx["size"])
		assert.Equal(t, "boom", ctx["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zapLogger: zap.New(core), level: zap.NewAtomicLevelAt(zap.InfoLevel)}

	l.Log(LevelDebug, "dropped")
	l.Log(LevelInfo, "kept")
	assert.Equal(t, 1, logs.Len())

	l.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, l.GetLevel())
	l.Log(LevelDebug, "now kept")
	assert.Equal(t, 2, logs.Len())
}

func TestWithContextRequestID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{zapLogger: zap.New(core), level: zap.NewAtomicLevelAt(zap.DebugLevel)}

	ctx := ContextWithRequestID(context.Background(), "req-7")
	l.WithContext(ctx).Info("hello")

	assert.Equal(t, "req-7", logs.All()[0].ContextMap()["request_id"])
}
