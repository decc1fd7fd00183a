package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := New(level)
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}

	_, err := New("chatty")
	assert.Error(t, err)
}

func TestContextLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithValue(context.Background(), SessionIDKey, "call-1")
	ctx = WithValue(ctx, RequestIDKey, "req_abc")

	cl.WithContext(ctx).Info("sample applied")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "call-1", fields["session_id"])
	assert.Equal(t, "req_abc", fields["request_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestContextLogger_LogError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	cl.LogError(context.Background(), errors.New("boom"), "snapshot failed")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "snapshot failed", entry.Message)
	assert.Equal(t, "boom", entry.ContextMap()["error"])
}
