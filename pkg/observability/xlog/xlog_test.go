package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"debug", LevelDebug, false},
		{" INFO ", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"err", LevelError, false},
		{"info+2", Level(slog.LevelInfo + 2), false},
		{"DEBUG-4", LevelTrace, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_TextRoundTrip(t *testing.T) {
	var l Level
	require.NoError(t, l.UnmarshalText([]byte("warn")))
	assert.Equal(t, LevelWarn, l)
	b, err := l.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "WARN", string(b))
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "TRACE", LevelTrace.String())
	assert.Equal(t, "INFO+2", Level(slog.LevelInfo+2).String())

	// 每个规范名称都能解析回同一级别
	for _, name := range LevelNames() {
		l, err := ParseLevel(name)
		require.NoError(t, err)
		assert.True(t, strings.EqualFold(name, l.String()), name)
	}
}

func TestBuilder_TraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New().
		SetOutput(&buf).
		SetLevelString("trace").
		Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	logger.Debug(context.Background(), "renewed")
	assert.Contains(t, buf.String(), "renewed")

	_, _, err = New().SetLevelString("loud").Build()
	assert.ErrorContains(t, err, "want one of trace, debug")
}

func TestBuilder_JSONWithContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New().
		SetOutput(&buf).
		SetFormat("json").
		SetLevel(LevelDebug).
		SetAttrs(Component("xjobstore")).
		Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	ctx := WithAttrs(context.Background(), Node("node-a"))
	logger.Debug(ctx, "trigger acquired", Trigger("g.t1"), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "trigger acquired", rec["msg"])
	assert.Equal(t, "xjobstore", rec[KeyComponent])
	assert.Equal(t, "node-a", rec[KeyNode])
	assert.Equal(t, "g.t1", rec[KeyTrigger])
	assert.Equal(t, "boom", rec[KeyError])
}

func TestBuilder_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetLevelString("warn").Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelInfo)
	assert.Equal(t, LevelInfo, logger.GetLevel())
	logger.Info(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestBuilder_Errors(t *testing.T) {
	_, _, err := New().SetFormat("xml").Build()
	assert.Error(t, err)

	_, _, err = New().SetLevelString("loud").Build()
	assert.Error(t, err)

	_, _, err = New().SetRotation(" ", 1, 1, 1, false).Build()
	assert.ErrorIs(t, err, ErrEmptyFilename)
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	logger, cleanup, err := New().SetRotation(path, 1, 1, 1, false).Build()
	require.NoError(t, err)

	logger.Info(context.Background(), "to file")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())
}

func TestLogger_WithAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).Build()
	require.NoError(t, err)

	logger.With(Lock("trigger-access")).WithGroup("detail").Info(context.Background(), "msg", slog.Int("n", 1))
	out := buf.String()
	assert.Contains(t, out, "lock=trigger-access")
	assert.Contains(t, out, "detail.n=1")
}

func TestLogger_Stack(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).Build()
	require.NoError(t, err)

	logger.Stack(context.Background(), "crash")
	assert.True(t, strings.Contains(buf.String(), "goroutine"))
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info(context.Background(), "ignored")
	assert.Equal(t, l, l.With(Count(1)).WithGroup("g"))
	assert.Zero(t, ErrorCount(l))
}

func TestWithAttrs_Accumulates(t *testing.T) {
	ctx := WithAttrs(context.Background(), Node("a"))
	ctx = WithAttrs(ctx, Operation("storeJob"))
	attrs := AttrsFrom(ctx)
	require.Len(t, attrs, 2)
	assert.Equal(t, KeyNode, attrs[0].Key)
	assert.Equal(t, KeyOperation, attrs[1].Key)
	assert.Equal(t, ctx, WithAttrs(ctx))
}
