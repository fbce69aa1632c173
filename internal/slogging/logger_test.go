package slogging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{"debug lowercase", "debug", LogLevelDebug},
		{"debug uppercase", "DEBUG", LogLevelDebug},
		{"info lowercase", "info", LogLevelInfo},
		{"warning alias", "warning", LogLevelWarn},
		{"error uppercase", "ERROR", LogLevelError},
		{"unknown defaults to info", "verbose", LogLevelInfo},
		{"empty defaults to info", "", LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LogLevelDebug.String())
	assert.Equal(t, "WARN", LogLevelWarn.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func newBufferLogger(t *testing.T, level LogLevel) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger, err := NewLogger(Config{Level: level, Output: buf})
	require.NoError(t, err)
	return logger, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelWarn)

	logger.Debug("debug %d", 1)
	logger.Info("info %d", 2)
	logger.Warn("warn %d", 3)
	logger.Error("error %d", 4)

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "warn 3", records[0]["msg"])
	assert.Equal(t, "error 4", records[1]["msg"])
}

func TestLogger_SanitizesInjectedNewlines(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelInfo)

	logger.Info("room=%s", "art1\nFAKE ENTRY level=ERROR")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "room=art1 FAKE ENTRY level=ERROR", records[0]["msg"])
}

func TestLogger_RedactsSensitiveAttributes(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelDebug)

	logger.InfoCtx(context.Background(), "snapshot stored",
		slog.String("token", "eyJhbGciOiJIUzI1NiJ9.payload.signature"),
		slog.String("blob", "iVBORw0KGgo="),
		slog.String("client_secret", "hunter2"),
		slog.String("room_id", "art1"),
	)

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "art1", record["room_id"])
	assert.NotContains(t, record, "blob")
	assert.NotContains(t, record, "client_secret")
	assert.Contains(t, record["token"], "REDACTED")
}

func TestLogger_WithAddsAttributes(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelInfo)

	logger.With(slog.String("connection_id", "c-1")).Info("joined")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "c-1", records[0]["connection_id"])
}

func TestSanitizeLogMessage(t *testing.T) {
	assert.Equal(t, "a b c", SanitizeLogMessage("a\nb\r\tc"))
	assert.Equal(t, "", SanitizeLogMessage(" \n "))
}

func TestPartialRedactValue(t *testing.T) {
	assert.Equal(t, "", partialRedactValue(""))
	assert.Equal(t, "[REDACTED]", partialRedactValue("short"))
	assert.Equal(t, "Bearer abcdef...REDACTED...wxyz", partialRedactValue("Bearer abcdefghijklmnopqrstuvwxyz"))

	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	redacted := partialRedactValue(long)
	assert.True(t, strings.HasPrefix(redacted, "abcdef"))
	assert.True(t, strings.HasSuffix(redacted, "6789"))
	assert.NotContains(t, redacted, "mnop")
}

func TestLogWebSocketMessage_OmitsBlob(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelDebug)
	globalMu.Lock()
	previous := globalLogger
	globalLogger = logger
	globalMu.Unlock()
	defer func() {
		globalMu.Lock()
		globalLogger = previous
		globalMu.Unlock()
	}()

	frame := []byte(`{"op":"snapshot-push","roomId":"art1","blob":"iVBORw0KGgo=","version":3}`)
	LogWebSocketMessage(WSMessageInbound, "c-1", "alice", "snapshot-push", frame, WebSocketLoggingConfig{Enabled: true})

	out := buf.String()
	assert.Contains(t, out, "[OMITTED]")
	assert.NotContains(t, out, "iVBORw0KGgo=")
}

type fakeGinContext struct {
	headers map[string]string
	echoed  map[string]string
}

func (f *fakeGinContext) GetHeader(key string) string { return f.headers[key] }
func (f *fakeGinContext) ClientIP() string             { return "203.0.113.7" }
func (f *fakeGinContext) Header(key, value string)     { f.echoed[key] = value }

func TestLogger_ForConnection(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelInfo)

	connLogger := logger.ForConnection("c-9", "alice")
	connLogger.Info("joined room %s", "art1")
	connLogger.With(slog.String("room_id", "art1")).Debug("filtered out")

	records := decodeLines(t, buf)
	require.Len(t, records, 1)
	assert.Equal(t, "joined room art1", records[0]["msg"])
	assert.Equal(t, "c-9", records[0]["connection_id"])
	assert.Equal(t, "alice", records[0]["user_id"])
}

func TestLogger_WithContextRequestID(t *testing.T) {
	logger, buf := newBufferLogger(t, LogLevelInfo)

	withID := &fakeGinContext{headers: map[string]string{"X-Request-ID": "req-1"}, echoed: map[string]string{}}
	logger.WithContext(withID).Info("upgrade")

	withoutID := &fakeGinContext{headers: map[string]string{}, echoed: map[string]string{}}
	logger.WithContext(withoutID).Info("upgrade")

	records := decodeLines(t, buf)
	require.Len(t, records, 2)
	assert.Equal(t, "req-1", records[0]["request_id"])
	assert.Equal(t, "203.0.113.7", records[0]["client_ip"])
	assert.NotEmpty(t, withoutID.echoed["X-Request-ID"])
	assert.Equal(t, withoutID.echoed["X-Request-ID"], records[1]["request_id"])
}
