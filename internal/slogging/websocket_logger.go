package slogging

import (
	"encoding/json"
	"log/slog"
)

// WebSocketLoggingConfig holds configuration for WebSocket message logging
type WebSocketLoggingConfig struct {
	Enabled        bool
	MaxMessageSize int64 // Max message size to log (in bytes)
}

// WSMessageDirection indicates the direction of the WebSocket message
type WSMessageDirection string

const (
	WSMessageInbound  WSMessageDirection = "INBOUND"
	WSMessageOutbound WSMessageDirection = "OUTBOUND"
)

// LogWebSocketMessage logs a relay frame at debug level. Snapshot blobs are
// stripped before logging; oversized frames are logged by size only.
func LogWebSocketMessage(direction WSMessageDirection, connID, userID, op string, data []byte, config WebSocketLoggingConfig) {
	if !config.Enabled {
		return
	}
	logger := Get()
	if logger.level > LogLevelDebug {
		return
	}

	attrs := []any{
		slog.String("direction", string(direction)),
		slog.String("connection_id", connID),
		slog.String("user_id", userID),
		slog.String("op", op),
		slog.Int("size_bytes", len(data)),
	}

	if config.MaxMessageSize > 0 && int64(len(data)) > config.MaxMessageSize {
		logger.slogger.Debug("WebSocket message", append(attrs, slog.Bool("truncated", true))...)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		logger.slogger.Debug("WebSocket message", append(attrs, slog.String("message_content", SanitizeLogMessage(string(data))))...)
		return
	}
	if _, ok := fields["blob"]; ok {
		fields["blob"] = "[OMITTED]"
	}
	logger.slogger.Debug("WebSocket message", append(attrs, slog.Any("message_data", fields))...)
}
