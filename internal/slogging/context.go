package slogging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// GinContextLike defines a minimal interface for contexts that can be used with the logger
type GinContextLike interface {
	GetHeader(key string) string
	ClientIP() string
}

// WithContext returns a logger carrying the request id and client ip. A
// missing X-Request-ID is generated and echoed back when possible.
func (l *Logger) WithContext(c GinContextLike) *ContextLogger {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
		if setter, ok := c.(interface{ Header(string, string) }); ok {
			setter.Header("X-Request-ID", requestID)
		}
	}

	return l.contextual(
		slog.String("request_id", requestID),
		slog.String("client_ip", c.ClientIP()),
	)
}

// ForConnection returns a logger that tags every record with a relay
// connection and the user behind it
func (l *Logger) ForConnection(connID, userID string) *ContextLogger {
	return l.contextual(
		slog.String("connection_id", connID),
		slog.String("user_id", userID),
	)
}

func (l *Logger) contextual(attrs ...slog.Attr) *ContextLogger {
	return &ContextLogger{
		logger:  l,
		slogger: l.slogger.With(attrsToAny(attrs)...),
		ctx:     context.Background(),
	}
}

// With returns a copy carrying additional attributes, e.g. the room joined
func (cl *ContextLogger) With(attrs ...slog.Attr) *ContextLogger {
	return &ContextLogger{
		logger:  cl.logger,
		slogger: cl.slogger.With(attrsToAny(attrs)...),
		ctx:     cl.ctx,
	}
}

// ContextLogger adds request context to log messages
type ContextLogger struct {
	logger  *Logger
	slogger *slog.Logger
	ctx     context.Context
}

func (cl *ContextLogger) logf(min LogLevel, level slog.Level, format string, args ...any) {
	if cl.logger.level > min {
		return
	}
	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}
	cl.slogger.Log(cl.ctx, level, SanitizeLogMessage(message))
}

// Debug logs a debug-level message with context
func (cl *ContextLogger) Debug(format string, args ...any) {
	cl.logf(LogLevelDebug, slog.LevelDebug, format, args...)
}

// Info logs an info-level message with context
func (cl *ContextLogger) Info(format string, args ...any) {
	cl.logf(LogLevelInfo, slog.LevelInfo, format, args...)
}

// Warn logs a warning-level message with context
func (cl *ContextLogger) Warn(format string, args ...any) {
	cl.logf(LogLevelWarn, slog.LevelWarn, format, args...)
}

// Error logs an error-level message with context
func (cl *ContextLogger) Error(format string, args ...any) {
	cl.logf(LogLevelError, slog.LevelError, format, args...)
}

// DebugCtx logs a debug message with additional structured attributes
func (cl *ContextLogger) DebugCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelDebug, msg, attrs...)
}

// InfoCtx logs an info message with additional structured attributes
func (cl *ContextLogger) InfoCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelInfo, msg, attrs...)
}

// WarnCtx logs a warning message with additional structured attributes
func (cl *ContextLogger) WarnCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelWarn, msg, attrs...)
}

// ErrorCtx logs an error message with additional structured attributes
func (cl *ContextLogger) ErrorCtx(msg string, attrs ...slog.Attr) {
	cl.slogger.LogAttrs(cl.ctx, slog.LevelError, msg, attrs...)
}
