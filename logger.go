package imap

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger defines the minimal logging interface used by the IMAP client.
//
// Implementations must be safe for concurrent use.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	WithAttrs(args ...any) Logger
}

// defaultLogger returns the library's default slog-based logger.
func defaultLogger() Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	return SlogLogger(slog.New(handler))
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
func SlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return nil
	}
	return slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s slogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s slogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s slogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

func (s slogAdapter) WithAttrs(args ...any) Logger {
	return slogAdapter{logger: s.logger.With(args...)}
}

// LogrusLogger adapts a logrus logger or entry to the Logger interface.
// Key/value pairs become logrus fields.
func LogrusLogger(logger logrus.FieldLogger) Logger {
	if logger == nil {
		return nil
	}
	return logrusAdapter{logger: logger}
}

type logrusAdapter struct {
	logger logrus.FieldLogger
}

func (l logrusAdapter) with(args []any) logrus.FieldLogger {
	if len(args) == 0 {
		return l.logger
	}
	return l.logger.WithFields(fieldsOf(args))
}

func (l logrusAdapter) Debug(msg string, args ...any) { l.with(args).Debug(msg) }

func (l logrusAdapter) Info(msg string, args ...any) { l.with(args).Info(msg) }

func (l logrusAdapter) Warn(msg string, args ...any) { l.with(args).Warn(msg) }

func (l logrusAdapter) Error(msg string, args ...any) { l.with(args).Error(msg) }

func (l logrusAdapter) WithAttrs(args ...any) Logger {
	return logrusAdapter{logger: l.with(args)}
}

// fieldsOf pairs up slog style key/value arguments
func fieldsOf(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 == len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		fields[key] = args[i+1]
	}
	return fields
}

// logger adds per-connection context to the configured logger.
func (c *Client) logger() Logger {
	args := []any{"conn", c.id.String()}
	if c.session.Mailbox != "" {
		args = append(args, "mailbox", c.session.Mailbox)
	}
	return c.baseLog.WithAttrs(args...)
}

// debugLog emits a debug log entry when verbose logging is enabled.
func (c *Client) debugLog(msg string, args ...any) {
	if !c.cfg.Verbose {
		return
	}
	c.logger().Debug(msg, args...)
}

func (c *Client) warnLog(msg string, args ...any) {
	c.logger().Warn(msg, args...)
}

func (c *Client) errorLog(msg string, args ...any) {
	c.logger().Error(msg, args...)
}
