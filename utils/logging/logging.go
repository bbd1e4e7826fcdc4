package logging

import (
	"io"
	"log/slog"
	"strings"
)

type LogCode string

const (
	// SYSTEM EVENTS
	SYSTEM LogCode = "SYSTEM"

	// ASSET OPERATIONS
	ASSET_UPLOAD LogCode = "ASSET_UPLOAD"
	ASSET_UPDATE LogCode = "ASSET_UPDATE"
	ASSET_STATUS LogCode = "ASSET_STATUS"
	ASSET_LINK   LogCode = "ASSET_LINK"
	ASSET_DELETE LogCode = "ASSET_DELETE"
	ASSET_IMPORT LogCode = "ASSET_IMPORT"

	// REQUEST OPERATIONS
	REQUEST_CREATE  LogCode = "REQUEST_CREATE"
	REQUEST_RESOLVE LogCode = "REQUEST_RESOLVE"

	// ALERT DELIVERY
	ALERT_DELIVERY LogCode = "ALERT_DELIVERY"

	// USER OPERATIONS
	USER_ROLES LogCode = "USER_ROLES"
)

func Code(code LogCode) slog.Attr {
	return slog.String("code", string(code))
}

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text logger, or a json logger with VictoriaLogs field
// names when jsonOutput is set.
func NewLogger(w io.Writer, level string, jsonOutput bool) *slog.Logger {
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       ParseLevel(level),
			ReplaceAttr: convertKeysToVictoriaLogs,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}
