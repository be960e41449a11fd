// Package logger はサービス全体で使うJSON構造化ログを設定する。
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	// LevelEnvVar はログレベルを指定する環境変数名。
	LevelEnvVar = "LOG_LEVEL"
	// ServiceName は全ログに付与するserviceフィールドの値。
	ServiceName = "contentforge"
)

// ParseLevel はdebug/info/warn/errorをslog.Levelに変換する。
// 空文字や不明な値はinfoとして扱う。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Setup はwに指定レベル以上を出力するJSONロガーを返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", ServiceName))
}

// SetupDefault はLOG_LEVELに従ったJSONロガーをグローバルロガーとして設定する。
// wがnilの場合はos.Stdoutに出力する。
func SetupDefault(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	l := Setup(w, ParseLevel(os.Getenv(LevelEnvVar)))
	slog.SetDefault(l)
	return l
}
