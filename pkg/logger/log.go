package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance
var Logger *slog.Logger
var LogLevel *slog.LevelVar

// Options 日志输出配置，File 为空时只输出到 stderr
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// JSON 为 true 时使用 JSON 格式
	JSON bool
}

func init() {
	LogLevel = &slog.LevelVar{}
	Logger = slog.New(slog.NewTextHandler(os.Stderr, handlerOptions()))
	LogLevel.Set(slog.LevelError) // Set default log level to Error
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: LogLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "time" {
				return slog.Attr{Key: "timestamp", Value: slog.TimeValue(a.Value.Time())}
			}
			return a
		},
	}
}

// Init 按配置重建全局 Logger，返回的 Closer 用于关闭日志文件
func Init(opts Options) io.Closer {
	if opts.Level != "" {
		SetLogLevel(opts.Level)
	}

	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		w = rotator
		closer = rotator
	}

	var h slog.Handler
	if opts.JSON {
		h = slog.NewJSONHandler(w, handlerOptions())
	} else {
		h = slog.NewTextHandler(w, handlerOptions())
	}
	Logger = slog.New(h)
	slog.SetDefault(Logger)
	return closer
}

func SetLogLevel(level string) {
	level = strings.ToLower(level)
	switch level {
	case "debug":
		LogLevel.Set(slog.LevelDebug)
	case "info":
		LogLevel.Set(slog.LevelInfo)
	case "warn":
		LogLevel.Set(slog.LevelWarn)
	case "error":
		LogLevel.Set(slog.LevelError)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
