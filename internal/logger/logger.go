package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]

	// mu 只保护输出配置的重建，读路径走 current。
	mu     sync.Mutex
	out    io.Writer = os.Stdout
	asJSON bool
)

func init() {
	rebuild()
}

func rebuild() {
	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if asJSON {
		h = slog.NewJSONHandler(out, opts)
	}
	current.Store(slog.New(h))
}

// SetOutput 切换输出，nil 表示 stdout。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

// SetFormat selects "json" or "text" (default).
func SetFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	asJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	rebuild()
}

func SetLevel(name string) { level.Set(ParseLevel(name)) }

// ParseLevel 未识别的级别回退为 info。
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a structured logger carrying the given attributes, e.g. a run id.
func With(args ...any) *slog.Logger { return current.Load().With(args...) }

func Debugf(format string, v ...any) { current.Load().Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { current.Load().Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { current.Load().Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { current.Load().Error(fmt.Sprintf(format, v...)) }
