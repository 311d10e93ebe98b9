package logging

import (
	"io"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var levels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func Setup(level string) {
	log.SetDefault(New(os.Stderr, level))
}

// New builds a tint logger; unknown levels fall back to info.
func New(w io.Writer, level string) *log.Logger {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		lvl = log.LevelInfo
	}

	return log.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.Kitchen,
	}))
}
