package telemetry

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/example/aivenapp-conversion-webhook/internal/config"
)

// NewLogger builds the process logger. Output is JSON unless stdout is a
// terminal or LOG_FORMAT forces console. An unparsable LOG_LEVEL is reported
// and replaced with info rather than failing startup.
func NewLogger(cfg config.LoggingConfig) logr.Logger {
	return newLogger(cfg, os.Stdout, isatty.IsTerminal(os.Stdout.Fd()))
}

func newLogger(cfg config.LoggingConfig, out io.Writer, terminal bool) logr.Logger {
	level, levelErr := zapcore.ParseLevel(cfg.Level)
	if levelErr != nil {
		level = zapcore.InfoLevel
	}

	opts := []zap.Opts{zap.WriteTo(out), zap.Level(level)}
	if useConsole(cfg.Format, terminal) {
		opts = append(opts, zap.ConsoleEncoder())
	} else {
		opts = append(opts, zap.JSONEncoder())
	}
	log := zap.New(opts...)

	if levelErr != nil {
		log.Info("Invalid LOG_LEVEL; falling back to info", "value", cfg.Level)
	}
	return log
}

func useConsole(format string, terminal bool) bool {
	switch format {
	case config.LogFormatConsole:
		return true
	case config.LogFormatJSON:
		return false
	default:
		return terminal
	}
}
