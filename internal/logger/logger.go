// Package logger provides centralized structured logging using arbor.
// The logger carries no per-session binding: callers attach context
// fields to individual log lines via the usual .Str(...).Msg(...) chain.
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"

	"github.com/labtty/runtime/internal/config"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance. If Setup() hasn't been
// called yet, returns a fallback console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(writerConfig(nil, models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger - Setup() should be called during startup")
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance.
func InitLogger(l arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = l
}

// Setup configures and installs the global logger for a session,
// writing to sessionDir/logs/session.log as well as the console
// according to cfg.Logging.Output.
func Setup(cfg *config.Config, sessionDir string) arbor.ILogger {
	l := arbor.NewLogger()

	logsDir := filepath.Join(sessionDir, "logs")

	hasFile := cfg.Logging.Output == "file" || cfg.Logging.Output == "both"
	hasConsole := cfg.Logging.Output == "console" || cfg.Logging.Output == "stdout" || cfg.Logging.Output == "both"

	if hasFile {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			tmp := l.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
			tmp.Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
		} else {
			logFile := filepath.Join(logsDir, "session.log")
			l = l.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
		}
	}

	if hasConsole {
		l = l.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	if !hasFile && !hasConsole {
		l = l.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
		l.Warn().Str("configured_output", cfg.Logging.Output).Msg("no visible log outputs configured - falling back to console")
	}

	l = l.WithMemoryWriter(writerConfig(cfg, models.LogWriterTypeMemory, ""))
	l = l.WithLevelFromString(cfg.Logging.Level)

	InitLogger(l)
	return l
}

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	timeFormat := "15:04:05.000"

	outputType := models.OutputFormatJSON
	if cfg != nil && cfg.Logging.Format == "text" {
		outputType = models.OutputFormatLogfmt
	}

	var maxSize int64 = 100 * 1024 * 1024
	if cfg != nil && cfg.Logging.MaxSizeMB > 0 {
		maxSize = int64(cfg.Logging.MaxSizeMB) * 1024 * 1024
	}

	maxBackups := 5
	if cfg != nil && cfg.Logging.MaxBackups > 0 {
		maxBackups = cfg.Logging.MaxBackups
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		OutputType:       outputType,
		DisableTimestamp: false,
		MaxSize:          maxSize,
		MaxBackups:       maxBackups,
	}
}

// Stop flushes any remaining context logs before application shutdown.
// Safe to call multiple times.
func Stop() {
	arborcommon.Stop()
}
