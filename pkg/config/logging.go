package config

import (
	"fmt"
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string        `yaml:"logFormat" env:"LOG_FORMAT" env-default:"console"`
	Level  string        `yaml:"logLevel" env:"LOG_LEVEL" env-default:"info"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig enables an additional rotating log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path" env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"LOG_FILE_MAX_SIZE_MB" env-default:"10"`
	MaxBackups int    `yaml:"maxBackups" env:"LOG_FILE_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"LOG_FILE_MAX_AGE_DAYS" env-default:"28"`
	Compress   bool   `yaml:"compress" env:"LOG_FILE_COMPRESS" env-default:"true"`
}

var levels = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// ValidateLogging normalizes and validates logging configuration
func ValidateLogging(cfg *LoggingConfig) error {
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Format != "json" && cfg.Format != "console" && cfg.Format != "logfmt" {
		return fmt.Errorf("logFormat must be 'json', 'console', or 'logfmt', got '%s'", cfg.Format)
	}

	cfg.Level = strings.ToLower(cfg.Level)
	if _, ok := levels[cfg.Level]; !ok {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error, got '%s'", cfg.Level)
	}

	if cfg.File.Path != "" {
		if cfg.File.MaxSizeMB < 1 {
			return fmt.Errorf("logging file maxSizeMB must be at least 1, got %d", cfg.File.MaxSizeMB)
		}
		if cfg.File.MaxBackups < 0 || cfg.File.MaxAgeDays < 0 {
			return fmt.Errorf("logging file maxBackups and maxAgeDays must be >= 0")
		}
	}

	return nil
}

// NewLogger creates a zap logger writing to stdout and, when configured, to a
// rotating file in the same format.
func NewLogger(cfg *LoggingConfig) (*zap.Logger, error) {
	level, ok := levels[strings.ToLower(cfg.Level)]
	if !ok {
		level = zapcore.InfoLevel
	}

	encoder := newEncoder(cfg.Format)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.File.Path != "" {
		cores = append(cores, zapcore.NewCore(encoder.Clone(), zapcore.AddSync(newRotatingFile(cfg.File)), level))
	}

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Format == "console" {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func newEncoder(format string) zapcore.Encoder {
	switch format {
	case "logfmt":
		return zaplogfmt.NewEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	case "json":
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
}

func newRotatingFile(cfg LogFileConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
