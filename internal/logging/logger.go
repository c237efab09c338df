// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Development enables the colored console encoder and debug level.
	Development bool
	// File, when set, adds a rotating JSON log file alongside the console.
	File string
	// MaxSizeMB caps the log file size before rotation. Defaults to 50.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are kept. Defaults to 3.
	MaxBackups int
}

// New builds a zap.Logger writing to the console and, when configured, a
// size-rotated crawl log file.
func New(cfg Config) (*zap.Logger, error) {
	console, err := consoleCore(cfg.Development)
	if err != nil {
		return nil, err
	}
	if cfg.File == "" {
		return zap.New(console, zap.AddCaller()), nil
	}
	return zap.New(zapcore.NewTee(console, fileCore(cfg)), zap.AddCaller()), nil
}

func consoleCore(development bool) (zapcore.Core, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build console logger: %w", err)
	}
	return logger.Core(), nil
}

func fileCore(cfg Config) zapcore.Core {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Compress:   true,
	})

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	level := zapcore.InfoLevel
	if cfg.Development {
		level = zapcore.DebugLevel
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, level)
}
