package asnet

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// buildLogger resolves the logger for a Host: a caller-supplied logger wins,
// then a rotating file logger when LogPath is set, otherwise a development
// console logger at info level.
func buildLogger(opts *Options) (*zap.Logger, error) {
	if opts.Logger != nil {
		return opts.Logger, nil
	}
	if opts.LogPath != "" {
		return fileLogger(opts.LogPath, zapcore.InfoLevel), nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

// fileLogger writes rotated logs to path. lumberjack.Logger is already safe
// for concurrent use, so it needs no extra locking.
func fileLogger(path string, level zapcore.Level) *zap.Logger {
	rotated := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 2,
		MaxAge:     15, // days
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(rotated),
		level,
	)
	return zap.New(core)
}
