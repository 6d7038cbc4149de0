// Package logger はアプリケーション共通のロガーを提供します
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log *zap.Logger

func init() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:      "ts",
		LevelKey:     "level",
		NameKey:      "logger",
		CallerKey:    "caller",
		MessageKey:   "msg",
		LineEnding:   zapcore.DefaultLineEnding,
		EncodeTime:   zapcore.ISO8601TimeEncoder,
		EncodeLevel:  zapcore.CapitalLevelEncoder,
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(os.Stderr),
		level(),
	)

	Log = zap.New(core, zap.AddCaller())
}

// level は環境変数 KAIWA_LOG_LEVEL からログレベルを決定します
// 未設定または不正な値の場合はInfoになります
func level() zapcore.Level {
	switch os.Getenv("KAIWA_LOG_LEVEL") {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ショートカットメソッド
func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }

func Infof(format string, args ...interface{}) {
	Log.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	Log.Warn(fmt.Sprintf(format, args...))
}

// Sync はバッファされたログをフラッシュします
// プロセス終了前に呼んでください
func Sync() {
	_ = Log.Sync()
}
