// Package logging builds the service logger: an ectologger front end
// sinking into a zap core.
package logging

import (
	"encoding/json"
	"os"

	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the application logger. Entries flow through ectologger's
// field accumulation and land on a zap core for encoding and output.
func New(level string, pretty bool) (ectologger.Logger, func()) {
	zlog := newZapLogger(level, pretty)
	logger := ectologger.NewEctoLogger(newZapSink(zlog))
	return logger, func() { _ = zlog.Sync() }
}

func newZapLogger(level string, pretty bool) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if pretty {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), parseLevel(level))
	return zap.New(core)
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// newZapSink bridges ectologger messages onto zap. The message is
// flattened through its JSON form so the sink stays agnostic to the
// ectologger struct layout.
func newZapSink(zlog *zap.Logger) func(ectologger.EctoLogMessage) {
	return func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			zlog.Error("failed to encode log message", zap.Error(err))
			return
		}

		var entry map[string]any
		if err := json.Unmarshal(data, &entry); err != nil {
			zlog.Info(string(data))
			return
		}

		message, _ := stringField(entry, "message", "msg")
		level, _ := stringField(entry, "level", "severity")

		fields := make([]zap.Field, 0, len(entry))
		for key, value := range entry {
			switch key {
			case "message", "msg", "level", "severity":
				continue
			}
			if value == nil {
				continue
			}
			fields = append(fields, zap.Any(key, value))
		}

		switch parseLevel(level) {
		case zapcore.DebugLevel:
			zlog.Debug(message, fields...)
		case zapcore.WarnLevel:
			zlog.Warn(message, fields...)
		case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.PanicLevel:
			zlog.Error(message, fields...)
		default:
			zlog.Info(message, fields...)
		}
	}
}

func stringField(entry map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := entry[key].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
