package logger

import (
	"log/slog"
	"time"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultSampleInitial    = 100
	defaultSampleThereafter = 10
)

func newZapHandler(cfg Config) slog.Handler {
	lvl := cfg.level()
	core := zapcore.NewCore(zapEncoder(cfg.AddSource), zapcore.AddSync(cfg.Output), zap.NewAtomicLevelAt(toZapLevel(lvl)))
	core = sampled(core, cfg)

	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return slogzap.Option{Level: lvl, Logger: z}.NewZapHandler()
}

func zapEncoder(withCaller bool) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.MessageKey = "msg"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	if withCaller {
		ec.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return zapcore.NewJSONEncoder(ec)
}

// sampled caps identical entries per second, e.g. during a reconnect storm.
func sampled(core zapcore.Core, cfg Config) zapcore.Core {
	first, then := cfg.SampleInitial, cfg.SampleThereafter
	if first <= 0 {
		first = defaultSampleInitial
	}
	if then <= 0 {
		then = defaultSampleThereafter
	}
	return zapcore.NewSamplerWithOptions(core, time.Second, first, then)
}

func toZapLevel(lvl slog.Level) zapcore.Level {
	switch {
	case lvl < slog.LevelInfo:
		return zapcore.DebugLevel
	case lvl < slog.LevelWarn:
		return zapcore.InfoLevel
	case lvl < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
