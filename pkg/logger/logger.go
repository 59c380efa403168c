// Package logger configures the process-wide slog logger.
package logger

import (
	"log/slog"
	"os"
)

var def *slog.Logger

// Init builds the logger for cfg, installs it as slog's default and returns it.
func Init(cfg Config) *slog.Logger {
	if cfg.Env == "" {
		cfg.Env = DetectEnv()
	}
	if cfg.Service == "" {
		cfg.Service = "pad"
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.InstanceID = instanceID(cfg.InstanceID)
	cfg.Version = buildVersion(cfg.Version)

	if cfg.Backend == "" {
		if cfg.Env == EnvDev {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = ctxHandler{h.WithAttrs(processAttrs(cfg))}

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
	return base
}

func L() *slog.Logger {
	if def != nil {
		return def
	}
	return Init(Config{})
}

// For returns the default logger tagged with a component name.
func For(component string) *slog.Logger {
	return L().With("component", component)
}
