package logger

import (
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
)

// instanceID names this process in aggregated logs: host plus a short random
// suffix so two clients on one machine stay apart.
func instanceID(v string) string {
	if v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}

// buildVersion falls back to the main module version stamped by the toolchain.
func buildVersion(v string) string {
	if v != "" {
		return v
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "dev"
}

func processAttrs(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Int("pid", os.Getpid()),
	}
}
