package env

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

func Must(key string) string {
	res := os.Getenv(key)
	if len(res) == 0 {
		slog.Error("env var must be set", "key", key)
		os.Exit(1)
	}
	return res
}

func Get(key, def string) string {
	if res, ok := os.LookupEnv(key); ok && len(res) > 0 {
		return res
	}
	return def
}

func Int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || len(v) == 0 {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid int env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func Bool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || len(v) == 0 {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid bool env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

// Duration accepts Go duration syntax ("5s", "250ms").
func Duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || len(v) == 0 {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
