// Package config holds the gateway manifest loader and small helpers for
// reading configuration out of the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
)

// EnvOr returns the value of the named environment variable, or fallback
// when it is unset or empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// EnvOrInt is EnvOr for integers. A set-but-unparseable value logs a
// warning and yields the fallback rather than failing startup.
func EnvOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return n
}

// EnvOrBool is EnvOr for booleans, accepting the strconv.ParseBool forms.
func EnvOrBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean env var, using fallback", "key", key, "value", v, "fallback", fallback)
		return fallback
	}
	return b
}
