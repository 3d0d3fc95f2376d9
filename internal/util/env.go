package util

import (
	"log/slog"
	"os"
	"strings"
)

// ParseBoolEnv reads a boolean from the environment, falling back to def
// when the variable is unset or unparseable. Recognized spellings are
// true/1/yes/on and false/0/no/off, case-insensitive.
func ParseBoolEnv(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		slog.Warn("unrecognized boolean env value", "key", key, "value", val, "default", def)
		return def
	}
}
