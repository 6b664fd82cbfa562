// Package env loads typed configuration values from environment variables.
// Missing or malformed values never abort the process: the Or variants fall
// back to a default, and Load reports ErrNotSet for the caller to decide.
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNotSet is returned when a required environment variable is missing or empty.
var ErrNotSet = fmt.Errorf("env: variable not set")

// Load reads an environment variable, trimmed of surrounding whitespace.
func Load(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %q", ErrNotSet, name)
	}

	return strings.TrimSpace(v), nil
}

// LoadOr reads an environment variable, returning the default when unset.
func LoadOr(name, defaultValue string) string {
	v, err := Load(name)
	if err != nil {
		return defaultValue
	}

	return v
}

// LoadBoolOr reads an environment variable as a bool, returning the default
// when unset or unparseable.
func LoadBoolOr(name string, defaultValue bool) bool {
	s, err := Load(name)
	if err != nil {
		return defaultValue
	}

	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultValue
	}

	return b
}

// LoadDurationOr reads an environment variable as a time.Duration, returning
// the default when unset or unparseable. Plain integers are read as hours,
// matching how the deployment configuration expresses TTLs.
func LoadDurationOr(name string, defaultValue time.Duration) time.Duration {
	s, err := Load(name)
	if err != nil {
		return defaultValue
	}

	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Hour
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}

	return d
}

// IsSet reports whether an environment variable is set and non-empty.
func IsSet(name string) bool {
	v, ok := os.LookupEnv(name)
	return ok && strings.TrimSpace(v) != ""
}
