package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration option; empty yields 0. path names
// the option in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative", path)
	}
	return d, nil
}

// DurationOr is ParseDurationField with a default for empty or zero values.
// Invalid values also yield def; Validate reports them.
func DurationOr(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField(path, raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
