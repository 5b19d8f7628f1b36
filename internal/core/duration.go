package core

import (
	"fmt"
	"strconv"
	"time"
	"unicode"
)

// ParseDuration parses durations of the form "500ms", "30s", "5m", "2h",
// "30d", or "2w". A bare number is interpreted as seconds. Unlike
// time.ParseDuration it accepts day and week units, which the CLI needs
// for log retention flags such as --older-than 30d.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := ""
	for _, r := range s {
		if !unicode.IsSpace(r) {
			trimmed += string(r)
		}
	}
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}

	split := len(trimmed)
	for i, r := range trimmed {
		if !unicode.IsDigit(r) {
			split = i
			break
		}
	}
	num, unit := trimmed[:split], trimmed[split:]

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	var base time.Duration
	switch unit {
	case "ms":
		base = time.Millisecond
	case "s", "":
		base = time.Second
	case "m":
		base = time.Minute
	case "h":
		base = time.Hour
	case "d":
		base = 24 * time.Hour
	case "w":
		base = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unsupported duration unit in %q (use ms|s|m|h|d|w)", s)
	}

	return time.Duration(n) * base, nil
}
