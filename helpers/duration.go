package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string. In addition to the units
// understood by time.ParseDuration it accepts a "d" suffix for days,
// which TOML configs use for retention-style settings (e.g. "14d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration '%s': %w", s, err)
	}
	return d, nil
}

// ParseSize parses a human-readable size such as "512kb", "1gb" or a
// plain byte count into a number of bytes.
func ParseSize(s string) (int64, error) {
	str := strings.ToLower(strings.TrimSpace(s))
	if str == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(str, "tb"):
		multiplier = 1 << 40
		str = strings.TrimSuffix(str, "tb")
	case strings.HasSuffix(str, "gb"):
		multiplier = 1 << 30
		str = strings.TrimSuffix(str, "gb")
	case strings.HasSuffix(str, "mb"):
		multiplier = 1 << 20
		str = strings.TrimSuffix(str, "mb")
	case strings.HasSuffix(str, "kb"):
		multiplier = 1 << 10
		str = strings.TrimSuffix(str, "kb")
	case strings.HasSuffix(str, "b"):
		str = strings.TrimSuffix(str, "b")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size '%s': %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size must not be negative: %s", s)
	}
	return value * multiplier, nil
}
