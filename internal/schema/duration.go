package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration wraps time.Duration with a YAML representation that accepts the
// compact suffixes schema authors actually write ("30d", "6mo", "1y") in
// addition to anything time.ParseDuration understands. Zero means "never
// decays / never expires" (4.3.1).
type Duration struct {
	time.Duration
}

const (
	day   = 24 * time.Hour
	month = 30 * day
	year  = 365 * day
)

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "0s", nil
	}
	return d.Duration.String(), nil
}

// ParseDuration accepts stdlib duration syntax plus day/month/year suffixes
// ("30d", "6mo", "1y"), since half-lives are usually expressed in days.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "never" || s == "0" {
		return Duration{}, nil
	}
	if strings.HasSuffix(s, "mo") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "mo"), 64)
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return Duration{time.Duration(n * float64(month))}, nil
	}
	if strings.HasSuffix(s, "d") && !strings.HasSuffix(s, "ms") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return Duration{time.Duration(n * float64(day))}, nil
	}
	if strings.HasSuffix(s, "y") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "y"), 64)
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return Duration{time.Duration(n * float64(year))}, nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration{dur}, nil
}
