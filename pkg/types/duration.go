package types

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarshalledDuration is a time.Duration that can be read from JSON and environment variables in a human form that,
// unlike time.ParseDuration, also accepts days (d) and weeks (w), e.g. "2w 3d" or "30d".
type MarshalledDuration time.Duration

var durationComponent = regexp.MustCompile(`(\d+)(ns|ms|w|d|h|m|s)`)

var durationUnits = map[string]time.Duration{
	"w":  7 * 24 * time.Hour,
	"d":  24 * time.Hour,
	"h":  time.Hour,
	"m":  time.Minute,
	"s":  time.Second,
	"ms": time.Millisecond,
	"ns": time.Nanosecond,
}

func (d MarshalledDuration) Duration() time.Duration {
	return time.Duration(d)
}

func (d MarshalledDuration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *MarshalledDuration) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.New("invalid duration: expected a string")
	}

	return d.UnmarshalText([]byte(s))
}

func (d *MarshalledDuration) UnmarshalText(text []byte) error {
	duration, err := ParseDuration(string(text))
	if err != nil {
		return err
	}

	*d = MarshalledDuration(duration)
	return nil
}

// ParseDuration parses a sequence of integer components with units, optionally separated by spaces.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "0" {
		return 0, nil
	}

	if s == "" {
		return 0, errors.New("invalid duration: empty")
	}

	var total time.Duration
	rest := strings.ReplaceAll(s, " ", "")
	for rest != "" {
		loc := durationComponent.FindStringSubmatchIndex(rest)
		if loc == nil || loc[0] != 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}

		value, err := strconv.ParseInt(rest[loc[2]:loc[3]], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}

		total += time.Duration(value) * durationUnits[rest[loc[4]:loc[5]]]
		rest = rest[loc[1]:]
	}

	return total, nil
}
