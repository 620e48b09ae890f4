package game

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeRule is the parsed form of the "<minutes>/<incrementSeconds>" control.
// A negative increment on the wire means an untimed game; that is surfaced
// as the explicit Untimed flag and never re-inspected as a sentinel.
type TimeRule struct {
	LimitMs     int64
	IncrementMs int64
	Untimed     bool
}

// ParseTimeRule parses a time rule string. Minutes may be fractional
// ("0.5/3" is a 30-second game with a 3-second increment).
func ParseTimeRule(s string) (TimeRule, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return TimeRule{}, fmt.Errorf("%w: time rule %q", ErrSchema, s)
	}

	minutes, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || minutes < 0 {
		return TimeRule{}, fmt.Errorf("%w: time limit %q", ErrSchema, parts[0])
	}

	incSeconds, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return TimeRule{}, fmt.Errorf("%w: increment %q", ErrSchema, parts[1])
	}

	rule := TimeRule{
		LimitMs:     int64(minutes * 60_000),
		IncrementMs: incSeconds * 1000,
	}

	if incSeconds < 0 {
		rule.Untimed = true
		rule.IncrementMs = 0
	}

	return rule, nil
}
