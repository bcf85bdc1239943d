package location

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidExpiry is returned by ParseExpiry for unrecognized input.
var ErrInvalidExpiry = errors.New("invalid expiry: use forms like 30s, 5min, 1h, 2d, 1w")

var expiryPattern = regexp.MustCompile(`(?i)^(\d+)\s*(s|sec|second|seconds|m|min|minute|minutes|h|hr|hour|hours|d|day|days|w|week|weeks)$`)

// ParseExpiry parses a human expiry such as "5min" or "2 days".
func ParseExpiry(input string) (time.Duration, error) {
	m := expiryPattern.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, input)
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidExpiry, input)
	}

	var unit time.Duration
	switch strings.ToLower(m[2])[0] {
	case 's':
		unit = time.Second
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		unit = time.Minute
	}
	if value > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q is out of range", ErrInvalidExpiry, input)
	}
	return time.Duration(value) * unit, nil
}
