package events

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SecondsThreshold separates epoch values that are Unix seconds from values that
// are already milliseconds. Anything below it is read as seconds.
const SecondsThreshold int64 = 10_000_000_000

// minSeconds is the smallest seconds value whose millisecond form fits in an int64.
const minSeconds = math.MinInt64 / 1000

// ToMillis canonicalizes an epoch value of unknown unit to Unix milliseconds.
// Every raw timestamp in the system goes through this function. Seconds too
// negative to scale saturate at math.MinInt64.
func ToMillis(v int64) int64 {
	if v < minSeconds {
		return math.MinInt64
	}
	if v < SecondsThreshold {
		return v * 1000
	}
	return v
}

// ParseTimestamp parses a numeric timestamp string and canonicalizes it to
// Unix milliseconds. Fractional values are truncated. NaN, infinities and
// values that do not fit in Unix milliseconds are rejected.
func ParseTimestamp(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("timestamp %q is not numeric", raw)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which itself does not fit.
		if math.IsNaN(f) || math.IsInf(f, 0) || f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
			return 0, fmt.Errorf("timestamp %q is out of range", raw)
		}
		v = int64(f)
	}

	if v < minSeconds {
		return 0, fmt.Errorf("timestamp %q is out of range", raw)
	}
	return ToMillis(v), nil
}
