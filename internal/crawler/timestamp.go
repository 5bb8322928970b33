package crawler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxFractionDigits = 6

// ParseTimestamp converts a fractional-second string such as
// "1700000000.000100" into a UTC instant without going through a float, so
// every fractional digit survives. The platform and the relational stores
// resolve microseconds, so finer fractions are rejected rather than letting
// two distinct keys collide once stored.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || sec < 0 {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", ts)
	}
	if len(fracPart) > maxFractionDigits {
		return time.Time{}, fmt.Errorf("timestamp %q exceeds microsecond precision", ts)
	}
	var nsec int64
	if fracPart != "" {
		for _, r := range fracPart {
			if r < '0' || r > '9' {
				return time.Time{}, fmt.Errorf("invalid timestamp %q", ts)
			}
		}
		nsec, err = strconv.ParseInt(fracPart+strings.Repeat("0", 9-len(fracPart)), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(sec, nsec).UTC(), nil
}

// FormatTimestamp renders t with microsecond precision, the platform's
// native resolution.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/int(time.Microsecond))
}
