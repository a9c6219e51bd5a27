package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp wraps time.Time so wire values are always RFC 3339 UTC while
// still accepting epoch-millisecond integers from older agent builds.
type Timestamp struct {
	time.Time
}

// Now returns the current instant in UTC.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// At wraps t, normalized to UTC.
func At(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// UnmarshalJSON implements json.Unmarshaler. Accepts ISO-8601 strings and
// epoch-millisecond integers.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}

	if !strings.HasPrefix(s, `"`) {
		millis, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		t.Time = time.UnixMilli(millis).UTC()
		return nil
	}

	raw, err := strconv.Unquote(s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		parsed, parseErr := time.Parse(layout, raw)
		if parseErr == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	return fmt.Errorf("unrecognized timestamp format %q", raw)
}
