package stores

import (
	"time"

	"github.com/oarkflow/date"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// rowScanner is the slice of the rows API the scan helpers need.
type rowScanner interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqlNullTimeOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanTime converts a raw scanned column to time.Time. SQLite drivers hand
// back time.Time, string or []byte depending on how the value was written.
func scanTime(raw interface{}) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}
