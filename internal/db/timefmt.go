package db

import "time"

// ISOLayout is the millisecond UTC layout stored in every *_at column.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// nowFunc is swapped in tests to move the clock.
var nowFunc = time.Now

func now() time.Time { return nowFunc().UTC() }

func isoNow() string { return now().Format(ISOLayout) }

func isoAt(t time.Time) string { return t.UTC().Format(ISOLayout) }

func today() string { return now().Format("2006-01-02") }

// parseISO reports the zero time for empty or malformed input.
func parseISO(s string) time.Time {
	t, err := time.Parse(ISOLayout, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2.UTC()
		}
		return time.Time{}
	}
	return t
}
