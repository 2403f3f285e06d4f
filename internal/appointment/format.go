package appointment

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format of appointment dates.
const DateLayout = "2006-01-02"

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns local
// midnight of that calendar day.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(DateLayout, raw, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return StartOfDay(t.In(time.Local)), nil
	}
	return time.Time{}, fmt.Errorf("date %q must be formatted as YYYY-MM-DD", raw)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// digitsOnly drops every non-digit rune.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeReference upper-cases the prefix portion so "apt-1234" finds
// "APT-1234".
func NormalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}
