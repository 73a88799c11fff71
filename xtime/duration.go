// Package xtime formats durations in units friendlier than time.Duration's.
package xtime

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration formats a duration into a string with friendly units.
// Returns strings like "10d", "-1w2d", "3Y4M5d", etc.
// The round parameter specifies the smallest unit to include.
func FormatDuration(d time.Duration, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	neg := d < 0
	if neg {
		d = -d
	}

	units := []struct {
		suffix string
		size   time.Duration
	}{
		{"Y", 365 * 24 * time.Hour},
		{"M", 30 * 24 * time.Hour},
		{"w", 7 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
		{"s", time.Second},
		{"ms", time.Millisecond},
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for _, u := range units {
		if u.size < round {
			break
		}
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			d -= n * u.size
		}
	}
	if b.Len() == 0 || (neg && b.Len() == 1) {
		return "0s"
	}

	return b.String()
}

// Ago describes how long before now t happened, e.g. "3d4h ago". Longer
// durations are rounded to coarser units. Times less than a second away are
// "just now".
func Ago(t, now time.Time) string {
	d := now.Sub(t)
	if d < time.Second && d > -time.Second {
		return "just now"
	}
	if d < 0 {
		return "in " + FormatDuration(-d, precision(-d))
	}
	return FormatDuration(d, precision(d)) + " ago"
}

// precision returns the rounding unit for d.
func precision(d time.Duration) time.Duration {
	switch {
	case d >= 365*24*time.Hour:
		return 30 * 24 * time.Hour
	case d >= 30*24*time.Hour:
		return 24 * time.Hour
	case d >= 24*time.Hour:
		return time.Hour
	case d >= time.Hour:
		return time.Minute
	default:
		return time.Second
	}
}
