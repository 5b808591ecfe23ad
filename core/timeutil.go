package core

import (
	"math"
	"time"
)

// MinutesSince converts t to whole minutes after epoch, rounding partial
// minutes up so a converted release date is never earlier than t.
func MinutesSince(epoch, t time.Time) int {
	return int(math.Ceil(t.Sub(epoch).Minutes()))
}

// AtMinute converts a minute offset back to wall-clock time.
func AtMinute(epoch time.Time, minute int) time.Time {
	return epoch.Add(time.Duration(minute) * time.Minute)
}

// AlignUp rounds minutes up to the next multiple of granularity.
func AlignUp(minutes, granularity int) int {
	if granularity <= 1 || minutes <= 0 {
		return minutes
	}
	if r := minutes % granularity; r != 0 {
		return minutes + granularity - r
	}
	return minutes
}
