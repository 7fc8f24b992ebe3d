// Package clock provides the process-wide monotonic microsecond clock that
// frame timestamps and windowed event queries share.
package clock

import "time"

var epoch = time.Now()

// Micros returns monotonic microseconds since process start.
func Micros() float64 {
	return float64(time.Since(epoch).Nanoseconds()) / 1e3
}

// FromTime converts t onto the Micros timeline.
func FromTime(t time.Time) float64 {
	return float64(t.Sub(epoch).Nanoseconds()) / 1e3
}
