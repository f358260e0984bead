package utils

import "time"

// SwarmdVersion is set from source control at build time.
var SwarmdVersion string = "unknown"

// MakeTimestamp converts a time to milliseconds since the unix epoch.
func MakeTimestamp(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}

// FromTimestamp is the inverse of MakeTimestamp.
func FromTimestamp(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}

// If is the ternary operator (eager evaluation)
func If[T any](cond bool, t, f T) T {
	if cond {
		return t
	}
	return f
}
