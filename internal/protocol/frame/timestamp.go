package frame

import "time"

// TimestampFromTime packs t as 32-bit seconds and a 32-bit binary fraction.
func TimestampFromTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	sec := uint64(t.Unix()) & 0xFFFFFFFF
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return sec<<32 | frac
}

// TimeFromTimestamp reverses TimestampFromTime; zero maps to the zero time.
func TimeFromTimestamp(ts uint64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec := int64(ts >> 32)
	nsec := int64((ts & 0xFFFFFFFF) * uint64(time.Second) >> 32)
	return time.Unix(sec, nsec)
}
