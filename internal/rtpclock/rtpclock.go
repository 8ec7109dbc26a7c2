// Package rtpclock implements wrap-safe arithmetic on 32-bit RTP
// timestamps, the system's primary time coordinate (spec.md §3: "The RTP
// timestamp is the system's primary time coordinate").
package rtpclock

// Diff returns b - a interpreted as a signed difference across 32-bit
// wraparound: any apparent negative delta whose magnitude is >= 2^31 is
// reinterpreted as forward motion past wraparound.
//
// Example: Diff(2^32-100, 50) == 150 (forward), not -4294967246.
func Diff(a, b uint32) int64 {
	return int64(int32(b - a))
}

// Add returns rtp advanced by n samples, wrapping at 2^32 as RTP
// timestamps do.
func Add(rtp uint32, n int64) uint32 {
	return uint32(int64(rtp) + n)
}

// Before reports whether a precedes b on the wrap-safe timeline.
func Before(a, b uint32) bool {
	return Diff(a, b) > 0
}
