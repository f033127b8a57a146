// Package clock provides the monotonic packet timestamp shared by every
// part of the server that sends wire packets. The original implementation
// stamps packets with CLOCK_MONOTONIC, not wall-clock time; Go's
// time.Now carries a monotonic reading alongside the wall clock, and
// time.Since between two such readings yields a monotonic duration
// unaffected by wall-clock adjustments.
package clock

import "time"

var start = time.Now()

// Timestamp returns the (seconds, nanoseconds) pair to stamp a packet
// with, measured as a monotonic offset from process start.
func Timestamp() (sec, nsec uint32) {
	d := time.Since(start)
	sec = uint32(d / time.Second)
	nsec = uint32(d % time.Second)
	return sec, nsec
}
