package matching

import "bourse/internal/clock"

func monotonicTimestamp() (sec, nsec uint32) {
	return clock.Timestamp()
}
