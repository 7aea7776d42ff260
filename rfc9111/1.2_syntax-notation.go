// Package rfc9111 implements the parts of HTTP Caching (RFC 9111) the response
// cache relies on. Quoted specification text is marked with §.
package rfc9111

import (
	"fmt"
	"strconv"
	"time"
)

// §  1.2.2. Delta Seconds
// §
// §  The delta-seconds rule specifies a non-negative integer, representing time
// §  in seconds.
// §
// §      delta-seconds  = 1*DIGIT
// §
// §  If a cache receives a delta-seconds value greater than the greatest
// §  integer it can represent, or if any of its subsequent calculations overflows,
// §  the cache MUST consider the value to be 2147483648 (2^31) or the greatest
// §  positive integer it can conveniently represent.
func deltaSeconds(secondsStr string) (time.Duration, bool) {
	seconds, err := strconv.ParseUint(secondsStr, 10, 64)
	if err != nil {
		if numErr, ok := err.(*strconv.NumError); ok && numErr.Err == strconv.ErrRange {
			return maxDeltaSeconds, true
		}
		return 0, false
	}
	if seconds > uint64(maxDeltaSeconds/time.Second) {
		return maxDeltaSeconds, true
	}
	return time.Second * time.Duration(seconds), true
}

const maxDeltaSeconds = 2147483648 * time.Second

func toDeltaSeconds(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	return fmt.Sprintf("%.f", duration.Truncate(time.Second).Seconds())
}
