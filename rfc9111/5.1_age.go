package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// §  5.1.  Age
// §
// §     The "Age" response header field conveys the sender's estimate of the
// §     time since the response was generated or successfully validated at
// §     the origin server.
// §
// §       Age = delta-seconds
// §
// §     Although it is defined as a singleton header field, a cache
// §     encountering a message with a list-based Age field value SHOULD use
// §     the first member of the field value, discarding subsequent ones.
// §
// §     If the field value (after discarding additional members, as per
// §     above) is invalid (e.g., it contains something other than a non-
// §     negative integer), a cache SHOULD ignore the field.
func GetAge(header http.Header) (time.Duration, bool) {
	value := header.Get("Age")
	if i := strings.IndexAny(value, ",;"); i != -1 {
		value = value[:i]
	}
	if value = strings.TrimSpace(value); value != "" {
		return deltaSeconds(value)
	}
	return 0, false
}

// SetAge sets the Age header of a response served from the cache.
// The age is the resident time plus any age the stored response already had.
//
// §  4. Constructing Responses from Caches
// §
// §  When a stored response is used to satisfy a request without validation, a
// §  cache MUST generate an Age header field (Section 5.1), replacing any present
// §  in the response with a value equal to the stored response's current_age
func SetAge(header http.Header, storedAt, now time.Time) {
	initial, _ := GetAge(header)
	header.Set("Age", toDeltaSeconds(initial+now.Sub(storedAt)))
}
