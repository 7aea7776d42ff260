package cacheinvalidate

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const HeaderName = "Cache-Invalidate"

// Invalidation represents a single `Cache-Invalidate` entry.
//
// Syntax: `Cache-Invalidate: tag1, tag2; delay=N`
type Invalidation struct {
	Tags []string
	// Invalidation delay, i.e. delay invalidation by this duration.
	Delay time.Duration
}

var delayRegexp = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetInvalidations gets the invalidations specified by the response header.
func GetInvalidations(header http.Header) []Invalidation {
	return Parse(header.Values(HeaderName))
}

// Parse parses `Cache-Invalidate` field values. Entries without tags are skipped.
func Parse(values []string) []Invalidation {
	invalidations := make([]Invalidation, 0)
	for _, value := range values {
		tagList, params, _ := strings.Cut(value, ";")
		inv := Invalidation{Delay: getDelay(params)}
		for _, tag := range strings.Split(tagList, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				inv.Tags = append(inv.Tags, tag)
			}
		}
		if len(inv.Tags) > 0 {
			invalidations = append(invalidations, inv)
		}
	}
	return invalidations
}

// String returns the field value for the invalidation.
func (i Invalidation) String() string {
	value := strings.Join(i.Tags, ", ")
	if i.Delay > 0 {
		value += "; delay=" + strconv.Itoa(int(i.Delay/time.Second))
	}
	return value
}

// getDelay returns the delay to wait before invalidating the tags.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// Directives are separated by a semicolon.
// If no delay directive is found, it returns 0.
func getDelay(params string) time.Duration {
	if matches := delayRegexp.FindStringSubmatch(params); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
