// Package rfc9211 builds values of the Cache-Status response header (RFC 9211).
package rfc9211

import (
	"fmt"
	"strings"
	"time"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches'
// §     handling of the request corresponding to the response it occurs
// §     within.
// §
// §     Its value is a List:
// §
// §     Cache-Status   = sf-list
// §
// §     Each member of the list represents a cache that has handled the
// §     request.  The first member of the list represents the cache closest
// §     to the origin server, and the last member of the list represents the
// §     cache closest to the user.

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"
	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"
	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"
	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdVaryMiss FwdReason = "vary-miss"
	// The cache was able to select a fresh response for the
	// request, but the request's semantics (e.g., Cache-Control request
	// directives) did not allow its use.
	FwdRequest FwdReason = "request"
)

// CacheStatus is one member of the Cache-Status list.
type CacheStatus struct {
	cache     string
	hit       bool
	fwdReason FwdReason
	fwdStatus int
	ttl       time.Duration
	hasTTL    bool
	stored    bool
	detail    string
}

func NewCacheStatus(cache string) *CacheStatus {
	return &CacheStatus{cache: cache}
}

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin and
// §     why.
func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// §  2.3.  The fwd-status Parameter
func (cs *CacheStatus) ForwardStatus(status int) {
	cs.fwdStatus = status
}

// §  2.4.  The ttl Parameter
// §
// §     "ttl" indicates the response's remaining freshness lifetime as
// §     calculated by the cache, as an integer number of seconds.
func (cs *CacheStatus) TTL(ttl time.Duration) {
	cs.ttl = ttl
	cs.hasTTL = true
}

// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response; a true
// §     value indicates that it did.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// §  2.8.  The detail Parameter
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

// IsHit reports whether the response was served from the cache.
func (cs *CacheStatus) IsHit() bool {
	return cs.hit
}

func (cs *CacheStatus) String() string {
	parts := []string{cs.cache}
	if cs.hit {
		parts = append(parts, "hit")
	} else if cs.fwdReason != "" {
		parts = append(parts, "fwd="+string(cs.fwdReason))
		if cs.fwdStatus != 0 {
			parts = append(parts, fmt.Sprintf("fwd-status=%d", cs.fwdStatus))
		}
	}
	if cs.hasTTL {
		parts = append(parts, fmt.Sprintf("ttl=%d", int64(cs.ttl/time.Second)))
	}
	if cs.stored {
		parts = append(parts, "stored")
	}
	if cs.detail != "" {
		parts = append(parts, "detail="+cs.detail)
	}
	return strings.Join(parts, "; ")
}
