package rfc9111

import (
	"net/http"
	"strings"
	"time"
)

// CacheControl implements parsing of the "Cache-Control" header (/field).
//
// §  5.2. Cache-Control
// §
// §  The "Cache-Control" header field is used to list directives for caches along
// §  the request/response chain. Cache directives are unidirectional, in that the
// §  presence of a directive in a request does not imply that the same directive is
// §  present or copied in the response.
// §
// §    Cache-Control   = #cache-directive
// §
// §    cache-directive = token [ "=" ( token / quoted-string ) ]
type CacheControl struct {
	directives map[string]string
}

// Get returns the value (/argument) of the specified directive,
// along with a boolean indicating whether this directive is present
func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[directive]
	return val, ok
}

// HasDirective returns whether the specified directive is present
func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// ParseCacheControl takes Cache-Control headers as a slice of strings
// and returns an instance of `CacheControl`.
func ParseCacheControl(headers []string) CacheControl {
	m := make(map[string]string)
	// note setting map values like this means last defined directive wins
	for _, directive := range GetListHeader(http.Header{"Cache-Control": headers}, "Cache-Control") {
		if directive == "" {
			continue
		}
		parts := strings.SplitN(directive, "=", 2)
		name := getCacheControlDirectiveName(parts[0])
		var arg string
		if len(parts) > 1 {
			arg = getCacheControlDirectiveArgument(parts[1])
		}
		m[name] = arg
	}
	return CacheControl{m}
}

// ParseHeader parses the Cache-Control fields of a header.
func ParseHeader(header http.Header) CacheControl {
	return ParseCacheControl(header.Values("Cache-Control"))
}

// getCacheControlDirectiveName returns a normalized name for the given directive.
func getCacheControlDirectiveName(token string) string {
	// §  [...] to be compared case-insensitively [...]
	return strings.ToLower(strings.TrimSpace(token))
}

// getCacheControlDirectiveArgument returns the directive argument in token form,
// i.e. it converts the argument from "quoted-string" to "token" form if needed.
func getCacheControlDirectiveArgument(arg string) string {
	// §  [...] argument that can use both token and quoted-string syntax. [...]
	return strings.Trim(strings.TrimSpace(arg), "\"")
}

// §  5.2.1.4. no-cache
// §
// §  The no-cache request directive indicates that the client prefers a stored
// §  response not be used to satisfy the request without successful validation on
// §  the origin server.
func (c CacheControl) NoCache() bool {
	return c.HasDirective("no-cache")
}

// §  5.2.1.5. no-store
// §
// §  The no-store request directive indicates that a cache MUST NOT store any part
// §  of either this request or any response to it.
//
// §  5.2.2.5. no-store
// §
// §  The no-store response directive indicates that a cache MUST NOT store any
// §  part of either the immediate request or the response.
func (c CacheControl) NoStore() bool {
	return c.HasDirective("no-store")
}

// §  5.2.2.7. private
// §
// §  The unqualified private response directive indicates that a shared cache MUST
// §  NOT store the response (i.e., the response is intended for a single user).
func (c CacheControl) Private() bool {
	return c.HasDirective("private")
}

// MaxAge returns "max-age" as a duration, along with a boolean indicating
// whether the "max-age" directive was present.
//
// §  5.2.2.1. max-age
// §
// §  The max-age response directive indicates that the response is to be considered
// §  stale after its age is greater than the specified number of seconds.
func (c CacheControl) MaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("max-age")
}

// §  5.2.2.10. s-maxage
// §
// §  The s-maxage response directive indicates that, for a shared cache, the
// §  maximum age specified by this directive overrides the maximum age specified
// §  by either the max-age directive or the Expires header field.
func (c CacheControl) SMaxAge() (time.Duration, bool) {
	return c.getDeltaSeconds("s-maxage")
}

// getDeltaSeconds returns the "delta-seconds" as `time.Duration`,
// as well as a boolean indicating whether the directive was set.
//
// Examples:
// directive    -> 0,  false
// directive=0  -> 0,  true
// directive=60 -> 60, true
func (c CacheControl) getDeltaSeconds(directive string) (time.Duration, bool) {
	if secondsStr, ok := c.Get(directive); ok && secondsStr != "" {
		return deltaSeconds(secondsStr)
	}
	return 0, false
}

// FreshnessLifetime returns the lifetime a shared cache may use the response for,
// and whether the response defined one explicitly.
// Responses that must not be stored have a zero lifetime.
//
// §  4.2.1. Calculating Freshness Lifetime
// §
// §  *  If the cache is shared and the s-maxage response directive (Section
// §     5.2.2.10) is present, use its value, or
// §
// §  *  If the max-age response directive (Section 5.2.2.1) is present, use its
// §     value, or [...]
func FreshnessLifetime(header http.Header) (time.Duration, bool) {
	cc := ParseHeader(header)
	if cc.NoStore() || cc.Private() {
		return 0, true
	}
	if d, ok := cc.SMaxAge(); ok {
		return d, true
	}
	return cc.MaxAge()
}
