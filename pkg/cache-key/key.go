package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	cachecontext "github.com/always-cache/apq/pkg/cache-context"
	"github.com/always-cache/apq/pkg/fingerprint"
)

const (
	originSeparator  = ":"
	variantSeparator = "\t"
	contextSeparator = "\n"
)

// A key looks like
//
//	<origin>:<route>\t<sha256(identity 0x00 variables)>\t<sha256(contexts)>
//
// The part up to and including the second tab is the prefix shared by all
// context variants of one operation with one set of variables.
type CacheKeyer struct {
	// Unique identifier for the origin.
	// Many origins may share one cache store.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// RoutePrefix gets the key prefix for all entries of a route.
func (c CacheKeyer) RoutePrefix(route string) string {
	return c.OriginPrefix + route + variantSeparator
}

// Prefix returns the cache key without the contexts.
// It is suitable for finding all stored variants of an operation and its variables.
func (c CacheKeyer) Prefix(route string, identity fingerprint.Hash, variables map[string]any) (string, error) {
	vars, err := canonicalizeMap(variables)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize variables: %w", err)
	}
	h := sha256.New()
	h.Write(identity[:])
	h.Write([]byte{0})
	h.Write(vars)
	return c.RoutePrefix(route) + hex.EncodeToString(h.Sum(nil)) + variantSeparator, nil
}

// Build returns the full cache key. Contexts are the resolved discriminators
// of the request (see ContextResolver), in any order and possibly repeated.
// The operation context of the identity is always included.
func (c CacheKeyer) Build(route string, contexts []string, variables map[string]any, identity fingerprint.Hash) (string, error) {
	prefix, err := c.Prefix(route, identity, variables)
	if err != nil {
		return "", err
	}
	return prefix + HashContexts(identity, contexts), nil
}

// HashContexts returns the context part of a key.
func HashContexts(identity fingerprint.Hash, contexts []string) string {
	set := map[string]struct{}{cachecontext.OperationContext(identity): {}}
	for _, ctx := range contexts {
		set[ctx] = struct{}{}
	}
	sorted := make([]string, 0, len(set))
	for ctx := range set {
		sorted = append(sorted, ctx)
	}
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, contextSeparator)))
	return hex.EncodeToString(sum[:])
}
