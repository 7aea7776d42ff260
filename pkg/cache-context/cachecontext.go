// Package cachecontext collects, while an operation executes, the request
// dimensions its result depends on (contexts), the invalidation tags of the
// data it read, and the maximum age its result may be cached for.
package cachecontext

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/always-cache/apq/pkg/fingerprint"
)

// Permanent is the max-age of results that never expire on their own.
const Permanent time.Duration = -1

// OperationPrefix prefixes the operation identity context.
const OperationPrefix = "operation:"

// OperationContext returns the context name that discriminates results by operation.
func OperationContext(hash fingerprint.Hash) string {
	return OperationPrefix + hash.String()
}

// Frozen is the final, immutable dependency set of a result.
type Frozen struct {
	// Sorted and de-duplicated.
	Contexts []string
	// Sorted and de-duplicated.
	Tags   []string
	MaxAge time.Duration
}

// Cacheable reports whether the result may be stored at all.
func (f Frozen) Cacheable() bool {
	return f.MaxAge != 0
}

// Accumulator is the request scoped collector. It is safe for concurrent use.
type Accumulator struct {
	mutex    sync.Mutex
	contexts map[string]struct{}
	tags     map[string]struct{}
	maxAge   time.Duration
	frozen   bool
}

// New creates an accumulator for the operation with the given identity.
// The operation context is always part of the result.
func New(identity fingerprint.Hash) *Accumulator {
	return &Accumulator{
		contexts: map[string]struct{}{OperationContext(identity): {}},
		tags:     make(map[string]struct{}),
		maxAge:   Permanent,
	}
}

// AddContext records that the result varies by the named contexts.
// It returns false if the accumulator is already frozen.
func (a *Accumulator) AddContext(names ...string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.frozen {
		return false
	}
	for _, n := range names {
		if n != "" {
			a.contexts[n] = struct{}{}
		}
	}
	return true
}

// AddTag records invalidation tags of data the result was built from.
// It returns false if the accumulator is already frozen.
func (a *Accumulator) AddTag(names ...string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.frozen {
		return false
	}
	for _, n := range names {
		if n != "" {
			a.tags[n] = struct{}{}
		}
	}
	return true
}

// MergeMaxAge lowers the max-age to d if d is more restrictive.
// A zero duration makes the result uncacheable.
func (a *Accumulator) MergeMaxAge(d time.Duration) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.frozen {
		return false
	}
	if d < 0 {
		return true
	}
	if a.maxAge == Permanent || d < a.maxAge {
		a.maxAge = d
	}
	return true
}

// Freeze ends accumulation and returns the dependency set.
// It may be called more than once.
func (a *Accumulator) Freeze() Frozen {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.frozen = true
	return Frozen{
		Contexts: sortedKeys(a.contexts),
		Tags:     sortedKeys(a.tags),
		MaxAge:   a.maxAge,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the accumulator.
func NewContext(ctx context.Context, acc *Accumulator) context.Context {
	return context.WithValue(ctx, ctxKey{}, acc)
}

// FromContext returns the accumulator of the request, or nil.
func FromContext(ctx context.Context) *Accumulator {
	acc, _ := ctx.Value(ctxKey{}).(*Accumulator)
	return acc
}
