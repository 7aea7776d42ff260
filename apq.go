// Package apq is an HTTP middleware for GraphQL endpoints that resolves
// automatic persisted queries and caches the responses of read-only
// operations, keyed by operation identity, variables and the cache contexts
// the operation reported while executing.
package apq

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/always-cache/apq/cache"
	apqerror "github.com/always-cache/apq/pkg/apq-error"
	cachecontext "github.com/always-cache/apq/pkg/cache-context"
	cachekey "github.com/always-cache/apq/pkg/cache-key"
	"github.com/always-cache/apq/pkg/protocol"
	"github.com/always-cache/apq/pkg/registry"
	serializer "github.com/always-cache/apq/pkg/response-serializer"
	responsetransformer "github.com/always-cache/apq/pkg/response-transformer"
	tee "github.com/always-cache/apq/pkg/response-writer-tee"
	"github.com/always-cache/apq/rfc9111"
	"github.com/always-cache/apq/rfc9211"
)

const (
	// Name of this cache in Cache-Status.
	cacheName = "apq"
	// Header with the coarse cache outcome of a request.
	xCacheHeader = "X-Cache"

	xCacheHit    = "HIT"
	xCacheMiss   = "MISS"
	xCacheBypass = "BYPASS"
)

type Config struct {
	// Persisted query registry. An unbounded in-memory registry is used if nil.
	Registry registry.Registry
	// Storage for cached responses. An in-memory cache is used if nil.
	Cache cache.CacheProvider
	// Identifier of the origin in cache keys.
	// Many origins may share one cache store.
	OriginID string
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
	// Per-route caching rules.
	Rules responsetransformer.Rules
	// Upper bound for the lifetime of stored responses. Zero means no bound.
	DefaultMaxAge time.Duration
	// Turns context names into request discriminators.
	Contexts cachekey.ContextResolver
	// Optional Prometheus metrics.
	Metrics *Metrics
	// Accepted request forms. DefaultOptions if nil.
	Options *protocol.Options
}

type APQ struct {
	cache         cache.CacheProvider
	keyer         cachekey.CacheKeyer
	resolver      *protocol.Resolver
	log           zerolog.Logger
	rules         responsetransformer.Rules
	defaultMaxAge time.Duration
	contexts      cachekey.ContextResolver
	metrics       *Metrics
	tracer        trace.Tracer
}

// New creates the middleware.
func New(config Config) *APQ {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	if config.OriginID == "" {
		config.OriginID = "apq"
	}

	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginID).
		Logger()

	reg := config.Registry
	if reg == nil {
		// unbounded memory registries cannot fail
		reg, _ = registry.NewMemoryRegistry(0)
	}
	if config.Metrics != nil {
		reg = instrumentedRegistry{Registry: reg, metrics: config.Metrics}
	}
	store := config.Cache
	if store == nil {
		store = cache.NewMemCache()
	}
	opts := protocol.DefaultOptions
	if config.Options != nil {
		opts = *config.Options
	}

	return &APQ{
		cache:         store,
		keyer:         cachekey.NewCacheKeyer(config.OriginID),
		resolver:      protocol.NewResolver(reg, opts, logger),
		log:           logger,
		rules:         config.Rules,
		defaultMaxAge: config.DefaultMaxAge,
		contexts:      config.Contexts,
		metrics:       config.Metrics,
		tracer:        otel.Tracer("github.com/always-cache/apq"),
	}
}

type request struct {
	r           *http.Request
	op          protocol.Resolved
	acc         *cachecontext.Accumulator
	rule        *responsetransformer.Rule
	cacheStatus *rfc9211.CacheStatus
	// Reason the response cache is skipped, empty if it is used.
	bypass rfc9211.FwdReason
	// A stored response must not be reused but the new one may be stored.
	noReuse bool
	prefix  string
}

// Middleware resolves the operation of each request and serves it from the
// response cache or passes it to next. The resolved operation is available
// to next via protocol.FromContext and the cache context accumulator via
// cachecontext.FromContext.
func (a *APQ) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.serve(w, r, next)
	})
}

func (a *APQ) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx, span := a.tracer.Start(r.Context(), "apq.request")
	defer span.End()

	op, err := a.resolve(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.metrics.request(outcomeOf(err))
		a.log.Debug().Err(err).Str("url", r.URL.String()).Msg("Could not resolve operation")
		w.Header().Set(xCacheHeader, xCacheBypass)
		apqerror.Write(w, err)
		return
	}
	span.SetAttributes(
		attribute.String("apq.hash", op.Hash.String()),
		attribute.Bool("apq.persisted", op.Persisted),
		attribute.Bool("apq.registered", op.Registered),
	)
	if op.Registered {
		a.metrics.request("registered")
	} else {
		a.metrics.request("resolved")
	}

	acc := cachecontext.New(op.Hash)
	ctx = protocol.NewContext(ctx, op)
	ctx = cachecontext.NewContext(ctx, acc)

	req := &request{
		r:           r.WithContext(ctx),
		op:          op,
		acc:         acc,
		rule:        a.rules.Find(r),
		cacheStatus: rfc9211.NewCacheStatus(cacheName),
	}
	if req.rule != nil {
		req.rule.Contribute(acc)
	}
	a.decide(req)

	if req.bypass == "" && !req.noReuse {
		if a.serveStored(ctx, w, req) {
			return
		}
	}
	a.execute(ctx, w, req, next)
}

func (a *APQ) resolve(ctx context.Context, r *http.Request) (protocol.Resolved, error) {
	ctx, span := a.tracer.Start(ctx, "apq.resolve")
	defer span.End()

	parsed, err := parseRequest(r)
	if err != nil {
		return protocol.Resolved{}, err
	}
	return a.resolver.Resolve(ctx, parsed)
}

// decide sets whether the response cache may be used for the request.
func (a *APQ) decide(req *request) {
	r := req.r
	switch {
	case r.Method != http.MethodGet:
		req.bypass = rfc9211.FwdMethod
		return
	case req.rule != nil && req.rule.Disable:
		req.bypass = rfc9211.FwdBypass
		return
	}
	opType, ok := operationType(req.op.Document, req.op.OperationName)
	if !ok {
		req.bypass = rfc9211.FwdMethod
		req.cacheStatus.Detail("invalid-operation")
		return
	}
	if opType != ast.Query {
		req.bypass = rfc9211.FwdMethod
		req.cacheStatus.Detail(string(opType))
		return
	}
	cc := rfc9111.ParseHeader(r.Header)
	if cc.NoStore() {
		req.bypass = rfc9211.FwdRequest
		return
	}
	if cc.NoCache() {
		req.noReuse = true
	}

	prefix, err := a.keyer.Prefix(r.URL.Path, req.op.Hash, req.op.Variables)
	if err != nil {
		a.log.Error().Err(err).Msg("Could not create key prefix")
		req.bypass = rfc9211.FwdBypass
		return
	}
	req.prefix = prefix
}

// serveStored writes a stored response matching the contexts of the request.
// It returns false if there is none.
func (a *APQ) serveStored(ctx context.Context, w http.ResponseWriter, req *request) bool {
	ctx, span := a.tracer.Start(ctx, "apq.cache.lookup")
	defer span.End()

	a.log.Trace().Str("key", req.prefix).Msg("Getting cached entries")
	entries, err := a.cache.All(ctx, req.prefix)
	if err != nil {
		span.RecordError(err)
		a.log.Error().Err(err).Msg("Could not retrieve from cache")
		req.cacheStatus.Forward(rfc9211.FwdUriMiss)
		return false
	}
	a.log.Trace().Str("key", req.prefix).Msgf("Found %v cache entries", len(entries))

	now := time.Now()
	for _, ce := range entries {
		key := req.prefix + cachekey.HashContexts(req.op.Hash, a.contexts.Resolve(req.r, ce.Contexts))
		if key != ce.Key || ce.Expired(now) {
			continue
		}
		res, err := serializer.BytesToResponse(ce.Bytes)
		if err != nil {
			a.log.Error().Err(err).Str("key", ce.Key).Msg("Could not create response")
			continue
		}
		span.SetAttributes(attribute.Bool("apq.cache.hit", true))
		req.cacheStatus.Hit()
		if !ce.Expires.IsZero() {
			req.cacheStatus.TTL(ce.TTL(now))
		}
		rfc9111.SetAge(res.Header, ce.StoredAt, now)
		w.Header().Set(xCacheHeader, xCacheHit)
		w.Header().Set("Cache-Status", req.cacheStatus.String())
		if err := serializer.WriteResponse(w, res); err != nil {
			a.log.Error().Err(err).Msg("Could not write response body to client")
		}
		a.metrics.cacheStatus("hit")
		a.logRequest(req)
		return true
	}

	if len(entries) > 0 {
		req.cacheStatus.Forward(rfc9211.FwdVaryMiss)
	} else {
		req.cacheStatus.Forward(rfc9211.FwdUriMiss)
	}
	return false
}

// execute passes the request to next, stores the response if allowed
// and writes it to the client.
func (a *APQ) execute(ctx context.Context, w http.ResponseWriter, req *request, next http.Handler) {
	ctx, span := a.tracer.Start(ctx, "apq.execute")
	defer span.End()

	if req.bypass != "" {
		req.cacheStatus.Forward(req.bypass)
	} else if req.noReuse {
		req.cacheStatus.Forward(rfc9211.FwdRequest)
	}

	a.log.Trace().Msgf("executing %s", req.r.URL.String())
	rw := tee.NewResponseSaver(nil)
	next.ServeHTTP(rw, req.r.WithContext(ctx))
	req.cacheStatus.ForwardStatus(rw.StatusCode())

	res, err := serializer.BytesToResponse(rw.Response())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Error().Err(err).Msg("Could not read response of handler")
		apqerror.Write(w, err)
		return
	}
	if req.rule != nil {
		req.rule.Apply(res)
	}
	if lifetime, ok := rfc9111.FreshnessLifetime(res.Header); ok {
		req.acc.MergeMaxAge(lifetime)
	}
	if a.defaultMaxAge > 0 {
		req.acc.MergeMaxAge(a.defaultMaxAge)
	}
	if res.StatusCode != http.StatusOK {
		req.acc.MergeMaxAge(0)
	}
	frozen := req.acc.Freeze()

	if req.bypass == "" {
		if err := a.store(ctx, req, res, frozen); err != nil {
			span.RecordError(err)
			a.log.Error().Err(err).Msg("Could not write to cache")
		}
	}

	a.applyInvalidations(ctx, res.Header)

	if req.bypass != "" {
		w.Header().Set(xCacheHeader, xCacheBypass)
		a.metrics.cacheStatus("bypass")
	} else {
		w.Header().Set(xCacheHeader, xCacheMiss)
		a.metrics.cacheStatus("miss")
	}
	w.Header().Set("Cache-Status", req.cacheStatus.String())
	if err := serializer.WriteResponse(w, res); err != nil {
		a.log.Error().Err(err).Msg("Could not write response body to client")
	}
	a.logRequest(req)
}

// store writes the response to the cache if the frozen dependency set allows it.
func (a *APQ) store(ctx context.Context, req *request, res *http.Response, frozen cachecontext.Frozen) error {
	if !frozen.Cacheable() {
		a.log.Trace().Str("hash", req.op.Hash.String()).Msg("Response not cacheable")
		return nil
	}
	key, err := a.keyer.Build(req.r.URL.Path, a.contexts.Resolve(req.r, frozen.Contexts), req.op.Variables, req.op.Hash)
	if err != nil {
		return err
	}
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return err
	}
	now := time.Now()
	ce := cache.CacheEntry{
		Key:      key,
		Contexts: frozen.Contexts,
		Tags:     frozen.Tags,
		StoredAt: now,
		Bytes:    bts,
	}
	if frozen.MaxAge != cachecontext.Permanent {
		ce.Expires = now.Add(frozen.MaxAge)
		req.cacheStatus.TTL(frozen.MaxAge)
	}
	a.log.Trace().Msgf("Writing to cache: %q %v", key, ce.Expires)
	if err := a.cache.Put(ctx, ce); err != nil {
		return err
	}
	req.cacheStatus.Stored()
	a.metrics.cacheStatus("stored")
	return nil
}

func (a *APQ) logRequest(req *request) {
	r := req.r
	isHit := 0
	if req.cacheStatus.IsHit() {
		isHit = 1
	}
	a.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.Path).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("hash", req.op.Hash.String()).
		Bool("persisted", req.op.Persisted).
		Str("status", req.cacheStatus.String()).
		Int("hit", isHit).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	ip := ipAndPort[:portSepIdx]
	return ip
}
