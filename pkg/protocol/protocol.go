// Package protocol implements automatic persisted query resolution.
//
// A client first sends only the fingerprint of its operation document. If the
// server does not know it, the client resends the fingerprint together with
// the full document, which registers it for all later requests.
package protocol

import (
	"context"

	"github.com/rs/zerolog"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	"github.com/always-cache/apq/pkg/fingerprint"
	"github.com/always-cache/apq/pkg/registry"
)

// Version is the only supported persisted query extension version.
const Version = 1

// Request holds the transport fields relevant for resolution.
type Request struct {
	// Nil when the request carries no persistedQuery extension.
	Hash *fingerprint.Hash
	// Extension version, only meaningful if Hash is set.
	Version       int
	Document      string
	Variables     map[string]any
	OperationName string
}

// Resolved is the operation to execute.
type Resolved struct {
	Hash          fingerprint.Hash
	Document      string
	Variables     map[string]any
	OperationName string
	// The request used the persisted query extension.
	Persisted bool
	// This request stored the document in the registry.
	Registered bool
}

type Options struct {
	// Accept requests with a document and no persisted query extension.
	AllowArbitrary bool
	// Accept requests with the persisted query extension.
	AllowPersisted bool
}

// DefaultOptions accepts both plain and persisted requests.
var DefaultOptions = Options{AllowArbitrary: true, AllowPersisted: true}

type Resolver struct {
	registry registry.Registry
	opts     Options
	logger   zerolog.Logger
}

func NewResolver(reg registry.Registry, opts Options, logger zerolog.Logger) *Resolver {
	return &Resolver{
		registry: reg,
		opts:     opts,
		logger:   logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve determines the document to execute for the request,
// registering it if the request carries both fingerprint and document.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolved, error) {
	res := Resolved{
		Variables:     req.Variables,
		OperationName: req.OperationName,
	}

	if req.Hash == nil {
		if req.Document == "" {
			return res, apqerror.New(apqerror.InvalidRequest, "no query provided")
		}
		if !r.opts.AllowArbitrary {
			return res, apqerror.New(apqerror.InvalidRequest, "arbitrary queries are not allowed, use a persisted query")
		}
		res.Hash = fingerprint.Of(req.Document)
		res.Document = req.Document
		return res, nil
	}

	if !r.opts.AllowPersisted {
		return res, apqerror.ErrNotSupported
	}
	if req.Version != Version {
		return res, apqerror.Newf(apqerror.InvalidRequest, "unsupported persisted query version %d", req.Version)
	}
	res.Hash = *req.Hash
	res.Persisted = true

	if req.Document == "" {
		doc, err := r.registry.Lookup(ctx, res.Hash)
		if err != nil {
			r.logger.Trace().Str("hash", res.Hash.String()).Err(err).Msg("Lookup failed")
			return res, err
		}
		res.Document = doc
		return res, nil
	}

	if fingerprint.Of(req.Document) != res.Hash {
		r.logger.Trace().Str("hash", res.Hash.String()).Msg("Hash does not match document")
		return res, apqerror.ErrHashMismatch
	}
	if err := r.registry.Register(ctx, res.Hash, req.Document); err != nil {
		return res, err
	}
	r.logger.Trace().Str("hash", res.Hash.String()).Msg("Registered document")
	res.Document = req.Document
	res.Registered = true
	return res, nil
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the resolved operation.
func NewContext(ctx context.Context, res Resolved) context.Context {
	return context.WithValue(ctx, ctxKey{}, res)
}

// FromContext returns the resolved operation of the request.
func FromContext(ctx context.Context) (Resolved, bool) {
	res, ok := ctx.Value(ctxKey{}).(Resolved)
	return res, ok
}
