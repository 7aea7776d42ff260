// Package executor runs operations against the example content schema.
//
// Resolvers report the cache tags and contexts of the data they read to the
// request's cache context accumulator, so that the response cache can key and
// invalidate stored results.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	cachecontext "github.com/always-cache/apq/pkg/cache-context"
	cacheinvalidate "github.com/always-cache/apq/pkg/cache-invalidate"
	"github.com/always-cache/apq/pkg/content"
	"github.com/always-cache/apq/pkg/protocol"
)

// MaxLimit is the largest page size of list fields.
const MaxLimit = 100

type Executor struct {
	store  content.Store
	logger zerolog.Logger
}

func New(store content.Store, logger zerolog.Logger) *Executor {
	return &Executor{
		store:  store,
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Result of an executed operation.
type Result struct {
	Data map[string]any
	// Tags to invalidate because the operation changed data.
	Invalidate []string
}

// ServeHTTP executes the operation resolved for the request.
func (e *Executor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op, ok := protocol.FromContext(r.Context())
	if !ok {
		apqerror.Write(w, apqerror.New(apqerror.InvalidRequest, "no operation resolved for request"))
		return
	}
	acc := cachecontext.FromContext(r.Context())
	if acc == nil {
		acc = cachecontext.New(op.Hash)
	}

	result, err := e.Execute(r.Context(), op, acc, r.Method == http.MethodGet)
	if err != nil {
		acc.MergeMaxAge(0)
		e.logger.Debug().Err(err).Str("hash", op.Hash.String()).Msg("Execution failed")
		apqerror.Write(w, err)
		return
	}
	if len(result.Invalidate) > 0 {
		w.Header().Add(cacheinvalidate.HeaderName,
			cacheinvalidate.Invalidation{Tags: result.Invalidate}.String())
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": result.Data}); err != nil {
		e.logger.Error().Err(err).Msg("Could not write response")
	}
}

// Execute parses, validates and runs the operation.
// Mutations are rejected if readOnly is set.
func (e *Executor) Execute(ctx context.Context, op protocol.Resolved, acc *cachecontext.Accumulator, readOnly bool) (Result, error) {
	doc, errs := gqlparser.LoadQuery(schema, op.Document)
	if len(errs) > 0 {
		return Result{}, apqerror.New(apqerror.InvalidRequest, errs[0].Message)
	}
	def := doc.Operations.ForName(op.OperationName)
	if def == nil {
		return Result{}, apqerror.Newf(apqerror.InvalidRequest, "operation %q not found", op.OperationName)
	}
	vars, err := validator.VariableValues(schema, def, op.Variables)
	if err != nil {
		return Result{}, apqerror.Wrap(apqerror.InvalidRequest, err, "invalid variables")
	}

	result := Result{Data: make(map[string]any)}
	if def.Operation == ast.Mutation {
		if readOnly {
			return Result{}, apqerror.New(apqerror.InvalidRequest, "mutations are not allowed over GET")
		}
		acc.MergeMaxAge(0)
		for _, field := range collectFields(def.SelectionSet) {
			value, tags, err := e.mutate(ctx, field, vars)
			if err != nil {
				return Result{}, err
			}
			result.Data[field.Alias] = value
			result.Invalidate = append(result.Invalidate, tags...)
		}
		return result, nil
	}

	for _, field := range collectFields(def.SelectionSet) {
		value, err := e.query(ctx, acc, field, vars)
		if err != nil {
			return Result{}, err
		}
		result.Data[field.Alias] = value
	}
	return result, nil
}

func (e *Executor) query(ctx context.Context, acc *cachecontext.Accumulator, field *ast.Field, vars map[string]any) (any, error) {
	args := field.ArgumentMap(vars)
	switch field.Name {
	case "__typename":
		return "Query", nil
	case "article", "page":
		id, err := intArg(args, "id")
		if err != nil {
			return nil, err
		}
		return e.resolveNode(ctx, acc, field, field.Name, int64(id))
	case "articles", "pages":
		offset, err := intArg(args, "offset")
		if err != nil {
			return nil, err
		}
		limit, err := intArg(args, "limit")
		if err != nil {
			return nil, err
		}
		return e.resolveList(ctx, acc, field, strings.TrimSuffix(field.Name, "s"), offset, limit)
	}
	return nil, apqerror.Newf(apqerror.InvalidRequest, "unknown field %s", field.Name)
}

func (e *Executor) resolveNode(ctx context.Context, acc *cachecontext.Accumulator, field *ast.Field, bundle string, id int64) (any, error) {
	node, ok, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, apqerror.Wrap(apqerror.StoreUnavailable, err, "could not load node")
	}
	if !ok || node.Type != bundle || !node.Published {
		// a node created later shows up in the list tag
		acc.AddTag(content.ListTag)
		return nil, nil
	}
	acc.AddTag(content.NodeTag(node.ID))
	return selectNode(field.SelectionSet, node), nil
}

// resolveList loads a page of published nodes of the bundle.
func (e *Executor) resolveList(ctx context.Context, acc *cachecontext.Accumulator, field *ast.Field, bundle string, offset, limit int) (any, error) {
	if limit > MaxLimit {
		return nil, apqerror.Newf(apqerror.LimitExceeded, "Exceeded maximum query limit: %d.", MaxLimit)
	}
	if offset < 0 || limit < 0 {
		return nil, apqerror.New(apqerror.InvalidRequest, "offset and limit must not be negative")
	}
	acc.AddTag(content.ListTag)
	acc.AddContext(content.ListContext)

	nodes, total, err := e.store.Query(ctx, bundle, offset, limit)
	if err != nil {
		return nil, apqerror.Wrap(apqerror.StoreUnavailable, err, "could not query nodes")
	}
	out := make(map[string]any)
	for _, f := range collectFields(field.SelectionSet) {
		switch f.Name {
		case "__typename":
			out[f.Alias] = bundles[bundle] + "Connection"
		case "total":
			out[f.Alias] = total
		case "items":
			items := make([]any, 0, len(nodes))
			for _, n := range nodes {
				acc.AddTag(content.NodeTag(n.ID))
				items = append(items, selectNode(f.SelectionSet, n))
			}
			out[f.Alias] = items
		}
	}
	return out, nil
}

func selectNode(set ast.SelectionSet, n content.Node) map[string]any {
	out := make(map[string]any)
	for _, f := range collectFields(set) {
		switch f.Name {
		case "__typename":
			out[f.Alias] = bundles[n.Type]
		case "id":
			out[f.Alias] = n.ID
		case "title":
			out[f.Alias] = strings.ToUpper(n.Title)
		}
	}
	return out
}

func (e *Executor) mutate(ctx context.Context, field *ast.Field, vars map[string]any) (any, []string, error) {
	if field.Name == "__typename" {
		return "Mutation", nil, nil
	}
	id, err := intArg(field.ArgumentMap(vars), "id")
	if err != nil {
		return nil, nil, err
	}
	node, ok, err := e.store.Load(ctx, int64(id))
	if err != nil {
		return nil, nil, apqerror.Wrap(apqerror.StoreUnavailable, err, "could not load node")
	}
	if !ok {
		return false, nil, nil
	}
	switch field.Name {
	case "publish":
		node.Published = true
	case "unpublish":
		node.Published = false
	default:
		return nil, nil, apqerror.Newf(apqerror.InvalidRequest, "unknown field %s", field.Name)
	}
	if err := e.store.Save(ctx, node); err != nil {
		return nil, nil, apqerror.Wrap(apqerror.StoreUnavailable, err, "could not save node")
	}
	e.logger.Trace().Int64("id", node.ID).Bool("published", node.Published).Msg("Node saved")
	return true, []string{content.ListTag, content.NodeTag(node.ID)}, nil
}

// collectFields flattens fragments into the fields they select.
func collectFields(set ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.InlineFragment:
			fields = append(fields, collectFields(s.SelectionSet)...)
		case *ast.FragmentSpread:
			if s.Definition != nil {
				fields = append(fields, collectFields(s.Definition.SelectionSet)...)
			}
		}
	}
	return fields
}

func intArg(args map[string]any, name string) (int, error) {
	switch v := args[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, apqerror.Wrap(apqerror.InvalidRequest, err, fmt.Sprintf("argument %s is not an integer", name))
		}
		return int(i), nil
	}
	return 0, apqerror.Newf(apqerror.InvalidRequest, "argument %s is required", name)
}
