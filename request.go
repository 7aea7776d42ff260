package apq

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	"github.com/always-cache/apq/pkg/fingerprint"
	"github.com/always-cache/apq/pkg/protocol"
)

// Maximum size of a POST body.
const maxBodySize = 1 << 20

type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

type extensions struct {
	PersistedQuery *persistedQuery `json:"persistedQuery"`
}

// transportFields are the fields of a GraphQL over HTTP request.
type transportFields struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	Extensions    extensions     `json:"extensions"`
	OperationName string         `json:"operationName"`
}

// parseRequest reads the transport fields from the query string of a GET
// request or the JSON body of a POST request.
func parseRequest(r *http.Request) (protocol.Request, error) {
	var fields transportFields
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		fields.Query = q.Get("query")
		fields.OperationName = q.Get("operationName")
		if v := q.Get("variables"); v != "" {
			if err := decodeJSON(strings.NewReader(v), &fields.Variables); err != nil {
				return protocol.Request{}, apqerror.Wrap(apqerror.InvalidRequest, err, "variables are not a JSON object")
			}
		}
		if v := q.Get("extensions"); v != "" {
			if err := json.Unmarshal([]byte(v), &fields.Extensions); err != nil {
				return protocol.Request{}, apqerror.Wrap(apqerror.InvalidRequest, err, "extensions are not a JSON object")
			}
		}
	case http.MethodPost:
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt != "application/json" {
			return protocol.Request{}, apqerror.Newf(apqerror.InvalidRequest, "unsupported content type %q", mt)
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			return protocol.Request{}, apqerror.Wrap(apqerror.InvalidRequest, err, "could not read body")
		}
		if err := decodeJSON(bytes.NewReader(body), &fields); err != nil {
			return protocol.Request{}, apqerror.Wrap(apqerror.InvalidRequest, err, "body is not a GraphQL request")
		}
	default:
		return protocol.Request{}, apqerror.Newf(apqerror.InvalidRequest, "method %s not allowed", r.Method)
	}

	req := protocol.Request{
		Document:      fields.Query,
		Variables:     fields.Variables,
		OperationName: fields.OperationName,
	}
	if pq := fields.Extensions.PersistedQuery; pq != nil {
		hash, err := fingerprint.Parse(pq.Sha256Hash)
		if err != nil {
			return protocol.Request{}, apqerror.Wrap(apqerror.InvalidRequest, err, "invalid sha256Hash")
		}
		req.Hash = &hash
		req.Version = pq.Version
	}
	return req, nil
}

// decodeJSON keeps numbers as json.Number so integers above 2^53 reach the
// cache key and the handler unrounded.
func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// operationType returns the type of the operation selected by name.
// Documents that cannot be parsed are reported by the executor, not here.
func operationType(document, operationName string) (ast.Operation, bool) {
	doc, err := parser.ParseQuery(&ast.Source{Input: document})
	if err != nil {
		return "", false
	}
	op := doc.Operations.ForName(operationName)
	if op == nil {
		return "", false
	}
	return op.Operation, true
}
