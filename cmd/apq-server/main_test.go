package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/always-cache/apq"
	"github.com/always-cache/apq/pkg/content"
	"github.com/always-cache/apq/pkg/executor"
)

func newRouter(t *testing.T) http.Handler {
	nodes, err := content.NewSQLiteStore(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { nodes.Close() })
	if err := seed(context.Background(), nodes); err != nil {
		t.Fatal(err)
	}
	logger := zerolog.Nop()
	return router(apq.New(apq.Config{Logger: &logger}), executor.New(nodes, logger))
}

func TestRouterServesGraphQL(t *testing.T) {
	r := newRouter(t)
	q := url.Values{}
	q.Set("query", `{ articles { total } }`)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/graphql?"+q.Encode(), nil))
	if rr.Code != http.StatusOK || rr.Body.String() != `{"data":{"articles":{"total":2}}}`+"\n" {
		t.Fatalf("Got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/graphql?"+q.Encode(), nil))
	if xc := rr.Header().Get("X-Cache"); xc != "HIT" {
		t.Fatalf("X-Cache is %s", xc)
	}
}

func TestInvalidateEndpoint(t *testing.T) {
	r := newRouter(t)
	q := url.Values{}
	q.Set("query", `{ articles { total } }`)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/graphql?"+q.Encode(), nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/_cache/invalidate", strings.NewReader(`{"tags":["node_list"]}`)))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"invalidated":1`) {
		t.Fatalf("Got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/_cache/invalidate", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Status is %d", rr.Code)
	}
}
