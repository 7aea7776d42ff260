package apq_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/apq"
	"github.com/always-cache/apq/cache"
	"github.com/always-cache/apq/pkg/content"
	"github.com/always-cache/apq/pkg/executor"
	"github.com/always-cache/apq/pkg/fingerprint"
	"github.com/always-cache/apq/pkg/registry"
)

type testServer struct {
	handler http.Handler
	apq     *apq.APQ
	nodes   *content.SQLiteStore
}

func newTestServer(t *testing.T, config apq.Config) *testServer {
	t.Helper()
	nodes, err := content.NewSQLiteStore(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { nodes.Close() })

	ctx := context.Background()
	for _, n := range []content.Node{
		{ID: 1, Type: "article", Title: "Test Article 1", Published: true},
		{ID: 2, Type: "page", Title: "Test Page 1", Published: true},
		{ID: 3, Type: "article", Title: "Test Article 2", Published: true},
	} {
		require.NoError(t, nodes.Save(ctx, n))
	}

	logger := zerolog.Nop()
	config.Logger = &logger
	a := apq.New(config)
	return &testServer{
		handler: a.Middleware(executor.New(nodes, logger)),
		apq:     a,
		nodes:   nodes,
	}
}

type response struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message    string            `json:"message"`
		Extensions map[string]string `json:"extensions"`
	} `json:"errors"`
}

func (s *testServer) get(t *testing.T, hash fingerprint.Hash, doc, variables string, header http.Header) (*httptest.ResponseRecorder, response) {
	t.Helper()
	q := url.Values{}
	q.Set("extensions", fmt.Sprintf(`{"persistedQuery":{"version":1,"sha256Hash":"%s"}}`, hash))
	if doc != "" {
		q.Set("query", doc)
	}
	if variables != "" {
		q.Set("variables", variables)
	}
	req := httptest.NewRequest(http.MethodGet, "/graphql?"+q.Encode(), nil)
	for name, values := range header {
		req.Header[name] = values
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	var res response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res), rr.Body.String())
	return rr, res
}

func (s *testServer) post(t *testing.T, doc string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"query": doc})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

// Two persisted operations with the same shape and variables must never
// answer each other from the cache.
func TestOperationsDoNotShareCacheEntries(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	docA := `query A($id: Int!) { node: page(id: $id) { title } }`
	docB := `query B($id: Int!) { node: article(id: $id) { title } }`
	hashA, hashB := fingerprint.Of(docA), fingerprint.Of(docB)
	vars := `{"id": 2}`

	rr, res := s.get(t, hashA, docA, vars, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Equal(t, map[string]any{"title": "TEST PAGE 1"}, res.Data["node"])

	rr, res = s.get(t, hashB, docB, vars, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Nil(t, res.Data["node"])

	rr, res = s.get(t, hashA, "", vars, nil)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	assert.Equal(t, map[string]any{"title": "TEST PAGE 1"}, res.Data["node"])

	rr, res = s.get(t, hashB, "", vars, nil)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	assert.Nil(t, res.Data["node"])
}

func TestUnknownHashThenRegistration(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	doc := `query ($id: Int!) { article(id: $id) { id title } }`
	hash := fingerprint.Of(doc)

	rr, res := s.get(t, hash, "", `{"id": 1}`, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "PERSISTED_QUERY_NOT_FOUND", res.Errors[0].Extensions["code"])

	rr, res = s.get(t, hash, doc, `{"id": 1}`, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"id": float64(1), "title": "TEST ARTICLE 1"}, res.Data["article"])

	rr, _ = s.get(t, hash, "", `{"id": 1}`, nil)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
}

func TestListVariesByRoles(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	doc := `{ articles { total items { title } } }`
	hash := fingerprint.Of(doc)
	editor := http.Header{"X-User-Roles": {"editor"}}
	anonymous := http.Header{"X-User-Roles": {"anonymous"}}

	rr, res := s.get(t, hash, doc, "", editor)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Equal(t, float64(2), res.Data["articles"].(map[string]any)["total"])

	rr, _ = s.get(t, hash, "", "", anonymous)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Contains(t, rr.Header().Get("Cache-Status"), "fwd=vary-miss")

	rr, _ = s.get(t, hash, "", "", editor)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
}

func TestLimitExceeded(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	doc := `query ($limit: Int) { pages(limit: $limit) { total } }`

	rr, res := s.get(t, fingerprint.Of(doc), doc, `{"limit": 101}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Exceeded maximum query limit: 100.", res.Errors[0].Message)
	assert.Equal(t, "LIMIT_EXCEEDED", res.Errors[0].Extensions["code"])

	// errors are not stored
	rr, _ = s.get(t, fingerprint.Of(doc), "", `{"limit": 101}`, nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
}

func TestMutationInvalidatesStoredResults(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	doc := `{ articles { total } }`
	hash := fingerprint.Of(doc)

	_, res := s.get(t, hash, doc, "", nil)
	assert.Equal(t, float64(2), res.Data["articles"].(map[string]any)["total"])
	rr, _ := s.get(t, hash, "", "", nil)
	require.Equal(t, "HIT", rr.Header().Get("X-Cache"))

	rr = s.post(t, `mutation { unpublish(id: 3) }`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "BYPASS", rr.Header().Get("X-Cache"))
	assert.Equal(t, "node_list, node:3", rr.Header().Get("Cache-Invalidate"))

	rr, res = s.get(t, hash, "", "", nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.Equal(t, float64(1), res.Data["articles"].(map[string]any)["total"])
}

func TestMissingNodeIsInvalidatedByList(t *testing.T) {
	s := newTestServer(t, apq.Config{})
	doc := `query ($id: Int!) { article(id: $id) { title } }`
	hash := fingerprint.Of(doc)

	_, res := s.get(t, hash, doc, `{"id": 4}`, nil)
	assert.Nil(t, res.Data["article"])

	require.NoError(t, s.nodes.Save(context.Background(), content.Node{ID: 4, Type: "article", Title: "New", Published: true}))
	n, err := s.apq.InvalidateTags(context.Background(), content.ListTag)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, res = s.get(t, hash, "", `{"id": 4}`, nil)
	assert.Equal(t, map[string]any{"title": "NEW"}, res.Data["article"])
}

func TestSharedStoresAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	config := apq.Config{
		Registry: registry.NewRedisRegistry(client, "", 0),
		Cache:    cache.NewRedisCache(client, ""),
		OriginID: "shared",
	}
	first := newTestServer(t, config)
	second := newTestServer(t, config)
	doc := `{ pages { total } }`
	hash := fingerprint.Of(doc)

	rr, _ := first.get(t, hash, doc, "", nil)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))

	rr, res := second.get(t, hash, "", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	assert.Equal(t, float64(1), res.Data["pages"].(map[string]any)["total"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := apq.NewMetrics("test", reg)
	s := newTestServer(t, apq.Config{Metrics: metrics})
	doc := `{ pages { total } }`
	hash := fingerprint.Of(doc)

	s.get(t, hash, "", "", nil)
	s.get(t, hash, doc, "", nil)
	s.get(t, hash, "", "", nil)

	// not_found, registered and resolved
	count, err := testutil.GatherAndCount(reg, "test_apq_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	// miss, stored and hit
	count, err = testutil.GatherAndCount(reg, "test_apq_response_cache_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	// failed lookup, registration and lookup
	count, err = testutil.GatherAndCount(reg, "test_apq_registry_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
