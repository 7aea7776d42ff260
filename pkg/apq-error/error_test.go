package apqerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIsMatchesKind(t *testing.T) {
	err := Newf(HashMismatch, "hash %s differs", "abc")
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatal("Expected error to match HashMismatch")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("Error should not match PersistedQueryNotFound")
	}
}

func TestKindOfWrapped(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("lookup: %w", Wrap(StoreUnavailable, cause, "registry unavailable"))
	if k := KindOf(err); k != StoreUnavailable {
		t.Fatalf("Kind is %s", k)
	}
	if !errors.Is(err, cause) {
		t.Fatal("Cause not reachable through chain")
	}
	if KindOf(cause) != 0 {
		t.Fatal("Untyped error has a kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		PersistedQueryNotFound:     http.StatusNotFound,
		HashMismatch:               http.StatusBadRequest,
		LimitExceeded:              http.StatusBadRequest,
		StoreUnavailable:           http.StatusServiceUnavailable,
		InvalidRequest:             http.StatusBadRequest,
		PersistedQueryNotSupported: http.StatusBadRequest,
	}
	for kind, status := range tests {
		if got := kind.HTTPStatus(); got != status {
			t.Errorf("%s: status %d, expected %d", kind, got, status)
		}
	}
}

func TestDistinctCodes(t *testing.T) {
	seen := make(map[string]Kind)
	for k := PersistedQueryNotFound; k <= PersistedQueryNotSupported; k++ {
		if prev, ok := seen[k.Code()]; ok {
			t.Fatalf("%s and %s share code %s", prev, k, k.Code())
		}
		seen[k.Code()] = k
	}
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, fmt.Errorf("resolve: %w", ErrNotFound))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Status is %d", rec.Code)
	}
	var body struct {
		Errors []struct {
			Message    string
			Extensions map[string]string
		}
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Errors) != 1 || body.Errors[0].Message != "PersistedQueryNotFound" ||
		body.Errors[0].Extensions["code"] != "PERSISTED_QUERY_NOT_FOUND" {
		t.Fatalf("Body is %s", rec.Body.String())
	}
}

func TestWriteUntyped(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("database password is hunter2"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Status is %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatal("Internal error message exposed")
	}
}
