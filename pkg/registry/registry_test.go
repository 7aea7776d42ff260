package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	apqerror "github.com/always-cache/apq/pkg/apq-error"
	"github.com/always-cache/apq/pkg/fingerprint"
)

const heroQuery = "{ hero { name } }"

// backends returns a fresh instance of every registry that runs without external services.
func backends(t *testing.T) map[string]Registry {
	t.Helper()
	mem, err := NewMemoryRegistry(0)
	if err != nil {
		t.Fatal(err)
	}
	bounded, err := NewMemoryRegistry(16)
	if err != nil {
		t.Fatal(err)
	}
	sqlite, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Registry{
		"memory":  mem,
		"bounded": bounded,
		"sqlite":  sqlite,
	}
}

func TestRegisterLookupRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			hash := fingerprint.Of(heroQuery)
			if err := reg.Register(ctx, hash, heroQuery); err != nil {
				t.Fatal(err)
			}
			doc, err := reg.Lookup(ctx, hash)
			if err != nil {
				t.Fatal(err)
			}
			if doc != heroQuery {
				t.Fatalf("Lookup returned %q", doc)
			}
		})
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			hash := fingerprint.Of(heroQuery)
			for i := 0; i < 3; i++ {
				if err := reg.Register(ctx, hash, heroQuery); err != nil {
					t.Fatalf("Registration %d failed: %v", i, err)
				}
			}
		})
	}
}

func TestLookupUnknownHash(t *testing.T) {
	ctx := context.Background()
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Lookup(ctx, fingerprint.Of("{ unknown }"))
			if !errors.Is(err, apqerror.ErrNotFound) {
				t.Fatalf("Expected PersistedQueryNotFound, got %v", err)
			}
		})
	}
}

func TestRegisterConflictingDocument(t *testing.T) {
	ctx := context.Background()
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			hash := fingerprint.Of(heroQuery)
			if err := reg.Register(ctx, hash, heroQuery); err != nil {
				t.Fatal(err)
			}
			err := reg.Register(ctx, hash, "{ villain { name } }")
			if !errors.Is(err, apqerror.ErrHashMismatch) {
				t.Fatalf("Expected HashMismatch, got %v", err)
			}
			doc, _ := reg.Lookup(ctx, hash)
			if doc != heroQuery {
				t.Fatalf("Stored document was overwritten with %q", doc)
			}
		})
	}
}

func TestConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	for name, reg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			errs := make(chan error, 40)
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					doc := fmt.Sprintf("{ field%d }", i%4)
					errs <- reg.Register(ctx, fingerprint.Of(doc), doc)
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatal(err)
				}
			}
			for i := 0; i < 4; i++ {
				doc := fmt.Sprintf("{ field%d }", i)
				got, err := reg.Lookup(ctx, fingerprint.Of(doc))
				if err != nil || got != doc {
					t.Fatalf("Lookup %d returned %q, %v", i, got, err)
				}
			}
		})
	}
}

func TestConcurrentConflictingRegistration(t *testing.T) {
	ctx := context.Background()
	regs := backends(t)
	regs["redis"], _ = newTestRedisRegistry(t, 0)
	const n = 20
	for name, reg := range regs {
		t.Run(name, func(t *testing.T) {
			hash := fingerprint.Of(heroQuery)
			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = reg.Register(ctx, hash, fmt.Sprintf("doc%d", i))
				}(i)
			}
			wg.Wait()

			winner := -1
			for i, err := range errs {
				switch {
				case err == nil && winner == -1:
					winner = i
				case err == nil:
					t.Fatalf("Both doc%d and doc%d were accepted", winner, i)
				case !errors.Is(err, apqerror.ErrHashMismatch):
					t.Fatalf("Register doc%d returned %v", i, err)
				}
			}
			if winner == -1 {
				t.Fatal("No registration was accepted")
			}
			doc, err := reg.Lookup(ctx, hash)
			if err != nil || doc != fmt.Sprintf("doc%d", winner) {
				t.Fatalf("Lookup returned %q, %v; doc%d won", doc, err, winner)
			}
		})
	}
}

func TestBoundedMemoryEvicts(t *testing.T) {
	ctx := context.Background()
	reg, err := NewMemoryRegistry(2)
	if err != nil {
		t.Fatal(err)
	}
	docs := []string{"{ a }", "{ b }", "{ c }"}
	for _, doc := range docs {
		if err := reg.Register(ctx, fingerprint.Of(doc), doc); err != nil {
			t.Fatal(err)
		}
	}
	if reg.Len() != 2 {
		t.Fatalf("Registry holds %d entries", reg.Len())
	}
	// evicted entries are simply unknown again, clients re-register
	if _, err := reg.Lookup(ctx, fingerprint.Of("{ a }")); !errors.Is(err, apqerror.ErrNotFound) {
		t.Fatalf("Expected oldest entry to be evicted, got %v", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(Config{Backend: "etcd"}); err == nil {
		t.Fatal("Expected error for unknown backend")
	}
	reg, err := Open(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.(*MemoryRegistry); !ok {
		t.Fatalf("Default backend is %T", reg)
	}
}
