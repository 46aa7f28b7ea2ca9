package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/avlachos/conclave/internal/llm"
)

func modelServer(t *testing.T, hits *atomic.Int32, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			http.Error(w, "upstream unhappy", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"id": "openai/gpt-5.2", "name": "GPT-5.2"},
			{"id": "x-ai/grok-4", "name": "Grok 4"}
		]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestModelsCachesPerKey(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	srv := modelServer(t, &hits, &fail)

	cat := New(llm.NewClient(srv.URL, "default-key"), nil)

	for i := 0; i < 3; i++ {
		models, err := cat.Models(context.Background(), "")
		if err != nil {
			t.Fatal(err)
		}
		if len(models) != 2 {
			t.Fatalf("got %d models", len(models))
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hit %d times, want 1", hits.Load())
	}

	// A different key is a different cache entry.
	if _, err := cat.Models(context.Background(), "other-key"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Fatalf("upstream hit %d times, want 2", hits.Load())
	}
}

func TestModelsServesStaleOnFetchError(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	srv := modelServer(t, &hits, &fail)

	cat := New(llm.NewClient(srv.URL, "k"), nil)
	if _, err := cat.Models(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	// Expire the cache entry by hand and break the upstream.
	cat.cache.Purge()
	fail.Store(true)

	models, err := cat.Models(context.Background(), "")
	if err != nil {
		t.Fatalf("stale serve should not error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d stale models", len(models))
	}
}

func TestModelsFallsBackWhenNeverFetched(t *testing.T) {
	var hits atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	srv := modelServer(t, &hits, &fail)

	fallback := Fallback("openai/gpt-5.2", "anthropic/claude-sonnet-4.5")
	cat := New(llm.NewClient(srv.URL, "k"), fallback)

	models, err := cat.Models(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0].ID != "openai/gpt-5.2" {
		t.Fatalf("models = %+v", models)
	}
	if models[1].Provider != "anthropic" {
		t.Fatalf("fallback provider = %q", models[1].Provider)
	}
}

func TestModelsErrorsWithoutFallback(t *testing.T) {
	var hits atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)
	srv := modelServer(t, &hits, &fail)

	cat := New(llm.NewClient(srv.URL, "k"), nil)
	if _, err := cat.Models(context.Background(), ""); err == nil {
		t.Fatal("expected error with no stale entry and no fallback")
	}
}

func TestHasIsAdvisory(t *testing.T) {
	var hits atomic.Int32
	var fail atomic.Bool
	srv := modelServer(t, &hits, &fail)

	cat := New(llm.NewClient(srv.URL, "k"), nil)
	if !cat.Has(context.Background(), "", "x-ai/grok-4") {
		t.Fatal("listed model reported missing")
	}
	if cat.Has(context.Background(), "", "nobody/nothing") {
		t.Fatal("unlisted model reported present")
	}

	// Listing failure must not veto anything.
	cat.cache.Purge()
	delete(cat.lastGood, cacheKey(""))
	fail.Store(true)
	if !cat.Has(context.Background(), "", "nobody/nothing") {
		t.Fatal("catalog error should count as present")
	}
}
