package fictora

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

// recordingNavigator counts Replace calls.
type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Replace(path string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
}

func newResolverServer(t *testing.T, fetches *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/123" {
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(fetches, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":   true,
			"data": map[string]any{"id": 123, "uuid": "abc-def", "title": "Old chat"},
		})
	}))
}

func TestResolverCanonicalPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("canonical ids must not hit the network")
	}))
	defer server.Close()

	nav := &recordingNavigator{}
	r := NewResolver(NewClient("tok", WithBaseURL(server.URL)), nav)

	for _, id := range []string{"abc-def", "abc123", "", "12x"} {
		got, err := r.Resolve(context.Background(), id, ResolveOptions{Redirect: true})
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		if got != id {
			t.Fatalf("Resolve(%q) = %q, want unchanged", id, got)
		}
	}
	if len(nav.paths) != 0 {
		t.Fatalf("canonical ids must not redirect, got %v", nav.paths)
	}
}

func TestResolverLegacyID(t *testing.T) {
	t.Run("resolves once and redirects once", func(t *testing.T) {
		var fetches int32
		server := newResolverServer(t, &fetches)
		defer server.Close()

		nav := &recordingNavigator{}
		r := NewResolver(NewClient("tok", WithBaseURL(server.URL)), nav)

		for i := 0; i < 3; i++ {
			got, err := r.Resolve(context.Background(), "123", ResolveOptions{Redirect: true})
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != "abc-def" {
				t.Fatalf("Resolve = %q, want abc-def", got)
			}
		}

		if n := atomic.LoadInt32(&fetches); n != 1 {
			t.Fatalf("fetch count = %d, want 1", n)
		}
		if len(nav.paths) != 1 || nav.paths[0] != "/chat/abc-def" {
			t.Fatalf("redirects = %v, want one replace to /chat/abc-def", nav.paths)
		}
	})

	t.Run("no redirect when not requested", func(t *testing.T) {
		var fetches int32
		server := newResolverServer(t, &fetches)
		defer server.Close()

		nav := &recordingNavigator{}
		r := NewResolver(NewClient("tok", WithBaseURL(server.URL)), nav)

		if _, err := r.Resolve(context.Background(), "123", ResolveOptions{}); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if len(nav.paths) != 0 {
			t.Fatalf("redirects = %v, want none", nav.paths)
		}
	})

	t.Run("concurrent resolves share one fetch", func(t *testing.T) {
		var fetches int32
		server := newResolverServer(t, &fetches)
		defer server.Close()

		nav := &recordingNavigator{}
		r := NewResolver(NewClient("tok", WithBaseURL(server.URL)), nav)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := r.Resolve(context.Background(), "123", ResolveOptions{Redirect: true})
				if err != nil || got != "abc-def" {
					t.Errorf("Resolve = %q, %v", got, err)
				}
			}()
		}
		wg.Wait()

		if n := atomic.LoadInt32(&fetches); n != 1 {
			t.Fatalf("fetch count = %d, want 1", n)
		}
		if len(nav.paths) != 1 {
			t.Fatalf("redirect count = %d, want 1", len(nav.paths))
		}
	})

	t.Run("failed lookup retries on the next call", func(t *testing.T) {
		var fetches int32
		fail := true
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&fetches, 1)
			if fail {
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]any{
					"ok":    false,
					"error": map[string]any{"code": "INTERNAL", "message": "boom"},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"ok":   true,
				"data": map[string]any{"id": 123, "uuid": "abc-def"},
			})
		}))
		defer server.Close()

		r := NewResolver(NewClient("tok", WithBaseURL(server.URL)), nil)

		if _, err := r.Resolve(context.Background(), "123", ResolveOptions{}); err == nil {
			t.Fatal("expected error from failed lookup")
		}

		fail = false
		got, err := r.Resolve(context.Background(), "123", ResolveOptions{})
		if err != nil {
			t.Fatalf("retry failed: %v", err)
		}
		if got != "abc-def" {
			t.Fatalf("Resolve = %q, want abc-def", got)
		}
		if n := atomic.LoadInt32(&fetches); n != 2 {
			t.Fatalf("fetch count = %d, want 2", n)
		}
	})
}
