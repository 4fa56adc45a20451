package cache

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func newTestRegistry(t *testing.T, backend Backend, staticV, dynamicV int) *Registry {
	t.Helper()
	return NewRegistry(backend, RegistryConfig{
		Prefix:         DefaultPrefix,
		StaticVersion:  staticV,
		DynamicVersion: dynamicV,
	}, zerolog.Nop())
}

func mustKey(t *testing.T, raw string) CacheKey {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return NewKey(http.MethodGet, u)
}

func TestNewRegistry_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRegistry should panic with nil backend")
		}
	}()
	NewRegistry(nil, DefaultRegistryConfig(), zerolog.Nop())
}

func TestRegistry_CurrentNames(t *testing.T) {
	r := NewRegistry(NewMemoryBackend(0), DefaultRegistryConfig(), zerolog.Nop())

	want := map[string]struct{}{
		"shopease-static-v3":  {},
		"shopease-dynamic-v3": {},
	}
	if got := r.CurrentNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("CurrentNames() = %v, want %v", got, want)
	}
	if got := r.CurrentName(RoleDynamic); got != "shopease-dynamic-v3" {
		t.Errorf("CurrentName(dynamic) = %q", got)
	}
}

func TestRegistry_OpenGeneration_Idempotent(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	r := newTestRegistry(t, backend, 1, 1)

	h1, err := r.OpenGeneration(ctx, RoleStatic)
	if err != nil {
		t.Fatalf("OpenGeneration failed: %v", err)
	}
	h2, err := r.OpenGeneration(ctx, RoleStatic)
	if err != nil {
		t.Fatalf("second OpenGeneration failed: %v", err)
	}
	if h1.Name() != h2.Name() {
		t.Errorf("handles differ: %s vs %s", h1.Name(), h2.Name())
	}

	names, _ := backend.Names(ctx)
	if len(names) != 1 {
		t.Errorf("Names() = %v, want one store", names)
	}
}

func TestHandle_PutAndMatch(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(0), 1, 1)

	h, err := r.OpenGeneration(ctx, RoleDynamic)
	if err != nil {
		t.Fatalf("OpenGeneration failed: %v", err)
	}

	key := mustKey(t, "https://shop.example.com/api/products")
	entry := &CacheEntry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
		Data:       []byte(`[{"id":1}]`),
	}

	if err := h.Put(ctx, key, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := h.Match(ctx, key)
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data mismatch: got %s, want %s", got.Data, entry.Data)
	}
	if got.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", got.StatusCode)
	}
	if got.Headers.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", got.Headers.Get("Content-Type"))
	}
}

func TestHandle_PutIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(0), 1, 1)
	h, _ := r.OpenGeneration(ctx, RoleStatic)

	key := mustKey(t, "https://shop.example.com/styles.css")
	for i := 0; i < 2; i++ {
		entry := &CacheEntry{StatusCode: 200, Data: []byte("body{}")}
		if err := h.Put(ctx, key, entry); err != nil {
			t.Fatalf("Put #%d failed: %v", i, err)
		}
	}

	keys, err := h.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Keys() = %v, want exactly one", keys)
	}
	got, err := h.Match(ctx, key)
	if err != nil || string(got.Data) != "body{}" {
		t.Errorf("Match() = %v, %v", got, err)
	}
}

func TestHandle_PutRejects(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(0), 1, 1)
	h, _ := r.OpenGeneration(ctx, RoleDynamic)

	u, _ := url.Parse("https://shop.example.com/api/orders")
	post := NewKey(http.MethodPost, u)
	if err := h.Put(ctx, post, &CacheEntry{StatusCode: 200}); !errors.Is(err, ErrNotRetrievable) {
		t.Errorf("Put(POST) error = %v, want ErrNotRetrievable", err)
	}
	if err := h.Put(ctx, NewKey(http.MethodGet, u), nil); err == nil {
		t.Error("Put(nil) should fail")
	}
	partial := &CacheEntry{StatusCode: http.StatusPartialContent, Data: []byte("body")}
	if err := h.Put(ctx, NewKey(http.MethodGet, u), partial); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Put(206) error = %v, want ErrInvalidEntry", err)
	}
}

func TestHandle_PutQuota(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(16), 1, 1)
	h, _ := r.OpenGeneration(ctx, RoleDynamic)

	err := h.Put(ctx, mustKey(t, "https://shop.example.com/big"), &CacheEntry{
		StatusCode: 200,
		Data:       make([]byte, 1024),
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Put() error = %v, want ErrQuotaExceeded", err)
	}
}

func TestRegistry_EvictStale(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)

	// Previous worker left v1 generations behind, next to another app's store.
	for _, name := range []string{"shopease-static-v1", "shopease-dynamic-v1", "othershop-static-v1", "shopease-enhanced-v3"} {
		if err := backend.Open(ctx, name); err != nil {
			t.Fatalf("Open(%s) failed: %v", name, err)
		}
	}

	// Fresh install produces static-v2; dynamic stays on v1.
	r := newTestRegistry(t, backend, 2, 1)
	if _, err := r.OpenGeneration(ctx, RoleStatic); err != nil {
		t.Fatalf("OpenGeneration failed: %v", err)
	}

	deleted, err := r.EvictStale(ctx, r.CurrentNames())
	if err != nil {
		t.Fatalf("EvictStale failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	names, _ := backend.Names(ctx)
	want := []string{"shopease-dynamic-v1", "othershop-static-v1", "shopease-static-v2"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Names() = %v, want %v", names, want)
	}
}

func TestRegistry_EvictStale_NothingStale(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(0), 1, 1)
	for _, role := range Roles {
		if _, err := r.OpenGeneration(ctx, role); err != nil {
			t.Fatalf("OpenGeneration failed: %v", err)
		}
	}

	deleted, err := r.EvictStale(ctx, r.CurrentNames())
	if err != nil {
		t.Fatalf("EvictStale failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestRegistry_Match_AnyGeneration(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, NewMemoryBackend(0), 1, 1)

	static, _ := r.OpenGeneration(ctx, RoleStatic)
	dynamic, _ := r.OpenGeneration(ctx, RoleDynamic)

	shell := mustKey(t, "https://shop.example.com/index.html")
	page := mustKey(t, "https://shop.example.com/products/42")

	if err := static.Put(ctx, shell, &CacheEntry{StatusCode: 200, Data: []byte("shell")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := dynamic.Put(ctx, page, &CacheEntry{StatusCode: 200, Data: []byte("page")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	tests := []struct {
		key     CacheKey
		want    string
		wantErr error
	}{
		{key: shell, want: "shell"},
		{key: page, want: "page"},
		{key: mustKey(t, "https://shop.example.com/nope"), wantErr: ErrCacheMiss},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			got, err := r.Match(ctx, tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Match() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && string(got.Data) != tt.want {
				t.Errorf("Match() = %q, want %q", got.Data, tt.want)
			}
		})
	}
}
