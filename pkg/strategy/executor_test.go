package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/shopease-worker/internal/testutil"
	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/client"
	"github.com/Sternrassler/shopease-worker/pkg/event"
)

type fixture struct {
	origin   *testutil.MockOrigin
	backend  *cache.MemoryBackend
	registry *cache.Registry
	exec     *Executor
}

func newFixture(t *testing.T, quota int64) *fixture {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	netClient, err := client.New(client.DefaultConfig("ShopEase-Worker/test"))
	require.NoError(t, err)
	netClient.SetHTTPClient(origin.HTTPClient())

	backend := cache.NewMemoryBackend(quota)
	registry := cache.NewRegistry(backend, cache.DefaultRegistryConfig(), zerolog.Nop())
	classifier := classify.New(classify.NewManifest(classify.DefaultPaths))

	return &fixture{
		origin:   origin,
		backend:  backend,
		registry: registry,
		exec:     New(registry, classifier, netClient, DefaultConfig(), zerolog.Nop()),
	}
}

func (f *fixture) request(t *testing.T, method, path string, navigate bool) *http.Request {
	t.Helper()
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(`{"sku":"mug"}`)
	}
	req, err := http.NewRequest(method, f.origin.URL()+path, body)
	require.NoError(t, err)
	if navigate {
		req.Header.Set("Sec-Fetch-Mode", classify.NavigateMode)
	}
	return req
}

// handle runs one fetch event to completion.
func (f *fixture) handle(t *testing.T, req *http.Request) (*http.Response, error) {
	t.Helper()
	ev := event.New(context.Background(), event.TypeFetch)
	resp, err := f.exec.Handle(ev, req)
	ev.Settle()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ev.Wait(ctx))
	return resp, err
}

func (f *fixture) seed(t *testing.T, role cache.Role, path, body string) {
	t.Helper()
	ctx := context.Background()
	handle, err := f.registry.OpenGeneration(ctx, role)
	require.NoError(t, err)

	u, err := url.Parse(f.origin.URL() + path)
	require.NoError(t, err)
	require.NoError(t, handle.Put(ctx, cache.NewKey(http.MethodGet, u), &cache.CacheEntry{
		URL:        u.String(),
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Data:       []byte(body),
	}))
}

func (f *fixture) cached(t *testing.T, role cache.Role, path string) (*cache.CacheEntry, bool) {
	t.Helper()
	ctx := context.Background()
	handle, err := f.registry.OpenGeneration(ctx, role)
	require.NoError(t, err)

	u, err := url.Parse(f.origin.URL() + path)
	require.NoError(t, err)
	entry, err := handle.Match(ctx, cache.NewKey(http.MethodGet, u))
	if err != nil {
		require.ErrorIs(t, err, cache.ErrCacheMiss)
		return nil, false
	}
	return entry, true
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestCacheFirst_HitSkipsNetwork(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, cache.RoleStatic, "/styles.css", "cached css")

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/styles.css", false))
	require.NoError(t, err)

	assert.Equal(t, "cached css", readBody(t, resp))
	assert.Equal(t, 0, f.origin.GetRequestCount())
}

func TestCacheFirst_IgnoresDynamicGeneration(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, cache.RoleDynamic, "/app.js", "dynamic copy")

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/app.js", false))
	require.NoError(t, err)

	assert.Equal(t, testutil.DefaultAssets["/app.js"].Body, readBody(t, resp))
	assert.Equal(t, 1, f.origin.GetPathCount("/app.js"))
}

func TestCacheFirst_MissFetchesAndStores(t *testing.T) {
	f := newFixture(t, 0)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/styles.css", false))
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultAssets["/styles.css"].Body, readBody(t, resp))

	entry, ok := f.cached(t, cache.RoleStatic, "/styles.css")
	require.True(t, ok)
	assert.Equal(t, testutil.DefaultAssets["/styles.css"].Body, string(entry.Data))

	// Second request is served from the static generation.
	resp, err = f.handle(t, f.request(t, http.MethodGet, "/styles.css", false))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, 1, f.origin.GetPathCount("/styles.css"))
}

func TestCacheFirst_OfflineMissFails(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetOffline(true)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/styles.css", false))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, client.IsNetworkError(err))
}

func TestCacheFirst_ErrorStatusNotStored(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetResponse("/app.js", testutil.NewServerErrorResponse())

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/app.js", false))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	_, ok := f.cached(t, cache.RoleStatic, "/app.js")
	assert.False(t, ok)
}

// servePartial answers ranged requests with 206 and plain ones with full.
func servePartial(full string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", "bytes 0-3/*")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte(full[:4]))
			return
		}
		_, _ = w.Write([]byte(full))
	}
}

func TestCacheFirst_PartialContentNotStored(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetHandler("/styles.css", servePartial("body { color: red }"))

	req := f.request(t, http.MethodGet, "/styles.css", false)
	req.Header.Set("Range", "bytes=0-3")
	resp, err := f.handle(t, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "body", readBody(t, resp))

	_, ok := f.cached(t, cache.RoleStatic, "/styles.css")
	assert.False(t, ok)

	resp, err = f.handle(t, f.request(t, http.MethodGet, "/styles.css", false))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body { color: red }", readBody(t, resp))
	assert.Equal(t, 2, f.origin.GetPathCount("/styles.css"))

	entry, ok := f.cached(t, cache.RoleStatic, "/styles.css")
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
}

func TestCacheFirst_LowercaseMethodIsCached(t *testing.T) {
	f := newFixture(t, 0)

	req := f.request(t, http.MethodGet, "/styles.css", false)
	req.Method = "get"
	resp, err := f.handle(t, req)
	require.NoError(t, err)
	readBody(t, resp)

	_, ok := f.cached(t, cache.RoleStatic, "/styles.css")
	assert.True(t, ok)
}

func TestNetworkFirst_StoresOKResponse(t *testing.T) {
	f := newFixture(t, 0)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/api/cart", false))
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, readBody(t, resp))

	entry, ok := f.cached(t, cache.RoleDynamic, "/api/cart")
	require.True(t, ok)
	assert.Equal(t, `{"items":[]}`, string(entry.Data))
}

func TestNetworkFirst_NonOKNotStoredNoFallback(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockResponse
	}{
		{"server error", testutil.NewServerErrorResponse()},
		{"not found", testutil.NewNotFoundResponse()},
		{"no content", testutil.MockResponse{StatusCode: http.StatusNoContent}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.seed(t, cache.RoleDynamic, "/api/cart", "stale cart")
			f.origin.SetResponse("/api/cart", tt.response)

			resp, err := f.handle(t, f.request(t, http.MethodGet, "/api/cart", false))
			require.NoError(t, err)
			readBody(t, resp)
			assert.Equal(t, tt.response.StatusCode, resp.StatusCode)

			entry, ok := f.cached(t, cache.RoleDynamic, "/api/cart")
			require.True(t, ok)
			assert.Equal(t, "stale cart", string(entry.Data))
		})
	}
}

func TestNetworkFirst_OfflineServesAnyCache(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, cache.RoleStatic, "/api/cart", "from static")
	f.origin.SetOffline(true)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/api/cart", false))
	require.NoError(t, err)
	assert.Equal(t, "from static", readBody(t, resp))
}

func TestNetworkFirst_OfflineMissFails(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetOffline(true)

	_, err := f.handle(t, f.request(t, http.MethodGet, "/api/cart", false))
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrOffline)
}

func TestNavigate_StoresPageInDynamic(t *testing.T) {
	f := newFixture(t, 0)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/", true))
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultAssets["/"].Body, readBody(t, resp))

	_, ok := f.cached(t, cache.RoleDynamic, "/")
	assert.True(t, ok)
	_, ok = f.cached(t, cache.RoleStatic, "/")
	assert.False(t, ok)
}

func TestNavigate_ErrorStatusNoFallback(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, cache.RoleStatic, "/index.html", "shell")

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/checkout", true))
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, ok := f.cached(t, cache.RoleDynamic, "/checkout")
	assert.False(t, ok)
}

func TestNavigate_PartialContentNotStored(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetHandler("/catalog", servePartial("<html>catalog</html>"))

	req := f.request(t, http.MethodGet, "/catalog", true)
	req.Header.Set("Range", "bytes=0-3")
	resp, err := f.handle(t, req)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)

	_, ok := f.cached(t, cache.RoleDynamic, "/catalog")
	assert.False(t, ok)
}

func TestNavigate_OfflineFallbacks(t *testing.T) {
	t.Run("cached page", func(t *testing.T) {
		f := newFixture(t, 0)
		f.seed(t, cache.RoleDynamic, "/cart", "cart page")
		f.seed(t, cache.RoleStatic, "/index.html", "shell")
		f.origin.SetOffline(true)

		resp, err := f.handle(t, f.request(t, http.MethodGet, "/cart", true))
		require.NoError(t, err)
		assert.Equal(t, "cart page", readBody(t, resp))
	})

	t.Run("offline shell", func(t *testing.T) {
		f := newFixture(t, 0)
		f.seed(t, cache.RoleStatic, "/index.html", "shell")
		f.origin.SetOffline(true)

		resp, err := f.handle(t, f.request(t, http.MethodGet, "/orders?page=2", true))
		require.NoError(t, err)
		assert.Equal(t, "shell", readBody(t, resp))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("nothing cached", func(t *testing.T) {
		f := newFixture(t, 0)
		f.origin.SetOffline(true)

		resp, err := f.handle(t, f.request(t, http.MethodGet, "/orders", true))
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.True(t, client.IsNetworkError(err))
	})
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, 16)

	resp, err := f.handle(t, f.request(t, http.MethodGet, "/products.json", false))
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultAssets["/products.json"].Body, readBody(t, resp))

	_, ok := f.cached(t, cache.RoleStatic, "/products.json")
	assert.False(t, ok)
}

func TestNonGetPassesThroughUncached(t *testing.T) {
	f := newFixture(t, 0)
	f.origin.SetResponse("/api/cart", testutil.NewOKResponse(`{"ok":true}`, "application/json"))

	resp, err := f.handle(t, f.request(t, http.MethodPost, "/api/cart", false))
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, readBody(t, resp))
	assert.Equal(t, http.MethodPost, f.origin.LastRequest.Method)

	names, err := f.registry.Names(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNonGetOfflineFails(t *testing.T) {
	f := newFixture(t, 0)
	f.seed(t, cache.RoleDynamic, "/api/cart", "cached")
	f.origin.SetOffline(true)

	_, err := f.handle(t, f.request(t, http.MethodPost, "/api/cart", false))
	assert.Error(t, err)
}
