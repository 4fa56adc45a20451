package precache

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/shopease-worker/internal/testutil"
	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/client"
)

func setup(t *testing.T) (*testutil.MockOrigin, *Populator, *url.URL) {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	netClient, err := client.New(client.DefaultConfig("ShopEase-Worker/test"))
	require.NoError(t, err)
	netClient.SetHTTPClient(origin.HTTPClient())

	base, err := url.Parse(origin.URL())
	require.NoError(t, err)

	return origin, NewPopulator(netClient, DefaultConfig()), base
}

func staticHandle(t *testing.T, quota int64) (*cache.Registry, *cache.Handle) {
	t.Helper()
	registry := cache.NewRegistry(cache.NewMemoryBackend(quota), cache.DefaultRegistryConfig(), zerolog.Nop())
	handle, err := registry.OpenGeneration(context.Background(), cache.RoleStatic)
	require.NoError(t, err)
	return registry, handle
}

func TestFetchAll_KeepsManifestOrder(t *testing.T) {
	_, populator, base := setup(t)

	assets, err := populator.FetchAll(context.Background(), base, classify.DefaultPaths)
	require.NoError(t, err)
	require.Len(t, assets, len(classify.DefaultPaths))

	for i, path := range classify.DefaultPaths {
		assert.Equal(t, path, assets[i].Path)
		assert.Equal(t, testutil.DefaultAssets[path].Body, string(assets[i].Entry.Data))
		assert.Equal(t, base.String()+path, assets[i].Key.URL)
	}
}

func TestPopulate_WritesEveryAsset(t *testing.T) {
	_, populator, base := setup(t)
	_, handle := staticHandle(t, 0)

	n, err := populator.Populate(context.Background(), base, classify.DefaultPaths, handle)
	require.NoError(t, err)
	assert.Equal(t, len(classify.DefaultPaths), n)

	keys, err := handle.Keys(context.Background())
	require.NoError(t, err)
	assert.Len(t, keys, len(classify.DefaultPaths))
}

func TestPopulate_MissingAssetWritesNothing(t *testing.T) {
	origin, populator, base := setup(t)
	origin.RemovePath("/app.js")
	_, handle := staticHandle(t, 0)

	n, err := populator.Populate(context.Background(), base, classify.DefaultPaths, handle)
	require.ErrorIs(t, err, ErrBadStatus)
	assert.Zero(t, n)

	keys, err := handle.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPopulate_PartialContentWritesNothing(t *testing.T) {
	origin, populator, base := setup(t)
	origin.SetResponse("/app.js", testutil.MockResponse{StatusCode: http.StatusPartialContent, Body: "cons"})
	_, handle := staticHandle(t, 0)

	n, err := populator.Populate(context.Background(), base, classify.DefaultPaths, handle)
	require.ErrorIs(t, err, ErrBadStatus)
	assert.Zero(t, n)

	keys, err := handle.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPopulate_OfflineWritesNothing(t *testing.T) {
	origin, populator, base := setup(t)
	origin.SetOffline(true)
	_, handle := staticHandle(t, 0)

	_, err := populator.Populate(context.Background(), base, classify.DefaultPaths, handle)
	require.Error(t, err)
	assert.True(t, client.IsNetworkError(err))

	keys, err := handle.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPopulate_QuotaFailure(t *testing.T) {
	_, populator, base := setup(t)
	_, handle := staticHandle(t, 64)

	_, err := populator.Populate(context.Background(), base, classify.DefaultPaths, handle)
	assert.ErrorIs(t, err, cache.ErrQuotaExceeded)
}

type countingFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	next     Fetcher
}

func (c *countingFetcher) Fetch(req *http.Request) (*http.Response, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if n <= peak || c.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return c.next.Fetch(req)
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	origin, _, base := setup(t)
	for _, path := range classify.DefaultPaths {
		resp := testutil.DefaultAssets[path]
		resp.Delay = 20 * time.Millisecond
		origin.SetResponse(path, resp)
	}

	netClient, err := client.New(client.DefaultConfig("ShopEase-Worker/test"))
	require.NoError(t, err)
	netClient.SetHTTPClient(origin.HTTPClient())

	counter := &countingFetcher{next: netClient}
	populator := NewPopulator(counter, Config{MaxConcurrency: 2})

	_, err = populator.FetchAll(context.Background(), base, classify.DefaultPaths)
	require.NoError(t, err)
	assert.LessOrEqual(t, counter.peak.Load(), int32(2))
}
