// Package testutil provides testing utilities for the ShopEase worker.
package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// ErrOffline is returned by the origin's transport while it is offline.
var ErrOffline = errors.New("testutil: origin offline")

// MockResponse defines the behavior for a mock origin path.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockOrigin is a configurable storefront origin for testing. It serves the
// default static manifest and can be switched offline, in which case its
// HTTPClient fails every request with a transport error.
type MockOrigin struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	offline  bool

	// Tracking
	RequestCount int
	PathCounts   map[string]int
	LastRequest  *http.Request
}

// DefaultAssets are the bodies served for the default static manifest.
var DefaultAssets = map[string]MockResponse{
	"/":               {StatusCode: http.StatusOK, Body: "<html>home</html>", Headers: map[string]string{"Content-Type": "text/html"}},
	"/index.html":     {StatusCode: http.StatusOK, Body: "<html>shell</html>", Headers: map[string]string{"Content-Type": "text/html"}},
	"/styles.css":     {StatusCode: http.StatusOK, Body: "body{margin:0}", Headers: map[string]string{"Content-Type": "text/css"}},
	"/app.js":         {StatusCode: http.StatusOK, Body: "console.log('shop')", Headers: map[string]string{"Content-Type": "application/javascript"}},
	"/manifest.json":  {StatusCode: http.StatusOK, Body: `{"name":"ShopEase"}`, Headers: map[string]string{"Content-Type": "application/manifest+json"}},
	"/products.json":  {StatusCode: http.StatusOK, Body: `[{"id":1,"name":"Mug"}]`, Headers: map[string]string{"Content-Type": "application/json"}},
	"/api/cart":       {StatusCode: http.StatusOK, Body: `{"items":[]}`, Headers: map[string]string{"Content-Type": "application/json"}},
	"/icons/icon.png": {StatusCode: http.StatusOK, Body: "png", Headers: map[string]string{"Content-Type": "image/png"}},
}

// NewMockOrigin creates a new mock origin serving DefaultAssets.
func NewMockOrigin() *MockOrigin {
	mock := &MockOrigin{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}
	for path, resp := range DefaultAssets {
		mock.SetResponse(path, resp)
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastRequest = r.Clone(r.Context())
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock origin URL.
func (m *MockOrigin) URL() string {
	return m.server.URL
}

// Close shuts down the mock origin.
func (m *MockOrigin) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequest = nil
}

// SetOffline toggles connectivity for requests sent through HTTPClient.
func (m *MockOrigin) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Offline reports whether the origin is currently unreachable.
func (m *MockOrigin) Offline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offline
}

// HTTPClient returns a client whose transport honours SetOffline.
// Redirects are not followed.
func (m *MockOrigin) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &offlineTransport{origin: m, next: m.server.Client().Transport},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SetHandler sets a custom handler for a specific path.
func (m *MockOrigin) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RemovePath makes path answer 404.
func (m *MockOrigin) RemovePath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a simple response for a path.
func (m *MockOrigin) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests that reached the origin.
func (m *MockOrigin) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests for path.
func (m *MockOrigin) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// NewOKResponse creates a 200 OK response with the given body.
func NewOKResponse(body, contentType string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": contentType},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "not found",
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

type offlineTransport struct {
	origin *MockOrigin
	next   http.RoundTripper
}

func (t *offlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.origin.Offline() {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, ErrOffline
	}
	return t.next.RoundTrip(req)
}
