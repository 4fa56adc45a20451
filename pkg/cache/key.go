package cache

import (
	"net/http"
	"net/url"
	"strings"
)

// CacheKey is the canonical identity of a cached request.
type CacheKey struct {
	// Method is the request method; only GET keys are storable
	Method string

	// URL is the absolute request URL without fragment
	URL string
}

// CanonicalMethod upper-cases method. An empty method means GET.
func CanonicalMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return http.MethodGet
	}
	return method
}

// NewKey builds a key from a method and URL.
func NewKey(method string, u *url.URL) CacheKey {
	method = CanonicalMethod(method)
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	return CacheKey{Method: method, URL: clean.String()}
}

// KeyForRequest returns the key for req.
// Returns ErrNotRetrievable for requests that must never be cached.
func KeyForRequest(req *http.Request) (CacheKey, error) {
	key := NewKey(req.Method, req.URL)
	if !key.Retrievable() {
		return CacheKey{}, ErrNotRetrievable
	}
	return key, nil
}

// Retrievable reports whether the key names a read-only request.
func (k CacheKey) Retrievable() bool {
	return k.Method == http.MethodGet
}

// String returns the storage form of the key.
// Format: METHOD URL
//
// Example:
//
//	GET https://shop.example.com/products.json
func (k CacheKey) String() string {
	return k.Method + " " + k.URL
}
