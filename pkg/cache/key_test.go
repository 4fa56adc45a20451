package cache

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{
			name:   "simple path",
			method: http.MethodGet,
			url:    "https://shop.example.com/products.json",
			want:   "GET https://shop.example.com/products.json",
		},
		{
			name:   "empty method defaults to GET",
			method: "",
			url:    "https://shop.example.com/",
			want:   "GET https://shop.example.com/",
		},
		{
			name:   "lowercase method normalized",
			method: "get",
			url:    "https://shop.example.com/app.js",
			want:   "GET https://shop.example.com/app.js",
		},
		{
			name:   "query kept",
			method: http.MethodGet,
			url:    "https://shop.example.com/api/products?page=2",
			want:   "GET https://shop.example.com/api/products?page=2",
		},
		{
			name:   "fragment dropped",
			method: http.MethodGet,
			url:    "https://shop.example.com/index.html#cart",
			want:   "GET https://shop.example.com/index.html",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			if got := NewKey(tt.method, u).String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyForRequest(t *testing.T) {
	tests := []struct {
		method  string
		wantErr error
	}{
		{method: http.MethodGet},
		{method: "get"},
		{method: http.MethodPost, wantErr: ErrNotRetrievable},
		{method: http.MethodPut, wantErr: ErrNotRetrievable},
		{method: http.MethodDelete, wantErr: ErrNotRetrievable},
		{method: http.MethodHead, wantErr: ErrNotRetrievable},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "https://shop.example.com/api/cart", nil)
			key, err := KeyForRequest(req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("KeyForRequest() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && key.Method != http.MethodGet {
				t.Errorf("Method = %q, want GET", key.Method)
			}
		})
	}
}

func TestCanonicalMethod(t *testing.T) {
	tests := map[string]string{
		"":       http.MethodGet,
		"get":    http.MethodGet,
		" Get ":  http.MethodGet,
		"post":   http.MethodPost,
		"DELETE": http.MethodDelete,
	}
	for in, want := range tests {
		if got := CanonicalMethod(in); got != want {
			t.Errorf("CanonicalMethod(%q) = %q, want %q", in, got, want)
		}
	}

	u, _ := url.Parse("https://shop.example.com/styles.css")
	if NewKey("get", u) != NewKey(http.MethodGet, u) {
		t.Error("NewKey should normalize the method")
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	u, _ := url.Parse("https://shop.example.com/styles.css")
	key1 := NewKey(http.MethodGet, u)
	key2 := NewKey(http.MethodGet, u)

	if key1.String() != key2.String() {
		t.Errorf("Keys not deterministic: %s != %s", key1.String(), key2.String())
	}
}
