package cache

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CacheEntry is a stored response snapshot.
type CacheEntry struct {
	// URL is the request URL the response was stored under
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// OK reports whether the stored status is in the 2xx range.
func (e *CacheEntry) OK() bool {
	return IsSuccess(e.StatusCode)
}

// Size returns the body size in bytes.
func (e *CacheEntry) Size() int {
	return len(e.Data)
}

func marshalEntry(entry *CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func unmarshalEntry(data []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}
