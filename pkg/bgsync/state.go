// Package bgsync implements deferred background synchronisation.
//
// The application registers a sync tag while offline. When connectivity
// returns, the host replays every pending tag as a sync event; the
// coordinator runs the reconciliation callback for its tag. Registrations
// are kept in a Store (memory or Redis) so they survive a worker restart.
package bgsync

import (
	"errors"
	"time"
)

// DefaultTag is the sync tag the coordinator reconciles.
const DefaultTag = "background-sync"

// DefaultMaxAttempts is the number of failed syncs after which a
// registration is dropped.
const DefaultMaxAttempts = 3

// DefaultRedisKeyPrefix prefixes the Redis keys of RedisStore.
const DefaultRedisKeyPrefix = "shopease:sync"

// ErrNotRegistered is returned for a tag without a pending registration.
var ErrNotRegistered = errors.New("bgsync: tag not registered")

// Registration is a pending sync request.
type Registration struct {
	// Tag identifies the sync request.
	Tag string `json:"tag"`

	// Attempts counts failed sync runs.
	Attempts int `json:"attempts"`

	// RegisteredAt is when the tag was first registered.
	RegisteredAt time.Time `json:"registered_at"`

	// LastAttempt is when the last failed run ended.
	LastAttempt time.Time `json:"last_attempt,omitempty"`

	// LastError is the message of the last failure.
	LastError string `json:"last_error,omitempty"`
}

// Exhausted reports whether the registration used up maxAttempts.
func (r *Registration) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && r.Attempts >= maxAttempts
}

// recordFailure counts one failed run.
func (r *Registration) recordFailure(err error, now time.Time) {
	r.Attempts++
	r.LastAttempt = now
	if err != nil {
		r.LastError = err.Error()
	}
}
