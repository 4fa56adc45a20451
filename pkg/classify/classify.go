// Package classify assigns intercepted requests to a caching class.
package classify

import (
	"net/http"
	"strings"

	"github.com/Sternrassler/shopease-worker/pkg/cache"
)

// Class is the caching class of a request.
type Class int

const (
	// Dynamic requests go network-first (or straight through when not GET).
	Dynamic Class = iota

	// Navigation requests load a page and need the offline shell fallback.
	Navigation

	// StaticAsset requests hit a path of the static manifest.
	StaticAsset
)

// String returns the class name used in logs and metric labels.
func (c Class) String() string {
	switch c {
	case Navigation:
		return "navigation"
	case StaticAsset:
		return "static"
	default:
		return "dynamic"
	}
}

// NavigateMode is the Sec-Fetch-Mode value browsers send for page loads.
const NavigateMode = "navigate"

// Manifest is the immutable ordered list of paths pre-populated at install.
type Manifest struct {
	paths []string
	set   map[string]struct{}
}

// DefaultPaths is the static manifest of the shipped storefront.
var DefaultPaths = []string{"/", "/index.html", "/styles.css", "/app.js", "/manifest.json", "/products.json"}

// NewManifest copies paths into a manifest. Duplicates keep their first position.
func NewManifest(paths []string) Manifest {
	m := Manifest{
		paths: make([]string, 0, len(paths)),
		set:   make(map[string]struct{}, len(paths)),
	}
	for _, p := range paths {
		if _, dup := m.set[p]; dup {
			continue
		}
		m.set[p] = struct{}{}
		m.paths = append(m.paths, p)
	}
	return m
}

// Contains reports whether path is exactly a manifest entry.
func (m Manifest) Contains(path string) bool {
	_, ok := m.set[path]
	return ok
}

// Paths returns a copy of the manifest in order.
func (m Manifest) Paths() []string {
	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// Len returns the number of manifest entries.
func (m Manifest) Len() int {
	return len(m.paths)
}

// Classifier is a pure function of request metadata and the manifest.
type Classifier struct {
	manifest Manifest
}

// New creates a classifier over manifest.
func New(manifest Manifest) *Classifier {
	return &Classifier{manifest: manifest}
}

// Manifest returns the classifier's manifest.
func (c *Classifier) Manifest() Manifest {
	return c.manifest
}

// Classify returns the class of req. Navigation wins over StaticAsset.
func (c *Classifier) Classify(req *http.Request) Class {
	if !Retrievable(req) {
		return Dynamic
	}
	if IsNavigation(req) {
		return Navigation
	}
	if c.manifest.Contains(req.URL.Path) {
		return StaticAsset
	}
	return Dynamic
}

// Retrievable reports whether req is a read-only request eligible for caching.
func Retrievable(req *http.Request) bool {
	return cache.CanonicalMethod(req.Method) == http.MethodGet
}

// IsNavigation reports whether req is a page navigation.
func IsNavigation(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), NavigateMode)
}
