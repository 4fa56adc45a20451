package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the YAML form of the static manifest:
//
//	static:
//	  - /
//	  - /index.html
//	offlineShell: /index.html
type ManifestFile struct {
	Static       []string `yaml:"static"`
	OfflineShell string   `yaml:"offlineShell"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (ManifestFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ManifestFile{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(b)
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(b []byte) (ManifestFile, error) {
	var m ManifestFile
	if err := yaml.Unmarshal(b, &m); err != nil {
		return ManifestFile{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Static) == 0 {
		return ManifestFile{}, fmt.Errorf("manifest: static must list at least one path")
	}
	for i, p := range m.Static {
		if !strings.HasPrefix(p, "/") {
			return ManifestFile{}, fmt.Errorf("manifest: static[%d] %q must start with /", i, p)
		}
	}
	if m.OfflineShell != "" && !strings.HasPrefix(m.OfflineShell, "/") {
		return ManifestFile{}, fmt.Errorf("manifest: offlineShell %q must start with /", m.OfflineShell)
	}
	return m, nil
}
