package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Role is the logical purpose of a generation.
type Role int

const (
	// RoleStatic holds the pre-populated static manifest.
	RoleStatic Role = iota + 1

	// RoleDynamic accumulates entries opportunistically.
	RoleDynamic
)

// Roles lists every role in a stable order.
var Roles = []Role{RoleStatic, RoleDynamic}

// String returns the role name used in storage names.
func (r Role) String() string {
	switch r {
	case RoleStatic:
		return "static"
	case RoleDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// ParseRole converts a role name back to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static":
		return RoleStatic, nil
	case "dynamic":
		return RoleDynamic, nil
	default:
		return 0, fmt.Errorf("unknown cache role %q", s)
	}
}

// Generation identifies one versioned store of a role.
type Generation struct {
	Role    Role
	Version int
}

// Name formats the storage name: <prefix><role>-v<version>.
func (g Generation) Name(prefix string) string {
	return fmt.Sprintf("%s%s-v%d", prefix, g.Role, g.Version)
}

// ParseGeneration parses a storage name produced by Name.
// Returns false for names outside prefix or with an unknown layout.
func ParseGeneration(prefix, name string) (Generation, bool) {
	if !strings.HasPrefix(name, prefix) {
		return Generation{}, false
	}
	rest := strings.TrimPrefix(name, prefix)
	idx := strings.LastIndex(rest, "-v")
	if idx <= 0 {
		return Generation{}, false
	}
	role, err := ParseRole(rest[:idx])
	if err != nil {
		return Generation{}, false
	}
	version, err := strconv.Atoi(rest[idx+2:])
	if err != nil || version < 0 {
		return Generation{}, false
	}
	return Generation{Role: role, Version: version}, true
}
