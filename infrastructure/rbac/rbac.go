package rbac

import (
	"strings"

	"curetrack/infrastructure/cache"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// Actor is the authenticated caller of a processing operation.
type Actor struct {
	UserID int64
	Role   string
}

// Privileged reports whether the actor may run destructive operations.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleOperator
}

// Rbac stores route resources in cache.
type Rbac struct {
	cache *cache.RbacRolesCache
}

func New(c *cache.RbacRolesCache) *Rbac {
	return &Rbac{cache: c}
}

// Allow grants operation on method+path to each role.
func (r *Rbac) Allow(operation, method, path string, roles ...string) {
	if r == nil || r.cache == nil {
		return
	}
	for _, role := range roles {
		r.cache.Add(role, cache.Resource{
			Role:      role,
			Operation: operation,
			Method:    strings.ToUpper(method),
			Path:      path,
		})
	}
}

// Permits reports whether role may call method on urlPath.
func (r *Rbac) Permits(role, urlPath, method string) bool {
	if r == nil || r.cache == nil {
		return false
	}
	return ValidateResourceAccess(r.cache.ResourcesForRole(role), urlPath, method)
}

func ValidateResourceAccess(resources []cache.Resource, urlPath, method string) bool {
	method = strings.ToUpper(method)
	for _, res := range resources {
		if res.Method != method {
			continue
		}
		if matchPath(res.Path, urlPath) {
			return true
		}
	}
	return false
}

func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}

	pattern = strings.Trim(pattern, "/")
	path = strings.Trim(path, "/")

	patternSeg := strings.Split(pattern, "/")
	pathSeg := strings.Split(path, "/")

	// Segment wildcard matching: /a/*/c.
	if len(patternSeg) == len(pathSeg) {
		for i := range patternSeg {
			if patternSeg[i] == "*" {
				continue
			}
			if patternSeg[i] != pathSeg[i] {
				return false
			}
		}
		return true
	}
	return false
}
