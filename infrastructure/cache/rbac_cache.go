package cache

import (
	"sort"
	"sync"
)

// Resource ties a named operation to the route that exposes it.
type Resource struct {
	Operation string
	Path      string
	Method    string
	Role      string
}

// RbacRolesCache stores the operations each role may call.
type RbacRolesCache struct {
	mu         sync.RWMutex
	resources  map[string][]Resource
	operations map[string]struct{}
}

func NewRbacRolesCache() *RbacRolesCache {
	return &RbacRolesCache{
		resources:  make(map[string][]Resource),
		operations: make(map[string]struct{}),
	}
}

func (c *RbacRolesCache) Add(role string, r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[role] = append(c.resources[role], r)
	c.operations[r.Operation] = struct{}{}
}

func (c *RbacRolesCache) ResourcesForRole(role string) []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Resource(nil), c.resources[role]...)
}

func (c *RbacRolesCache) OperationsSorted() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
