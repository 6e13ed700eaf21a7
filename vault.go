package luckperms

import (
	"sort"
	"sync"
)

// Vault tracks the universe of permission strings seen anywhere in the
// service (mutations, resolutions, loaded records) independent of who
// holds them.
// It backs Service.Descriptions: strings without an explicit registration
// surface as placeholder descriptions.
type Vault struct {
	mu    sync.RWMutex
	known map[string]struct{}
}

func newVault() *Vault {
	return &Vault{known: map[string]struct{}{}}
}

// offer records a permission string. Cheap when already known.
func (v *Vault) offer(permission string) {
	if permission == "" {
		return
	}
	v.mu.RLock()
	_, ok := v.known[permission]
	v.mu.RUnlock()
	if ok {
		return
	}
	v.mu.Lock()
	v.known[permission] = struct{}{}
	v.mu.Unlock()
}

// Known returns every observed permission string, sorted.
func (v *Vault) Known() []string {
	v.mu.RLock()
	out := make([]string, 0, len(v.known))
	for p := range v.known {
		out = append(out, p)
	}
	v.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Contains reports whether the permission string has been observed.
func (v *Vault) Contains(permission string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.known[permission]
	return ok
}

// Size returns the number of observed permission strings.
func (v *Vault) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.known)
}
