package security

import "sync/atomic"

// Registry holds the current set of allowed directories.
//
// The set is never edited in place. Replace installs a fresh slice with a
// single pointer swap and Snapshot hands out that slice, so a reader that
// took a snapshot keeps seeing exactly that list for as long as it holds it.
type Registry struct {
	dirs atomic.Pointer[[]string]
}

// NewRegistry returns a registry seeded with dirs.
func NewRegistry(dirs []string) *Registry {
	r := &Registry{}
	r.Replace(dirs)
	return r
}

// Replace atomically installs a copy of dirs as the new allowed set.
func (r *Registry) Replace(dirs []string) {
	next := make([]string, len(dirs))
	copy(next, dirs)
	r.dirs.Store(&next)
}

// Snapshot returns the current allowed set. Callers must not modify it.
func (r *Registry) Snapshot() []string {
	p := r.dirs.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of allowed directories.
func (r *Registry) Len() int {
	return len(r.Snapshot())
}
