// Package registry keeps the loaded structure templates by id and swaps
// the whole set at once on reload.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync/atomic"

	"structcraft.ai/internal/sim/structure"
)

// Entry is a loaded template with where it came from.
type Entry struct {
	Template *structure.Template
	Source   string
	// Digest is the sha256 of the source file.
	Digest string
}

// Set maps structure id to entry.
type Set map[string]*Entry

type snapshot struct {
	set    Set
	ids    []string
	digest string
}

// Registry is safe for concurrent use. Readers always see a complete set.
type Registry struct {
	cur atomic.Pointer[snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.Replace(nil)
	return r
}

// Replace installs set. The caller must not modify set afterwards.
func (r *Registry) Replace(set Set) {
	if set == nil {
		set = Set{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
		h.Write([]byte(set[id].Digest))
		h.Write([]byte{'\n'})
	}
	r.cur.Store(&snapshot{set: set, ids: ids, digest: hex.EncodeToString(h.Sum(nil))})
}

func (r *Registry) Get(id string) (*structure.Template, bool) {
	e, ok := r.cur.Load().set[id]
	if !ok {
		return nil, false
	}
	return e.Template, true
}

func (r *Registry) Entry(id string) (*Entry, bool) {
	e, ok := r.cur.Load().set[id]
	return e, ok
}

// IDs returns the sorted ids. Callers must not modify the slice.
func (r *Registry) IDs() []string { return r.cur.Load().ids }

func (r *Registry) Len() int { return len(r.cur.Load().set) }

// Digest identifies the current set; it changes whenever any source does.
func (r *Registry) Digest() string { return r.cur.Load().digest }

// Reload loads dir with l and installs the result. Files that fail are
// reported and left out; the previous set is kept only when dir itself
// cannot be read.
func (r *Registry) Reload(l *Loader, dir string) ([]LoadError, error) {
	set, errs, err := l.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	r.Replace(set)
	return errs, nil
}
