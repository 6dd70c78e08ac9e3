package ruleset

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// snapshot is an immutable set of published documents indexed by rule_set_id.
type snapshot struct {
	docs     map[string]Document
	checksum string
}

// Registry is a read-optimized, thread-safe store of published rule sets.
// Reads never lock; writers swap in a new snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given documents.
func NewRegistry(docs []Document) *Registry {
	r := &Registry{}
	r.Replace(docs)
	return r
}

// Replace atomically swaps the registry contents. A later document with the
// same rule_set_id replaces an earlier one.
func (r *Registry) Replace(docs []Document) {
	m := make(map[string]Document, len(docs))
	for _, d := range docs {
		m[d.RuleSet.RuleSetID] = d
	}
	r.snap.Store(newSnapshot(m))
}

// Publish adds or replaces one document without disturbing concurrent readers.
func (r *Registry) Publish(doc Document) {
	for {
		cur := r.snap.Load()
		m := make(map[string]Document, len(cur.docs)+1)
		for id, d := range cur.docs {
			m[id] = d
		}
		m[doc.RuleSet.RuleSetID] = doc
		if r.snap.CompareAndSwap(cur, newSnapshot(m)) {
			return
		}
	}
}

func newSnapshot(docs map[string]Document) *snapshot {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Checksum)
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return &snapshot{docs: docs, checksum: fmt.Sprintf("%x", sum)}
}

// Get returns the document with the given rule_set_id.
func (r *Registry) Get(ruleSetID string) (Document, bool) {
	d, ok := r.snap.Load().docs[ruleSetID]
	return d, ok
}

// All returns every document ordered by rule_set_id.
func (r *Registry) All() []Document {
	s := r.snap.Load()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleSet.RuleSetID < out[j].RuleSet.RuleSetID })
	return out
}

// Len returns the number of published documents.
func (r *Registry) Len() int {
	return len(r.snap.Load().docs)
}

// Checksum returns the combined checksum of all published documents.
func (r *Registry) Checksum() string {
	return r.snap.Load().checksum
}
