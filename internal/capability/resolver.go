// Package capability loads the profile capability table and metric catalog
// and resolves the profile a rule set is gated by.
package capability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/coachbuilder/model"
)

// ErrUnknownProfile is returned when a profile id is not in the catalog.
var ErrUnknownProfile = errors.New("capability: unknown profile")

// Resolver serves catalog lookups from memory. Data older than the TTL is
// reloaded from the source on the next lookup; a zero TTL never reloads.
type Resolver struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	snap    Snapshot
	expires time.Time
	lastErr error
	onSync  func(Snapshot, error)
}

// NewResolver creates a Resolver and performs the initial load.
func NewResolver(source Source, ttl time.Duration) (*Resolver, error) {
	r := &Resolver{source: source, ttl: ttl, now: time.Now}
	if err := r.Sync(); err != nil {
		return nil, err
	}
	return r, nil
}

// OnSync registers fn to be called after every load attempt with the
// snapshot in use and the load error, if any.
func (r *Resolver) OnSync(fn func(Snapshot, error)) {
	r.mu.Lock()
	r.onSync = fn
	r.mu.Unlock()
}

// Sync reloads from the source. On failure the previous data stays in use.
func (r *Resolver) Sync() error {
	snap, err := r.source.Load()

	r.mu.Lock()
	r.lastErr = err
	r.expires = r.now().Add(r.ttl)
	if err == nil {
		r.snap = snap
	}
	current, hook := r.snap, r.onSync
	r.mu.Unlock()

	if hook != nil {
		hook(current, err)
	}
	return err
}

// current returns the snapshot, reloading it first when the TTL has passed.
func (r *Resolver) current() Snapshot {
	r.mu.RLock()
	expired := r.ttl > 0 && !r.now().Before(r.expires)
	snap := r.snap
	r.mu.RUnlock()

	if expired {
		if err := r.Sync(); err == nil {
			r.mu.RLock()
			snap = r.snap
			r.mu.RUnlock()
		}
	}
	return snap
}

// Catalog returns the profile capability table.
func (r *Resolver) Catalog() model.CapabilityCatalog {
	return r.current().Capabilities
}

// Metrics returns the metric catalog.
func (r *Resolver) Metrics() model.MetricCatalog {
	return r.current().Metrics
}

// Profile returns the profile with the given id.
func (r *Resolver) Profile(id string) (*model.ProfileCapability, error) {
	cat := r.Catalog()
	if p := cat.Profile(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
}

// ProfileID picks the profile that gates rs: its metric_profile id, then the
// catalog default, then generic_core.
func (r *Resolver) ProfileID(rs model.RuleSet) string {
	if mp := rs.MetricProfile; mp != nil && mp.ID != "" {
		return mp.ID
	}
	if id := r.Catalog().DefaultProfileID; id != "" {
		return id
	}
	return model.DefaultProfileID
}

// ForRuleSet returns the profile that gates rs.
func (r *Resolver) ForRuleSet(rs model.RuleSet) (*model.ProfileCapability, error) {
	return r.Profile(r.ProfileID(rs))
}

// Ping reports the outcome of the most recent load, for readiness checks.
func (r *Resolver) Ping() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}
