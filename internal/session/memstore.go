package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitabwire/coachbuilder/model"
)

// MemoryStore is an in-memory Store for tests and single-instance use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// Create persists a new session.
func (s *MemoryStore) Create(_ context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", sess.ID))
	}
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by id, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *MemoryStore) Update(_ context.Context, sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.sessions[sess.ID]
	if !exists || existing.TenantID != sess.TenantID {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sess.ID))
	}
	if existing.Version != sess.Version {
		return Session{}, model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d, got %d)", sess.ID, sess.Version, existing.Version),
		)
	}

	sess.Version++
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	delete(s.sessions, sessionID)
	return nil
}

// FindExpired returns sessions past their expiration time, oldest first.
func (s *MemoryStore) FindExpired(_ context.Context, cutoff time.Time) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Session
	for _, sess := range s.sessions {
		if sess.ExpiresAt == nil || !sess.ExpiresAt.Before(cutoff) {
			continue
		}
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// Len returns the number of sessions. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
