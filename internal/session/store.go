// Package session keeps draft editing sessions. Each session holds the
// reducer state of one author's draft; edits to a session are applied one at
// a time and every stored update bumps its version.
package session

import (
	"context"
	"time"

	"github.com/pitabwire/coachbuilder/internal/draft"
)

// Session is one author's draft editing session.
type Session struct {
	ID        string      `json:"id"`
	TenantID  string      `json:"tenant_id"`
	SubjectID string      `json:"subject_id"`
	State     draft.State `json:"state"`
	Version   int         `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ExpiresAt *time.Time  `json:"expires_at,omitempty"`
}

// Store persists sessions.
type Store interface {
	// Create persists a new session. Returns CONFLICT if the id is taken.
	Create(ctx context.Context, s Session) error

	// Get retrieves a session by id, scoped to a tenant. Returns NOT_FOUND
	// if the session doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, sessionID string) (Session, error)

	// Update persists s with optimistic locking. s.Version must match the
	// stored version; the stored copy is returned with its version bumped.
	// Returns CONFLICT if the version has changed.
	Update(ctx context.Context, s Session) (Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, tenantID, sessionID string) error

	// FindExpired returns sessions whose expires_at is before cutoff.
	FindExpired(ctx context.Context, cutoff time.Time) ([]Session, error)
}
