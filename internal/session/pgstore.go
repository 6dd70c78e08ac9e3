package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/coachbuilder/model"
)

// Schema creates the table PgStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS draft_sessions (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	state       JSONB NOT NULL,
	version     INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS draft_sessions_expires_at ON draft_sessions (expires_at)
	WHERE expires_at IS NOT NULL;
`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL session store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the session table if it is missing.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create session table: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new session.
func (s *PgStore) Create(ctx context.Context, sess Session) error {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO draft_sessions (
			id, tenant_id, subject_id, state, version,
			created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.TenantID, sess.SubjectID, stateJSON, sess.Version,
		sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(fmt.Sprintf("session %q already exists", sess.ID))
	}
	return nil
}

// Get retrieves a session by id, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, sessionID string) (Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, subject_id, state, version,
		       created_at, updated_at, expires_at
		FROM draft_sessions
		WHERE id = $1 AND tenant_id = $2`,
		sessionID, tenantID,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	if err != nil {
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// Update persists an updated session with optimistic locking.
func (s *PgStore) Update(ctx context.Context, sess Session) (Session, error) {
	stateJSON, err := json.Marshal(sess.State)
	if err != nil {
		return Session{}, fmt.Errorf("marshal state: %w", err)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE draft_sessions SET
			state = $1,
			version = $2,
			updated_at = $3,
			expires_at = $4
		WHERE id = $5 AND tenant_id = $6 AND version = $7`,
		stateJSON, sess.Version+1, now, sess.ExpiresAt,
		sess.ID, sess.TenantID, sess.Version,
	)
	if err != nil {
		return Session{}, fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Session{}, model.NewConflictError(
			fmt.Sprintf("session %q version conflict (expected %d)", sess.ID, sess.Version),
		)
	}
	sess.Version++
	sess.UpdatedAt = now
	return sess, nil
}

// Delete removes a session.
func (s *PgStore) Delete(ctx context.Context, tenantID, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM draft_sessions
		WHERE id = $1 AND tenant_id = $2`,
		sessionID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("session %q not found", sessionID))
	}
	return nil
}

// FindExpired returns sessions past their expiration time, oldest first.
func (s *PgStore) FindExpired(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, subject_id, state, version,
		       created_at, updated_at, expires_at
		FROM draft_sessions
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	var stateJSON []byte
	if err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.SubjectID, &stateJSON, &sess.Version,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.ExpiresAt,
	); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(stateJSON, &sess.State); err != nil {
		return Session{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return sess, nil
}
