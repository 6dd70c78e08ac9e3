package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/model"
)

// Event kinds reported to observers.
const (
	EventCreated  = "created"
	EventAction   = "action"
	EventImport   = "import"
	EventExport   = "export"
	EventValidate = "validate"
	EventDeleted  = "deleted"
	EventExpired  = "expired"
)

// Event outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeRejected        = "rejected"
	OutcomeInvalidDocument = "invalid_document"
	OutcomeConflict        = "conflict"
	OutcomeError           = "error"
)

// Observer receives session lifecycle events. Implementations may record
// metrics or audit logs.
type Observer interface {
	OnSessionEvent(ctx context.Context, event Event)
}

// Event describes one session operation.
type Event struct {
	Kind      string                  `json:"kind"`
	SessionID string                  `json:"session_id"`
	TenantID  string                  `json:"tenant_id"`
	SubjectID string                  `json:"subject_id"`
	Action    string                  `json:"action,omitempty"`
	Outcome   string                  `json:"outcome"`
	Errors    []model.ValidationError `json:"errors,omitempty"`
	Duration  time.Duration           `json:"duration"`
}

// Manager applies edits to draft sessions. Operations on one session are
// serialized; different sessions proceed in parallel.
type Manager struct {
	store     Store
	ttl       time.Duration
	profiles  transfer.ProfileResolver
	observers []Observer
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// ManagerOption configures optional dependencies.
type ManagerOption func(*Manager)

// WithProfiles sets the resolver that gates imports and validation by
// capability profile.
func WithProfiles(r transfer.ProfileResolver) ManagerOption {
	return func(m *Manager) { m.profiles = r }
}

// WithObserver adds a session observer.
func WithObserver(obs Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, obs) }
}

// NewManager creates a Manager. Sessions expire ttl after their last update;
// a zero ttl keeps them until deleted.
func NewManager(store Store, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create starts a session holding a fresh draft.
func (m *Manager) Create(ctx context.Context, rctx *model.RequestContext) (Session, error) {
	now := m.now()
	sess := Session{
		ID:        uuid.New().String(),
		TenantID:  rctx.TenantID,
		SubjectID: rctx.SubjectID,
		State:     draft.NewState(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: m.expiry(now),
	}
	if err := m.store.Create(ctx, sess); err != nil {
		return Session{}, err
	}
	m.notify(ctx, Event{Kind: EventCreated, SessionID: sess.ID, Outcome: OutcomeOK}, rctx, now)
	return sess, nil
}

// Get returns a session.
func (m *Manager) Get(ctx context.Context, rctx *model.RequestContext, sessionID string) (Session, error) {
	return m.store.Get(ctx, rctx.TenantID, sessionID)
}

// Apply runs action through the reducer and stores the result. A version
// greater than zero must match the session's current version. Actions that
// do not apply leave the draft unchanged but still count as an update.
func (m *Manager) Apply(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	version int,
	action draft.Action,
) (Session, error) {
	start := m.now()
	ctx, span := observability.StartSpan(ctx, "session.Apply",
		observability.AttrSessionID.String(sessionID),
		observability.AttrAction.String(action.Type()))

	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.load(ctx, rctx, sessionID, version)
	if err != nil {
		observability.EndSpanWithError(span, err)
		m.notify(ctx, Event{Kind: EventAction, SessionID: sessionID, Action: action.Type(), Outcome: outcome(err)}, rctx, start)
		return Session{}, err
	}

	sess.State = draft.Reduce(sess.State, action)
	sess, err = m.save(ctx, sess)
	observability.EndSpanWithError(span, err)
	m.notify(ctx, Event{Kind: EventAction, SessionID: sessionID, Action: action.Type(), Outcome: outcome(err)}, rctx, start)
	return sess, err
}

// Import replaces the session's draft with an uploaded document. A document
// with validation errors leaves the session untouched and the errors are
// returned in the result. A malformed document returns an error wrapping
// transfer.ErrInvalidDocument.
func (m *Manager) Import(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	version int,
	data []byte,
) (Session, transfer.ImportResult, error) {
	start := m.now()
	ctx, span := observability.StartSpan(ctx, "session.Import", observability.AttrSessionID.String(sessionID))

	unlock := m.lock(sessionID)
	defer unlock()

	sess, err := m.load(ctx, rctx, sessionID, version)
	if err != nil {
		observability.EndSpanWithError(span, err)
		m.notify(ctx, Event{Kind: EventImport, SessionID: sessionID, Outcome: outcome(err)}, rctx, start)
		return Session{}, transfer.ImportResult{}, err
	}

	res, err := transfer.Import(data, transfer.ImportOptions{Profiles: m.profiles})
	if err != nil {
		observability.EndSpanWithError(span, err)
		m.notify(ctx, Event{Kind: EventImport, SessionID: sessionID, Outcome: OutcomeInvalidDocument}, rctx, start)
		return sess, transfer.ImportResult{}, err
	}
	observability.AnnotateRuleSet(span, res.RuleSet)
	observability.AnnotateValidation(span, res.Errors)
	if !res.Accepted() {
		span.End()
		m.notify(ctx, Event{Kind: EventImport, SessionID: sessionID, Outcome: OutcomeRejected, Errors: res.Errors}, rctx, start)
		return sess, res, nil
	}

	sess.State = draft.Reduce(sess.State, draft.DraftReplace{Draft: res.Draft})
	sess, err = m.save(ctx, sess)
	observability.EndSpanWithError(span, err)
	m.notify(ctx, Event{Kind: EventImport, SessionID: sessionID, Outcome: outcome(err)}, rctx, start)
	return sess, res, err
}

// Export renders the session's draft as a downloadable document.
func (m *Manager) Export(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	opts transfer.ExportOptions,
) (transfer.Exported, error) {
	start := m.now()
	ctx, span := observability.StartSpan(ctx, "session.Export", observability.AttrSessionID.String(sessionID))

	sess, err := m.store.Get(ctx, rctx.TenantID, sessionID)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return transfer.Exported{}, err
	}
	out, err := transfer.Export(sess.State.Draft, opts)
	observability.AnnotateRuleSet(span, out.RuleSet)
	observability.AnnotateValidation(span, out.Issues)
	observability.EndSpanWithError(span, err)
	ev := Event{Kind: EventExport, SessionID: sessionID, Outcome: OutcomeOK, Errors: out.Issues}
	if errors.Is(err, transfer.ErrUnparsableFields) {
		ev.Outcome = OutcomeRejected
	} else if err != nil {
		ev.Outcome = OutcomeError
	}
	m.notify(ctx, ev, rctx, start)
	return out, err
}

// Validate returns every problem the session's draft would export with:
// fields replaced by fallback values followed by validation errors of the
// exported document.
func (m *Manager) Validate(ctx context.Context, rctx *model.RequestContext, sessionID string) ([]model.ValidationError, error) {
	start := m.now()
	ctx, span := observability.StartSpan(ctx, "session.Validate", observability.AttrSessionID.String(sessionID))
	defer span.End()

	sess, err := m.store.Get(ctx, rctx.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	out, err := transfer.Export(sess.State.Draft, transfer.ExportOptions{})
	if err != nil {
		return nil, err
	}
	errs := append(out.Issues, transfer.Validate(out.RuleSet, transfer.ImportOptions{Profiles: m.profiles})...)
	observability.AnnotateRuleSet(span, out.RuleSet)
	observability.AnnotateValidation(span, errs)
	m.notify(ctx, Event{Kind: EventValidate, SessionID: sessionID, Outcome: OutcomeOK, Errors: errs}, rctx, start)
	return errs, nil
}

// Delete removes a session.
func (m *Manager) Delete(ctx context.Context, rctx *model.RequestContext, sessionID string) error {
	unlock := m.lock(sessionID)
	defer unlock()

	if err := m.store.Delete(ctx, rctx.TenantID, sessionID); err != nil {
		return err
	}
	m.notify(ctx, Event{Kind: EventDeleted, SessionID: sessionID, Outcome: OutcomeOK}, rctx, m.now())
	return nil
}

// ProcessExpired deletes sessions past their expiry and returns how many
// were removed. Failures on one session do not stop the sweep.
func (m *Manager) ProcessExpired(ctx context.Context) (int, error) {
	expired, err := m.store.FindExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	removed := 0
	for _, sess := range expired {
		if err := m.store.Delete(ctx, sess.TenantID, sess.ID); err != nil {
			continue
		}
		removed++
		rctx := &model.RequestContext{TenantID: sess.TenantID, SubjectID: sess.SubjectID}
		m.notify(ctx, Event{Kind: EventExpired, SessionID: sess.ID, Outcome: OutcomeOK}, rctx, m.now())
	}
	return removed, nil
}

func (m *Manager) load(ctx context.Context, rctx *model.RequestContext, sessionID string, version int) (Session, error) {
	sess, err := m.store.Get(ctx, rctx.TenantID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if version > 0 && version != sess.Version {
		return Session{}, model.NewConflictError(
			fmt.Sprintf("session %q is at version %d, not %d", sessionID, sess.Version, version),
		)
	}
	return sess, nil
}

func (m *Manager) save(ctx context.Context, sess Session) (Session, error) {
	sess.ExpiresAt = m.expiry(m.now())
	return m.store.Update(ctx, sess)
}

func (m *Manager) expiry(now time.Time) *time.Time {
	if m.ttl <= 0 {
		return nil
	}
	exp := now.Add(m.ttl)
	return &exp
}

// lock serializes operations on one session and returns the release func.
func (m *Manager) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) notify(ctx context.Context, ev Event, rctx *model.RequestContext, start time.Time) {
	if len(m.observers) == 0 {
		return
	}
	ev.TenantID = rctx.TenantID
	ev.SubjectID = rctx.SubjectID
	ev.Duration = m.now().Sub(start)
	for _, obs := range m.observers {
		obs.OnSessionEvent(ctx, ev)
	}
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) && env.Code == model.ErrConflict {
		return OutcomeConflict
	}
	return OutcomeError
}
