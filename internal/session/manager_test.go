package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/transfer"
	"github.com/pitabwire/coachbuilder/model"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (o *recordingObserver) OnSessionEvent(_ context.Context, ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) last() Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[len(o.events)-1]
}

type fixedProfiles struct {
	profile *model.ProfileCapability
	err     error
}

func (p fixedProfiles) ForRuleSet(model.RuleSet) (*model.ProfileCapability, error) {
	return p.profile, p.err
}

func testRctx() *model.RequestContext {
	return &model.RequestContext{SubjectID: "coach-alice", TenantID: "tenant-1"}
}

func newTestManager(opts ...ManagerOption) (*Manager, *MemoryStore) {
	store := NewMemoryStore()
	return NewManager(store, time.Hour, opts...), store
}

func exportedDocument(t *testing.T, mutate func(d *draft.CoachDraft)) []byte {
	t.Helper()
	d := draft.New()
	d.RuleSetID = "imported"
	if mutate != nil {
		mutate(&d)
	}
	out, err := transfer.Export(d, transfer.ExportOptions{})
	require.NoError(t, err)
	return out.Data
}

func TestManager_Create(t *testing.T) {
	obs := &recordingObserver{}
	m, store := newTestManager(WithObserver(obs))

	sess, err := m.Create(context.Background(), testRctx())
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, sess.Version)
	assert.Equal(t, "tenant-1", sess.TenantID)
	require.NotNil(t, sess.ExpiresAt)
	assert.Equal(t, sess.CreatedAt.Add(time.Hour), *sess.ExpiresAt)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, EventCreated, obs.last().Kind)
}

func TestManager_Apply(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, err := m.Create(ctx, testRctx())
	require.NoError(t, err)

	sess, err = m.Apply(ctx, testRctx(), sess.ID, sess.Version, draft.StepAdd{})
	require.NoError(t, err)

	assert.Equal(t, 2, sess.Version)
	assert.Len(t, sess.State.Draft.Steps, 2)
	assert.Equal(t, sess.State.Draft.Steps[1].ID, sess.State.SelectedStepID)

	ev := obs.last()
	assert.Equal(t, EventAction, ev.Kind)
	assert.Equal(t, draft.ActionStepAdd, ev.Action)
	assert.Equal(t, OutcomeOK, ev.Outcome)
	assert.Equal(t, "coach-alice", ev.SubjectID)
}

func TestManager_ApplyDecodedAction(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	action, err := draft.DecodeAction([]byte(`{"type": "meta/patch", "title": "Drive"}`))
	require.NoError(t, err)

	sess, err = m.Apply(ctx, testRctx(), sess.ID, 0, action)
	require.NoError(t, err)
	assert.Equal(t, "Drive", sess.State.Draft.Title)
}

func TestManager_ApplyStaleVersion(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())
	_, err := m.Apply(ctx, testRctx(), sess.ID, sess.Version, draft.StepAdd{})
	require.NoError(t, err)

	_, err = m.Apply(ctx, testRctx(), sess.ID, sess.Version, draft.StepAdd{})
	require.Error(t, err)

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, model.ErrConflict, env.Code)
	assert.Equal(t, OutcomeConflict, obs.last().Outcome)
}

func TestManager_ApplyOtherTenant(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	other := &model.RequestContext{SubjectID: "coach-bob", TenantID: "tenant-2"}
	_, err := m.Apply(ctx, other, sess.ID, 0, draft.StepAdd{})

	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, model.ErrNotFound, env.Code)
}

func TestManager_ApplySerializesConcurrentEdits(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Apply(ctx, testRctx(), sess.ID, 0, draft.StepAdd{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.Get(ctx, testRctx(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1+n, got.Version)
	assert.Len(t, got.State.Draft.Steps, 1+n)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Empty(t, m.locks)
}

func TestManager_ImportAccepted(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	sess, res, err := m.Import(ctx, testRctx(), sess.ID, 0, exportedDocument(t, nil))
	require.NoError(t, err)
	require.True(t, res.Accepted(), "errors: %v", res.Errors)

	assert.Equal(t, 2, sess.Version)
	assert.Equal(t, "imported", sess.State.Draft.RuleSetID)
	assert.Equal(t, OutcomeOK, obs.last().Outcome)
}

func TestManager_ImportRejectedLeavesDraft(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	doc := exportedDocument(t, func(d *draft.CoachDraft) { d.Sport = "" })
	got, res, err := m.Import(ctx, testRctx(), sess.ID, 0, doc)
	require.NoError(t, err)
	require.False(t, res.Accepted())

	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "new_rule_set", got.State.Draft.RuleSetID)
	assert.Equal(t, "sport", res.Errors[0].Path)
	assert.Equal(t, OutcomeRejected, obs.last().Outcome)

	stored, _ := m.Get(ctx, testRctx(), sess.ID)
	assert.Equal(t, 1, stored.Version)
}

func TestManager_ImportInvalidDocument(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	_, _, err := m.Import(ctx, testRctx(), sess.ID, 0, []byte(`["not", "an", "object"]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, transfer.ErrInvalidDocument))
	assert.Equal(t, OutcomeInvalidDocument, obs.last().Outcome)
}

func TestManager_ImportLoadFailureIsObserved(t *testing.T) {
	obs := &recordingObserver{}
	m, _ := newTestManager(WithObserver(obs))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	_, _, err := m.Import(ctx, testRctx(), sess.ID, sess.Version+1, exportedDocument(t, nil))
	require.Error(t, err)
	ev := obs.last()
	assert.Equal(t, EventImport, ev.Kind)
	assert.Equal(t, OutcomeConflict, ev.Outcome)

	_, _, err = m.Import(ctx, testRctx(), "missing", 0, exportedDocument(t, nil))
	require.Error(t, err)
	ev = obs.last()
	assert.Equal(t, EventImport, ev.Kind)
	assert.Equal(t, "missing", ev.SessionID)
	assert.Equal(t, OutcomeError, ev.Outcome)
}

func TestManager_ImportUsesProfiles(t *testing.T) {
	profile := &model.ProfileCapability{ID: "narrow", SupportedConditionTypes: []model.ConditionType{model.ConditionBoolean}}
	m, _ := newTestManager(WithProfiles(fixedProfiles{profile: profile}))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	_, res, err := m.Import(ctx, testRctx(), sess.ID, 0, exportedDocument(t, nil))
	require.NoError(t, err)
	assert.False(t, res.Accepted())
}

func TestManager_Export(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())
	fps := draft.NumberText("thirty")
	_, err := m.Apply(ctx, testRctx(), sess.ID, 0, draft.MetaPatch{ExpectedFPS: &fps})
	require.NoError(t, err)

	out, err := m.Export(ctx, testRctx(), sess.ID, transfer.ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new_rule_set.json", out.Filename)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "inputs.expected_fps", out.Issues[0].Path)

	var rs model.RuleSet
	require.NoError(t, json.Unmarshal(out.Data, &rs))
	assert.Equal(t, "2.0.0", rs.SchemaVersion)

	_, err = m.Export(ctx, testRctx(), sess.ID, transfer.ExportOptions{Strict: true})
	assert.ErrorIs(t, err, transfer.ErrUnparsableFields)
}

func TestManager_Validate(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	errs, err := m.Validate(ctx, testRctx(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, errs)

	empty := ""
	_, err = m.Apply(ctx, testRctx(), sess.ID, 0, draft.MetaPatch{Sport: &empty})
	require.NoError(t, err)

	errs, err = m.Validate(ctx, testRctx(), sess.ID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, model.ValidationError{Path: "sport", Code: model.CodeRequired}, errs[0])
}

func TestManager_ValidateUnknownProfile(t *testing.T) {
	m, _ := newTestManager(WithProfiles(fixedProfiles{err: errors.New("unknown")}))
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	errs, err := m.Validate(ctx, testRctx(), sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
	assert.Equal(t, model.CodeInvalidMetricProfile, errs[0].Code)
}

func TestManager_Delete(t *testing.T) {
	m, store := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, testRctx())

	require.NoError(t, m.Delete(ctx, testRctx(), sess.ID))
	assert.Equal(t, 0, store.Len())
	assert.Error(t, m.Delete(ctx, testRctx(), sess.ID))
}

func TestManager_ProcessExpired(t *testing.T) {
	obs := &recordingObserver{}
	m, store := newTestManager(WithObserver(obs))
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	old, _ := m.Create(ctx, testRctx())
	clock = clock.Add(30 * time.Minute)
	_, _ = m.Create(ctx, testRctx())
	clock = clock.Add(45 * time.Minute)

	removed, err := m.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	_, err = m.Get(ctx, testRctx(), old.ID)
	assert.Error(t, err)
	assert.Equal(t, EventExpired, obs.last().Kind)
}

func TestManager_ZeroTTLNeverExpires(t *testing.T) {
	m := NewManager(NewMemoryStore(), 0)
	sess, err := m.Create(context.Background(), testRctx())
	require.NoError(t, err)
	assert.Nil(t, sess.ExpiresAt)
}
