package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/session"
	"github.com/pitabwire/coachbuilder/model"
)

func TestSessionObserver_action(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	obs := newSessionObserver(m, zap.NewNop())

	obs.OnSessionEvent(context.Background(), session.Event{
		Kind: session.EventAction, SessionID: "s-1", Action: "step/add", Outcome: session.OutcomeOK, Duration: time.Millisecond,
	})

	if got := testutil.ToFloat64(m.SessionActionsTotal.WithLabelValues("step/add", "ok")); got != 1 {
		t.Errorf("actions[step/add,ok] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionEventsTotal.WithLabelValues("action", "ok")); got != 1 {
		t.Errorf("events[action,ok] = %v, want 1", got)
	}
}

func TestSessionObserver_rejectedImport(t *testing.T) {
	m := observability.InitMetrics(prometheus.NewRegistry())
	core, logs := observer.New(zap.DebugLevel)
	obs := newSessionObserver(m, zap.New(core))

	obs.OnSessionEvent(context.Background(), session.Event{
		Kind:    session.EventImport,
		Outcome: session.OutcomeRejected,
		Errors: []model.ValidationError{
			{Path: "phases", Code: model.CodeRequired},
			{Path: "rules", Code: model.CodeRequired},
		},
	})

	if got := testutil.ToFloat64(m.ImportsTotal.WithLabelValues("rejected")); got != 1 {
		t.Errorf("imports[rejected] = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ValidationErrorsTotal.WithLabelValues("import", model.CodeRequired)); got != 2 {
		t.Errorf("validation_errors[import,required] = %v, want 2", got)
	}
	entries := logs.FilterMessage("session operation refused").All()
	if len(entries) != 1 {
		t.Fatalf("refused log entries = %d, want 1", len(entries))
	}
	if entries[0].ContextMap()["error_count"] != int64(2) {
		t.Errorf("error_count = %v, want 2", entries[0].ContextMap()["error_count"])
	}
}

func TestSessionObserver_nilMetrics(t *testing.T) {
	obs := newSessionObserver(nil, nil)
	obs.OnSessionEvent(context.Background(), session.Event{Kind: session.EventExport, Outcome: session.OutcomeError})
}
