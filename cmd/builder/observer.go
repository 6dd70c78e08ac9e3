package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/session"
)

// sessionObserver turns session events into metrics and log lines.
type sessionObserver struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

func newSessionObserver(metrics *observability.Metrics, logger *zap.Logger) *sessionObserver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &sessionObserver{metrics: metrics, logger: logger}
}

func (o *sessionObserver) OnSessionEvent(ctx context.Context, ev session.Event) {
	if m := o.metrics; m != nil {
		m.RecordSessionEvent(ev.Kind, ev.Outcome, ev.Duration)
		switch ev.Kind {
		case session.EventAction:
			m.RecordAction(ev.Action, ev.Outcome)
		case session.EventImport:
			m.RecordImport(ev.Outcome)
			m.RecordValidationErrors("import", ev.Errors)
		case session.EventExport:
			m.RecordExport(ev.Outcome)
			m.RecordValidationErrors("export", ev.Errors)
		case session.EventValidate:
			m.RecordValidationErrors("session", ev.Errors)
		}
	}

	logger := observability.LoggerFrom(ctx, o.logger)
	fields := []zap.Field{
		zap.String("session_id", ev.SessionID),
		zap.String("kind", ev.Kind),
		zap.String("outcome", ev.Outcome),
		zap.Duration("duration", ev.Duration),
	}
	if ev.Action != "" {
		fields = append(fields, zap.String("action", ev.Action))
	}
	switch ev.Outcome {
	case session.OutcomeError:
		logger.Error("session operation failed", fields...)
	case session.OutcomeRejected, session.OutcomeInvalidDocument, session.OutcomeConflict:
		logger.Warn("session operation refused", append(fields, observability.ValidationFields(ev.Errors)...)...)
	default:
		logger.Debug("session operation", fields...)
	}
}
