package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/coachbuilder/internal/config"
	"github.com/pitabwire/coachbuilder/model"
)

func TestNewLogger_levels(t *testing.T) {
	tests := []struct {
		configured string
		lowest     zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tt.configured})
		if err != nil {
			t.Fatalf("NewLogger(%q) = %v", tt.configured, err)
		}
		core := logger.Core()
		if !core.Enabled(tt.lowest) || (tt.lowest > zapcore.DebugLevel && core.Enabled(tt.lowest-1)) {
			t.Errorf("NewLogger(%q): lowest enabled level is not %s", tt.configured, tt.lowest)
		}
	}
}

func TestLoggerFrom(t *testing.T) {
	fallback := zap.NewNop()
	if LoggerFrom(context.Background(), fallback) != fallback {
		t.Error("empty context did not yield the fallback")
	}
	stored := zap.NewExample()
	if LoggerFrom(WithLogger(context.Background(), stored), fallback) != stored {
		t.Error("stored logger not returned")
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	author := &model.RequestContext{
		SubjectID:     "coach-ana",
		TenantID:      "riverside-golf",
		CorrelationID: "corr-17",
	}
	RequestLogger(model.WithRequestContext(context.Background(), author), base).Info("session created")

	traced := *author
	traced.TraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	ctx := WithLogger(model.WithRequestContext(context.Background(), &traced), base)
	RequestLogger(ctx, zap.NewNop()).Info("draft imported")

	RequestLogger(context.Background(), base).Info("catalog reloaded")

	entries := logs.AllUntimed()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	first := entries[0].ContextMap()
	if first["tenant_id"] != "riverside-golf" || first["subject_id"] != "coach-ana" || first["correlation_id"] != "corr-17" {
		t.Errorf("author fields = %v", first)
	}
	if _, ok := first["trace_id"]; ok {
		t.Error("trace_id logged without a trace")
	}
	if got := entries[1].ContextMap()["trace_id"]; got != traced.TraceID {
		t.Errorf("trace_id = %v", got)
	}
	if len(entries[2].Context) != 0 {
		t.Errorf("unauthenticated entry carries %v", entries[2].ContextMap())
	}
}

func TestValidationFields(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	zap.New(core).Warn("import rejected", ValidationFields([]model.ValidationError{
		{Path: "sport", Code: model.CodeRequired},
		{Path: "rules[0].phase", Code: model.CodeUnknownPhaseRef},
		{Path: "rule_set_id", Code: model.CodeRequired},
	})...)

	fields := logs.All()[0].ContextMap()
	if fields["error_count"] != int64(3) {
		t.Errorf("error_count = %v", fields["error_count"])
	}
	codes, _ := fields["error_codes"].([]any)
	if len(codes) != 2 || codes[0] != model.CodeRequired || codes[1] != model.CodeUnknownPhaseRef {
		t.Errorf("error_codes = %v", fields["error_codes"])
	}
}

func TestErrorCodes_empty(t *testing.T) {
	if got := ErrorCodes(nil); len(got) != 0 {
		t.Errorf("ErrorCodes(nil) = %v", got)
	}
}
