package ruleset

import (
	"errors"
	"testing"

	"github.com/pitabwire/coachbuilder/model"
)

func v1RuleSet() model.RuleSet {
	rs := validRuleSet()
	rs.SchemaVersion = "1.2.0"
	rs.MetricProfile = nil
	rs.Globals = map[string]any{"units": "metric"}
	return rs
}

func TestSchemaMajor(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"1.0.0", 1, false},
		{" 2.10.3 ", 2, false},
		{"2.0", 0, true},
		{"v2.0.0", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := SchemaMajor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SchemaMajor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("SchemaMajor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMigrateV1ToV2_generic(t *testing.T) {
	in := v1RuleSet()
	out, report, err := MigrateV1ToV2(in, MigrationOptions{})
	if err != nil {
		t.Fatalf("MigrateV1ToV2() error = %v", err)
	}

	if out.SchemaVersion != SchemaV2 {
		t.Errorf("SchemaVersion = %q, want %q", out.SchemaVersion, SchemaV2)
	}
	mp := out.MetricProfile
	if mp == nil || mp.ID != model.DefaultProfileID || mp.Type != model.ProfileTypeGeneric || mp.MetricSpace != DefaultMetricSpace {
		t.Errorf("MetricProfile = %+v", mp)
	}
	if mp.PresetID != "" {
		t.Errorf("PresetID = %q, want empty for generic", mp.PresetID)
	}
	if report.SourceSchemaVersion != "1.2.0" || report.PhaseCount != 2 || report.RuleCount != 1 {
		t.Errorf("report = %+v", report)
	}
	if errs := NewValidator().Validate(out, nil); len(errs) != 0 {
		t.Errorf("migrated document invalid: %v", errs)
	}

	out.Globals["units"] = "imperial"
	if in.Globals["units"] != "metric" {
		t.Error("migration aliased the input globals")
	}
}

func TestMigrateV1ToV2_preset(t *testing.T) {
	out, _, err := MigrateV1ToV2(v1RuleSet(), MigrationOptions{ProfileID: "golf_pro", ProfileType: model.ProfileTypePreset})
	if err != nil {
		t.Fatalf("MigrateV1ToV2() error = %v", err)
	}
	if got := out.MetricProfile.PresetID; got != "golf_starter" {
		t.Errorf("PresetID = %q, want golf_starter", got)
	}

	rs := v1RuleSet()
	rs.Sport = ""
	out, _, _ = MigrateV1ToV2(rs, MigrationOptions{ProfileType: model.ProfileTypePreset})
	if got := out.MetricProfile.PresetID; got != "starter_starter" {
		t.Errorf("PresetID = %q, want starter_starter", got)
	}
}

func TestMigrateV1ToV2_errors(t *testing.T) {
	if _, _, err := MigrateV1ToV2(validRuleSet(), MigrationOptions{}); !errors.Is(err, ErrNotV1) {
		t.Errorf("v2 input error = %v, want ErrNotV1", err)
	}
	if _, _, err := MigrateV1ToV2(v1RuleSet(), MigrationOptions{ProfileType: "custom"}); err == nil {
		t.Error("invalid profile type should fail")
	}
	rs := v1RuleSet()
	rs.SchemaVersion = "one"
	if _, _, err := MigrateV1ToV2(rs, MigrationOptions{}); err == nil {
		t.Error("malformed schema_version should fail")
	}
}
