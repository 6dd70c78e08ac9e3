package ruleset

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/pitabwire/coachbuilder/model"
)

// Schema versions produced by this package.
const (
	SchemaV2           = "2.0.0"
	DefaultMetricSpace = "core_v1"
)

// ErrNotV1 is returned when migrating a document that is not schema v1.
var ErrNotV1 = errors.New("ruleset: input is not schema v1")

// SchemaMajor returns the major component of an x.y.z schema version.
func SchemaMajor(version string) (int, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("ruleset: invalid schema_version %q, expected x.y.z", version)
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return 0, fmt.Errorf("ruleset: invalid schema_version %q, expected x.y.z", version)
		}
	}
	return strconv.Atoi(parts[0])
}

// SupportedMajor reports whether documents with the given schema major can
// be consumed.
func SupportedMajor(major int) bool {
	return major == 1 || major == 2
}

// MigrationOptions selects the metric profile a migrated document binds to.
type MigrationOptions struct {
	ProfileID   string
	ProfileType string
	// PresetID defaults to "<sport>_starter" for preset profiles.
	PresetID string
}

// MigrationReport summarizes a migration.
type MigrationReport struct {
	SourceSchemaVersion string              `json:"source_schema_version"`
	TargetSchemaVersion string              `json:"target_schema_version"`
	RuleSetID           string              `json:"rule_set_id"`
	MetricProfile       model.MetricProfile `json:"metric_profile"`
	PhaseCount          int                 `json:"phase_count"`
	RuleCount           int                 `json:"rule_count"`
}

// MigrateV1ToV2 upgrades a schema v1 document to v2 by binding it to a metric
// profile. Phases, rules and other content carry over unchanged.
func MigrateV1ToV2(rs model.RuleSet, opts MigrationOptions) (model.RuleSet, MigrationReport, error) {
	major, err := SchemaMajor(rs.SchemaVersion)
	if err != nil {
		return model.RuleSet{}, MigrationReport{}, err
	}
	if major != 1 {
		return model.RuleSet{}, MigrationReport{}, fmt.Errorf("%w: schema_version %s", ErrNotV1, rs.SchemaVersion)
	}
	if opts.ProfileID == "" {
		opts.ProfileID = model.DefaultProfileID
	}
	if opts.ProfileType == "" {
		opts.ProfileType = model.ProfileTypeGeneric
	}
	if opts.ProfileType != model.ProfileTypeGeneric && opts.ProfileType != model.ProfileTypePreset {
		return model.RuleSet{}, MigrationReport{}, fmt.Errorf("ruleset: invalid profile type %q", opts.ProfileType)
	}

	profile := model.MetricProfile{
		ID:          opts.ProfileID,
		Type:        opts.ProfileType,
		MetricSpace: DefaultMetricSpace,
	}
	if opts.ProfileType == model.ProfileTypePreset {
		profile.PresetID = opts.PresetID
		if profile.PresetID == "" {
			sport := rs.Sport
			if sport == "" {
				sport = "starter"
			}
			profile.PresetID = sport + "_starter"
		}
	}

	out := rs
	out.SchemaVersion = SchemaV2
	out.MetricProfile = &profile
	out.Globals = maps.Clone(rs.Globals)
	if out.Globals == nil {
		out.Globals = map[string]any{}
	}
	out.Phases = append([]model.Phase(nil), rs.Phases...)
	out.Rules = append([]model.Rule(nil), rs.Rules...)

	report := MigrationReport{
		SourceSchemaVersion: rs.SchemaVersion,
		TargetSchemaVersion: out.SchemaVersion,
		RuleSetID:           out.RuleSetID,
		MetricProfile:       profile,
		PhaseCount:          len(out.Phases),
		RuleCount:           len(out.Rules),
	}
	return out, report, nil
}
