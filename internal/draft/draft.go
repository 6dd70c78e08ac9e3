// Package draft holds the editor-facing mirror of a rule set. Every numeric
// and list field is kept as raw text so an editor can hold transient input
// such as an empty box. The reducer in this package is the only way drafts
// change.
package draft

import (
	"github.com/pitabwire/coachbuilder/internal/ident"
	"github.com/pitabwire/coachbuilder/model"
)

// RangeType selects how a step is located in time.
type RangeType string

// Range types.
const (
	RangeFrame RangeType = "frame_range"
	RangeEvent RangeType = "event_window"
)

// Defaults used by New and by default synthesis during import.
const (
	DefaultSchemaVersion = "2.0.0"
	DefaultSportVersion  = "1.0.0"
	DefaultSport         = "generic"
	DefaultMetricSpace   = "core_v1"
	DefaultStepBase      = "phase"
	DefaultCheckpoint    = "checkpoint"
	DefaultCondition     = "cond"
	DefaultCategory      = "general"
	DefaultMetric        = "cg_z_delta_mean"
)

// CoachDraft is a rule set under edit.
type CoachDraft struct {
	SchemaVersion string `json:"schema_version"`
	RuleSetID     string `json:"rule_set_id"`
	Sport         string `json:"sport"`
	SportVersion  string `json:"sport_version"`

	MetricProfileID   string `json:"metric_profile_id"`
	MetricProfileType string `json:"metric_profile_type"`
	MetricSpace       string `json:"metric_space"`
	PresetID          string `json:"preset_id"`

	Title       string    `json:"title"`
	Description string    `json:"description"`
	Authors     LinesText `json:"authors"`
	Notes       string    `json:"notes"`
	Changelog   LinesText `json:"changelog"`

	ExpectedFPS NumberText `json:"expected_fps"`
	Preprocess  ListText   `json:"preprocess"`
	// Globals is the JSON text of the opaque globals object.
	Globals string `json:"globals"`

	Steps []StepDraft `json:"steps"`
}

// StepDraft is a phase under edit.
type StepDraft struct {
	ID            string            `json:"id"`
	Label         string            `json:"label"`
	Description   string            `json:"description"`
	RangeType     RangeType         `json:"range_type"`
	FrameStart    NumberText        `json:"frame_start"`
	FrameEnd      NumberText        `json:"frame_end"`
	Event         string            `json:"event"`
	WindowStartMS NumberText        `json:"window_start_ms"`
	WindowEndMS   NumberText        `json:"window_end_ms"`
	Joints        JointsText        `json:"joints"`
	Checkpoints   []CheckpointDraft `json:"checkpoints"`
}

// CheckpointDraft is a rule under edit. Its phase is the owning step.
type CheckpointDraft struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`

	SignalType          string     `json:"signal_type"`
	SignalRefStepID     string     `json:"signal_ref_step_id"`
	SignalEvent         string     `json:"signal_event"`
	SignalWindowStartMS NumberText `json:"signal_window_start_ms"`
	SignalWindowEndMS   NumberText `json:"signal_window_end_ms"`
	SignalDefaultPhase  string     `json:"signal_default_phase"`
	SignalFrameStart    NumberText `json:"signal_frame_start"`
	SignalFrameEnd      NumberText `json:"signal_frame_end"`
	SignalJoints        JointsText `json:"signal_joints"`

	Conditions []ConditionDraft `json:"conditions"`

	ScoreMode string      `json:"score_mode"`
	PassScore NumberText  `json:"pass_score"`
	MaxScore  NumberText  `json:"max_score"`
	Weights   WeightsText `json:"weights"`

	Feedback []FeedbackDraft `json:"feedback"`
}

// FeedbackDraft is a feedback entry under edit.
type FeedbackDraft struct {
	ConditionIDs ListText `json:"condition_ids"`
	Message      string   `json:"message"`
	Severity     string   `json:"severity"`
	AttachToTS   string   `json:"attach_to_ts"`
}

// ConditionDraft is the flat record behind every condition variant. Fields a
// variant does not use keep their zero value.
type ConditionDraft struct {
	ID     string              `json:"id"`
	Type   model.ConditionType `json:"type"`
	Metric string              `json:"metric"`
	Op     string              `json:"op"`

	// Value is the scalar operand; ValueMin and ValueMax hold the pair used
	// by range conditions and by the between operator.
	Value     NumberText `json:"value"`
	ValueMin  NumberText `json:"value_min"`
	ValueMax  NumberText `json:"value_max"`
	Tolerance NumberText `json:"tolerance"`
	AbsVal    *bool      `json:"abs_val,omitempty"`

	Event         string     `json:"event"`
	WindowStartMS NumberText `json:"window_start_ms"`
	WindowEndMS   NumberText `json:"window_end_ms"`
	WindowFrames  NumberText `json:"window_frames"`

	Logic string   `json:"logic"`
	Refs  ListText `json:"refs"`

	Joints    IntListText `json:"joints"`
	Pair      IntListText `json:"pair"`
	Reference string      `json:"reference"`
}

// New returns the initial draft: one frame-range step holding one checkpoint
// with a single threshold condition.
func New() CoachDraft {
	step := NewStep(DefaultStepBase + "_1")
	step.Checkpoints = []CheckpointDraft{NewCheckpoint(DefaultCheckpoint+"_1", step.ID, DefaultCondition+"_1")}
	return CoachDraft{
		SchemaVersion:     DefaultSchemaVersion,
		RuleSetID:         "new_rule_set",
		Sport:             DefaultSport,
		SportVersion:      DefaultSportVersion,
		MetricProfileID:   model.DefaultProfileID,
		MetricProfileType: model.ProfileTypeGeneric,
		MetricSpace:       DefaultMetricSpace,
		Title:             "New rule set",
		Globals:           "{}",
		Steps:             []StepDraft{step},
	}
}

// NewStep returns a frame-range step with no checkpoints.
func NewStep(id string) StepDraft {
	return StepDraft{
		ID:         id,
		Label:      id,
		RangeType:  RangeFrame,
		FrameStart: "0",
		FrameEnd:   "30",
	}
}

// NewCheckpoint returns a checkpoint bound to stepID through a
// frame_range_ref signal, holding one default condition.
func NewCheckpoint(id, stepID, conditionID string) CheckpointDraft {
	return CheckpointDraft{
		ID:              id,
		Label:           id,
		Category:        DefaultCategory,
		Severity:        model.SeverityWarn,
		SignalType:      model.SignalFrameRangeRef,
		SignalRefStepID: stepID,
		Conditions:      []ConditionDraft{NewCondition(conditionID, model.ConditionThreshold)},
		ScoreMode:       model.ScoreAllOrNothing,
		PassScore:       "1",
		MaxScore:        "1",
	}
}

// NewCondition returns a condition of type t with operator and operands
// preset to legal values for that type.
func NewCondition(id string, t model.ConditionType) ConditionDraft {
	c := ConditionDraft{ID: id, Type: t}
	switch t {
	case model.ConditionThreshold:
		c.Metric, c.Op, c.Value = DefaultMetric, model.OpLTE, "0.1"
	case model.ConditionRange:
		c.Metric, c.Op, c.ValueMin, c.ValueMax = DefaultMetric, model.OpBetween, "0", "1"
	case model.ConditionBoolean:
		c.Metric, c.Op = DefaultMetric, model.OpIsTrue
	case model.ConditionEventExists:
		c.Event = "event"
	case model.ConditionTrend:
		c.Metric, c.Op = DefaultMetric, model.OpIncreasing
	case model.ConditionComposite:
		c.Logic = model.LogicAll
	case model.ConditionAngle:
		c.Joints, c.Op, c.ValueMin, c.ValueMax = "2, 3, 4", model.OpBetween, "0", "180"
		c.Reference = model.ReferenceGlobal
	case model.ConditionDistance:
		c.Pair, c.Op, c.Value = "4, 7", model.OpLTE, "0.5"
	}
	return c
}

// UsedIDs returns every step, checkpoint and condition id in d.
func (d *CoachDraft) UsedIDs() map[string]bool {
	used := make(map[string]bool)
	for _, s := range d.Steps {
		used[s.ID] = true
		for _, cp := range s.Checkpoints {
			used[cp.ID] = true
			for _, c := range cp.Conditions {
				used[c.ID] = true
			}
		}
	}
	return used
}

// NextID returns an id derived from base that is unused anywhere in d.
func (d *CoachDraft) NextID(base string) string {
	return ident.NextUniqueID(base, d.UsedIDs())
}

// StepIndex returns the position of the step with the given id, or -1.
func (d *CoachDraft) StepIndex(id string) int {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// CheckpointIndex returns the position of checkpoint id within the step, or -1.
func (s *StepDraft) CheckpointIndex(id string) int {
	for i := range s.Checkpoints {
		if s.Checkpoints[i].ID == id {
			return i
		}
	}
	return -1
}

// ConditionIndex returns the position of condition id within the checkpoint, or -1.
func (cp *CheckpointDraft) ConditionIndex(id string) int {
	for i := range cp.Conditions {
		if cp.Conditions[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCheckpoint returns the step and checkpoint positions of checkpoint id.
func (d *CoachDraft) FindCheckpoint(id string) (step, checkpoint int) {
	for i := range d.Steps {
		if j := d.Steps[i].CheckpointIndex(id); j >= 0 {
			return i, j
		}
	}
	return -1, -1
}

// Clone returns a deep copy of d. The reducer never mutates its input.
func (d CoachDraft) Clone() CoachDraft {
	out := d
	out.Steps = make([]StepDraft, len(d.Steps))
	for i, s := range d.Steps {
		out.Steps[i] = s.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s StepDraft) Clone() StepDraft {
	out := s
	out.Checkpoints = make([]CheckpointDraft, len(s.Checkpoints))
	for i, cp := range s.Checkpoints {
		out.Checkpoints[i] = cp.Clone()
	}
	return out
}

// Clone returns a deep copy of cp.
func (cp CheckpointDraft) Clone() CheckpointDraft {
	out := cp
	out.Conditions = append([]ConditionDraft(nil), cp.Conditions...)
	out.Feedback = append([]FeedbackDraft(nil), cp.Feedback...)
	return out
}
