package draft

import (
	"strings"

	"github.com/pitabwire/coachbuilder/internal/ident"
	"github.com/pitabwire/coachbuilder/model"
)

// Action wire names.
const (
	ActionStepAdd          = "step/add"
	ActionStepRemove       = "step/remove"
	ActionStepRename       = "step/rename"
	ActionStepPatch        = "step/patch"
	ActionStepSelect       = "step/select"
	ActionCheckpointAdd    = "checkpoint/add"
	ActionCheckpointRemove = "checkpoint/remove"
	ActionCheckpointPatch  = "checkpoint/patch"
	ActionCheckpointSelect = "checkpoint/select"
	ActionConditionAdd     = "condition/add"
	ActionConditionRemove  = "condition/remove"
	ActionConditionPatch   = "condition/patch"
	ActionExpertToggle     = "expert/toggle"
	ActionMetaPatch        = "meta/patch"
	ActionDraftReset       = "draft/reset"
	ActionDraftReplace     = "draft/replace"
)

// StepAdd appends a step seeded with one checkpoint and selects it.
type StepAdd struct {
	// Base is slugified into the new id; empty means "phase".
	Base  string `json:"base"`
	Label string `json:"label"`
}

func (StepAdd) Type() string { return ActionStepAdd }

func (a StepAdd) apply(s State) (State, bool) {
	base := a.Base
	if base == "" {
		base = DefaultStepBase
	}
	used := s.Draft.UsedIDs()
	step := NewStep(nextUnique(base, used))
	if a.Label != "" {
		step.Label = a.Label
	}
	cpID := nextUnique(DefaultCheckpoint, used)
	step.Checkpoints = []CheckpointDraft{NewCheckpoint(cpID, step.ID, nextUnique(DefaultCondition, used))}
	s.Draft.Steps = append(s.Draft.Steps, step)
	s.SelectedStepID = step.ID
	s.SelectedCheckpointID = cpID
	return s, true
}

// StepRemove deletes a step and its checkpoints.
type StepRemove struct {
	StepID string `json:"step_id"`
}

func (StepRemove) Type() string { return ActionStepRemove }

func (a StepRemove) apply(s State) (State, bool) {
	i := s.Draft.StepIndex(a.StepID)
	if i < 0 {
		return s, false
	}
	s.Draft.Steps = append(s.Draft.Steps[:i], s.Draft.Steps[i+1:]...)
	return s, true
}

// StepRename changes a step id and rewrites every checkpoint signal that
// referred to the old id.
type StepRename struct {
	StepID string `json:"step_id"`
	NewID  string `json:"new_id"`
}

func (StepRename) Type() string { return ActionStepRename }

func (a StepRename) apply(s State) (State, bool) {
	newID := strings.TrimSpace(a.NewID)
	i := s.Draft.StepIndex(a.StepID)
	if i < 0 || newID == "" || newID == a.StepID {
		return s, false
	}
	if j := s.Draft.StepIndex(newID); j >= 0 && j != i {
		return s, false
	}
	s.Draft.Steps[i].ID = newID
	for si := range s.Draft.Steps {
		for ci := range s.Draft.Steps[si].Checkpoints {
			cp := &s.Draft.Steps[si].Checkpoints[ci]
			if cp.SignalRefStepID == a.StepID {
				cp.SignalRefStepID = newID
			}
			if cp.SignalDefaultPhase == a.StepID {
				cp.SignalDefaultPhase = newID
			}
		}
	}
	if s.SelectedStepID == a.StepID {
		s.SelectedStepID = newID
	}
	return s, true
}

// StepPatch sets the non-nil fields on a step.
type StepPatch struct {
	StepID        string      `json:"step_id"`
	Label         *string     `json:"label,omitempty"`
	Description   *string     `json:"description,omitempty"`
	RangeType     *RangeType  `json:"range_type,omitempty"`
	FrameStart    *NumberText `json:"frame_start,omitempty"`
	FrameEnd      *NumberText `json:"frame_end,omitempty"`
	Event         *string     `json:"event,omitempty"`
	WindowStartMS *NumberText `json:"window_start_ms,omitempty"`
	WindowEndMS   *NumberText `json:"window_end_ms,omitempty"`
	Joints        *JointsText `json:"joints,omitempty"`
}

func (StepPatch) Type() string { return ActionStepPatch }

func (a StepPatch) apply(s State) (State, bool) {
	i := s.Draft.StepIndex(a.StepID)
	if i < 0 {
		return s, false
	}
	st := &s.Draft.Steps[i]
	set(&st.Label, a.Label)
	set(&st.Description, a.Description)
	set(&st.RangeType, a.RangeType)
	set(&st.FrameStart, a.FrameStart)
	set(&st.FrameEnd, a.FrameEnd)
	set(&st.Event, a.Event)
	set(&st.WindowStartMS, a.WindowStartMS)
	set(&st.WindowEndMS, a.WindowEndMS)
	set(&st.Joints, a.Joints)
	return s, true
}

// StepSelect selects a step and its first checkpoint.
type StepSelect struct {
	StepID string `json:"step_id"`
}

func (StepSelect) Type() string { return ActionStepSelect }

func (a StepSelect) apply(s State) (State, bool) {
	if s.Draft.StepIndex(a.StepID) < 0 {
		return s, false
	}
	if s.SelectedStepID != a.StepID {
		s.SelectedStepID = a.StepID
		s.SelectedCheckpointID = ""
	}
	return s, true
}

// CheckpointAdd appends a checkpoint to a step and selects it.
type CheckpointAdd struct {
	StepID string `json:"step_id"`
	Base   string `json:"base"`
	Label  string `json:"label"`
}

func (CheckpointAdd) Type() string { return ActionCheckpointAdd }

func (a CheckpointAdd) apply(s State) (State, bool) {
	i := s.Draft.StepIndex(a.StepID)
	if i < 0 {
		return s, false
	}
	base := a.Base
	if base == "" {
		base = DefaultCheckpoint
	}
	used := s.Draft.UsedIDs()
	cpID := nextUnique(base, used)
	condID := nextUnique(DefaultCondition, used)
	cp := NewCheckpoint(cpID, a.StepID, condID)
	if a.Label != "" {
		cp.Label = a.Label
	}
	st := &s.Draft.Steps[i]
	st.Checkpoints = append(st.Checkpoints, cp)
	s.SelectedStepID = st.ID
	s.SelectedCheckpointID = cpID
	return s, true
}

// CheckpointRemove deletes a checkpoint from a step.
type CheckpointRemove struct {
	StepID       string `json:"step_id"`
	CheckpointID string `json:"checkpoint_id"`
}

func (CheckpointRemove) Type() string { return ActionCheckpointRemove }

func (a CheckpointRemove) apply(s State) (State, bool) {
	st, j := locateCheckpoint(&s, a.StepID, a.CheckpointID)
	if st == nil {
		return s, false
	}
	st.Checkpoints = append(st.Checkpoints[:j], st.Checkpoints[j+1:]...)
	delete(s.ExpertCheckpointIDs, a.CheckpointID)
	return s, true
}

// CheckpointPatch sets the non-nil fields on a checkpoint.
type CheckpointPatch struct {
	StepID              string           `json:"step_id"`
	CheckpointID        string           `json:"checkpoint_id"`
	Label               *string          `json:"label,omitempty"`
	Description         *string          `json:"description,omitempty"`
	Category            *string          `json:"category,omitempty"`
	Severity            *string          `json:"severity,omitempty"`
	SignalType          *string          `json:"signal_type,omitempty"`
	SignalRefStepID     *string          `json:"signal_ref_step_id,omitempty"`
	SignalEvent         *string          `json:"signal_event,omitempty"`
	SignalWindowStartMS *NumberText      `json:"signal_window_start_ms,omitempty"`
	SignalWindowEndMS   *NumberText      `json:"signal_window_end_ms,omitempty"`
	SignalDefaultPhase  *string          `json:"signal_default_phase,omitempty"`
	SignalFrameStart    *NumberText      `json:"signal_frame_start,omitempty"`
	SignalFrameEnd      *NumberText      `json:"signal_frame_end,omitempty"`
	SignalJoints        *JointsText      `json:"signal_joints,omitempty"`
	ScoreMode           *string          `json:"score_mode,omitempty"`
	PassScore           *NumberText      `json:"pass_score,omitempty"`
	MaxScore            *NumberText      `json:"max_score,omitempty"`
	Weights             *WeightsText     `json:"weights,omitempty"`
	Feedback            *[]FeedbackDraft `json:"feedback,omitempty"`
}

func (CheckpointPatch) Type() string { return ActionCheckpointPatch }

func (a CheckpointPatch) apply(s State) (State, bool) {
	st, j := locateCheckpoint(&s, a.StepID, a.CheckpointID)
	if st == nil {
		return s, false
	}
	cp := &st.Checkpoints[j]
	set(&cp.Label, a.Label)
	set(&cp.Description, a.Description)
	set(&cp.Category, a.Category)
	set(&cp.Severity, a.Severity)
	set(&cp.SignalType, a.SignalType)
	set(&cp.SignalRefStepID, a.SignalRefStepID)
	set(&cp.SignalEvent, a.SignalEvent)
	set(&cp.SignalWindowStartMS, a.SignalWindowStartMS)
	set(&cp.SignalWindowEndMS, a.SignalWindowEndMS)
	set(&cp.SignalDefaultPhase, a.SignalDefaultPhase)
	set(&cp.SignalFrameStart, a.SignalFrameStart)
	set(&cp.SignalFrameEnd, a.SignalFrameEnd)
	set(&cp.SignalJoints, a.SignalJoints)
	set(&cp.ScoreMode, a.ScoreMode)
	set(&cp.PassScore, a.PassScore)
	set(&cp.MaxScore, a.MaxScore)
	set(&cp.Weights, a.Weights)
	if a.Feedback != nil {
		cp.Feedback = append([]FeedbackDraft(nil), (*a.Feedback)...)
	}
	return s, true
}

// CheckpointSelect selects a checkpoint and the step that owns it.
type CheckpointSelect struct {
	CheckpointID string `json:"checkpoint_id"`
}

func (CheckpointSelect) Type() string { return ActionCheckpointSelect }

func (a CheckpointSelect) apply(s State) (State, bool) {
	i, _ := s.Draft.FindCheckpoint(a.CheckpointID)
	if i < 0 {
		return s, false
	}
	s.SelectedStepID = s.Draft.Steps[i].ID
	s.SelectedCheckpointID = a.CheckpointID
	return s, true
}

// ConditionAdd appends a condition of the given type to a checkpoint. A new
// composite condition starts out referencing all of its siblings.
type ConditionAdd struct {
	StepID        string              `json:"step_id"`
	CheckpointID  string              `json:"checkpoint_id"`
	ConditionType model.ConditionType `json:"condition_type"`
	Base          string              `json:"base"`
}

func (ConditionAdd) Type() string { return ActionConditionAdd }

func (a ConditionAdd) apply(s State) (State, bool) {
	if !a.ConditionType.Known() {
		return s, false
	}
	st, j := locateCheckpoint(&s, a.StepID, a.CheckpointID)
	if st == nil {
		return s, false
	}
	base := a.Base
	if base == "" {
		base = string(a.ConditionType)
	}
	c := NewCondition(s.Draft.NextID(base), a.ConditionType)
	cp := &st.Checkpoints[j]
	if a.ConditionType == model.ConditionComposite {
		ids := make([]string, 0, len(cp.Conditions))
		for _, sib := range cp.Conditions {
			ids = append(ids, sib.ID)
		}
		c.Refs = FormatList(ids)
	}
	cp.Conditions = append(cp.Conditions, c)
	return s, true
}

// ConditionRemove deletes a condition from a checkpoint.
type ConditionRemove struct {
	StepID       string `json:"step_id"`
	CheckpointID string `json:"checkpoint_id"`
	ConditionID  string `json:"condition_id"`
}

func (ConditionRemove) Type() string { return ActionConditionRemove }

func (a ConditionRemove) apply(s State) (State, bool) {
	st, j := locateCheckpoint(&s, a.StepID, a.CheckpointID)
	if st == nil {
		return s, false
	}
	cp := &st.Checkpoints[j]
	k := cp.ConditionIndex(a.ConditionID)
	if k < 0 {
		return s, false
	}
	cp.Conditions = append(cp.Conditions[:k], cp.Conditions[k+1:]...)
	return s, true
}

// ConditionPatch sets the non-nil fields on a condition. Changing the id is
// rejected when the new id is empty or taken by a sibling; otherwise
// composite references, feedback and weights in the checkpoint follow it.
type ConditionPatch struct {
	StepID        string               `json:"step_id"`
	CheckpointID  string               `json:"checkpoint_id"`
	ConditionID   string               `json:"condition_id"`
	ID            *string              `json:"id,omitempty"`
	ConditionType *model.ConditionType `json:"condition_type,omitempty"`
	Metric        *string              `json:"metric,omitempty"`
	Op            *string              `json:"op,omitempty"`
	Value         *NumberText          `json:"value,omitempty"`
	ValueMin      *NumberText          `json:"value_min,omitempty"`
	ValueMax      *NumberText          `json:"value_max,omitempty"`
	Tolerance     *NumberText          `json:"tolerance,omitempty"`
	AbsVal        *bool                `json:"abs_val,omitempty"`
	Event         *string              `json:"event,omitempty"`
	WindowStartMS *NumberText          `json:"window_start_ms,omitempty"`
	WindowEndMS   *NumberText          `json:"window_end_ms,omitempty"`
	WindowFrames  *NumberText          `json:"window_frames,omitempty"`
	Logic         *string              `json:"logic,omitempty"`
	Refs          *ListText            `json:"refs,omitempty"`
	Joints        *IntListText         `json:"joints,omitempty"`
	Pair          *IntListText         `json:"pair,omitempty"`
	Reference     *string              `json:"reference,omitempty"`
}

func (ConditionPatch) Type() string { return ActionConditionPatch }

func (a ConditionPatch) apply(s State) (State, bool) {
	st, j := locateCheckpoint(&s, a.StepID, a.CheckpointID)
	if st == nil {
		return s, false
	}
	cp := &st.Checkpoints[j]
	k := cp.ConditionIndex(a.ConditionID)
	if k < 0 {
		return s, false
	}
	if a.ID != nil {
		newID := strings.TrimSpace(*a.ID)
		if newID == "" {
			return s, false
		}
		if newID != a.ConditionID {
			if cp.ConditionIndex(newID) >= 0 {
				return s, false
			}
			renameConditionRefs(cp, a.ConditionID, newID)
			cp.Conditions[k].ID = newID
		}
	}
	c := &cp.Conditions[k]
	set(&c.Type, a.ConditionType)
	set(&c.Metric, a.Metric)
	set(&c.Op, a.Op)
	set(&c.Value, a.Value)
	set(&c.ValueMin, a.ValueMin)
	set(&c.ValueMax, a.ValueMax)
	set(&c.Tolerance, a.Tolerance)
	if a.AbsVal != nil {
		c.AbsVal = model.Bool(*a.AbsVal)
	}
	set(&c.Event, a.Event)
	set(&c.WindowStartMS, a.WindowStartMS)
	set(&c.WindowEndMS, a.WindowEndMS)
	set(&c.WindowFrames, a.WindowFrames)
	set(&c.Logic, a.Logic)
	set(&c.Refs, a.Refs)
	set(&c.Joints, a.Joints)
	set(&c.Pair, a.Pair)
	set(&c.Reference, a.Reference)
	return s, true
}

// ExpertToggle flips expert editing for a checkpoint.
type ExpertToggle struct {
	CheckpointID string `json:"checkpoint_id"`
}

func (ExpertToggle) Type() string { return ActionExpertToggle }

func (a ExpertToggle) apply(s State) (State, bool) {
	if i, _ := s.Draft.FindCheckpoint(a.CheckpointID); i < 0 {
		return s, false
	}
	if s.ExpertCheckpointIDs[a.CheckpointID] {
		delete(s.ExpertCheckpointIDs, a.CheckpointID)
	} else {
		s.ExpertCheckpointIDs[a.CheckpointID] = true
	}
	return s, true
}

// MetaPatch sets the non-nil rule-set level fields.
type MetaPatch struct {
	SchemaVersion     *string     `json:"schema_version,omitempty"`
	RuleSetID         *string     `json:"rule_set_id,omitempty"`
	Sport             *string     `json:"sport,omitempty"`
	SportVersion      *string     `json:"sport_version,omitempty"`
	MetricProfileID   *string     `json:"metric_profile_id,omitempty"`
	MetricProfileType *string     `json:"metric_profile_type,omitempty"`
	MetricSpace       *string     `json:"metric_space,omitempty"`
	PresetID          *string     `json:"preset_id,omitempty"`
	Title             *string     `json:"title,omitempty"`
	Description       *string     `json:"description,omitempty"`
	Authors           *LinesText  `json:"authors,omitempty"`
	Notes             *string     `json:"notes,omitempty"`
	Changelog         *LinesText  `json:"changelog,omitempty"`
	ExpectedFPS       *NumberText `json:"expected_fps,omitempty"`
	Preprocess        *ListText   `json:"preprocess,omitempty"`
	Globals           *string     `json:"globals,omitempty"`
}

func (MetaPatch) Type() string { return ActionMetaPatch }

func (a MetaPatch) apply(s State) (State, bool) {
	d := &s.Draft
	set(&d.SchemaVersion, a.SchemaVersion)
	set(&d.RuleSetID, a.RuleSetID)
	set(&d.Sport, a.Sport)
	set(&d.SportVersion, a.SportVersion)
	set(&d.MetricProfileID, a.MetricProfileID)
	set(&d.MetricProfileType, a.MetricProfileType)
	set(&d.MetricSpace, a.MetricSpace)
	set(&d.PresetID, a.PresetID)
	set(&d.Title, a.Title)
	set(&d.Description, a.Description)
	set(&d.Authors, a.Authors)
	set(&d.Notes, a.Notes)
	set(&d.Changelog, a.Changelog)
	set(&d.ExpectedFPS, a.ExpectedFPS)
	set(&d.Preprocess, a.Preprocess)
	set(&d.Globals, a.Globals)
	return s, true
}

// DraftReset discards everything and starts from New.
type DraftReset struct{}

func (DraftReset) Type() string { return ActionDraftReset }

func (DraftReset) apply(State) (State, bool) {
	return NewState(), true
}

// DraftReplace swaps in a whole draft, typically an imported one.
type DraftReplace struct {
	Draft CoachDraft `json:"draft"`
}

func (DraftReplace) Type() string { return ActionDraftReplace }

func (a DraftReplace) apply(s State) (State, bool) {
	s.Draft = a.Draft.Clone()
	return s, true
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func nextUnique(base string, used map[string]bool) string {
	id := ident.NextUniqueID(base, used)
	used[id] = true
	return id
}

// locateCheckpoint finds the checkpoint under the given step. An empty
// stepID searches every step.
func locateCheckpoint(s *State, stepID, checkpointID string) (*StepDraft, int) {
	if stepID == "" {
		i, j := s.Draft.FindCheckpoint(checkpointID)
		if i < 0 {
			return nil, -1
		}
		return &s.Draft.Steps[i], j
	}
	i := s.Draft.StepIndex(stepID)
	if i < 0 {
		return nil, -1
	}
	st := &s.Draft.Steps[i]
	j := st.CheckpointIndex(checkpointID)
	if j < 0 {
		return nil, -1
	}
	return st, j
}

func renameConditionRefs(cp *CheckpointDraft, oldID, newID string) {
	swap := func(items []string) []string {
		for i, it := range items {
			if it == oldID {
				items[i] = newID
			}
		}
		return items
	}
	for i := range cp.Conditions {
		c := &cp.Conditions[i]
		if c.Type == model.ConditionComposite {
			c.Refs = FormatList(swap(c.Refs.Items()))
		}
	}
	for i := range cp.Feedback {
		fb := &cp.Feedback[i]
		fb.ConditionIDs = FormatList(swap(fb.ConditionIDs.Items()))
	}
	weights, skipped := cp.Weights.Parse()
	if w, ok := weights[oldID]; ok && skipped == 0 {
		delete(weights, oldID)
		weights[newID] = w
		cp.Weights = FormatWeights(weights)
	}
}
