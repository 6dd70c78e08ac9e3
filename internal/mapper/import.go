package mapper

import (
	"encoding/json"
	"strings"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/ident"
	"github.com/pitabwire/coachbuilder/model"
)

// ImportReport lists what FromRuleSet changed on the way in.
type ImportReport struct {
	// DroppedRules holds the ids of rules whose phase did not exist.
	DroppedRules []string `json:"dropped_rules,omitempty"`
	// SynthesizedCheckpoints holds the ids of default checkpoints added to
	// phases that had no rules.
	SynthesizedCheckpoints []string `json:"synthesized_checkpoints,omitempty"`
}

// FromRuleSet converts a wire document to a draft. Rules that reference an
// unknown phase are dropped; phases left without rules receive one default
// checkpoint.
func FromRuleSet(rs model.RuleSet) draft.CoachDraft {
	d, _ := Import(rs)
	return d
}

// Import converts rs and reports the lossy steps it took.
func Import(rs model.RuleSet) (draft.CoachDraft, ImportReport) {
	var report ImportReport
	d := draft.CoachDraft{
		SchemaVersion: rs.SchemaVersion,
		RuleSetID:     rs.RuleSetID,
		Sport:         rs.Sport,
		SportVersion:  rs.SportVersion,
		Title:         rs.Metadata.Title,
		Description:   rs.Metadata.Description,
		Authors:       draft.FormatLines(rs.Metadata.Authors),
		Notes:         rs.Metadata.Notes,
		Changelog:     draft.FormatLines(rs.Metadata.Changelog),
		ExpectedFPS:   numberText(rs.Inputs.ExpectedFPS),
		Preprocess:    draft.FormatList(rs.Inputs.Preprocess),
		Globals:       globalsText(rs.Globals),
		Steps:         make([]draft.StepDraft, 0, len(rs.Phases)),
	}
	if mp := rs.MetricProfile; mp != nil {
		d.MetricProfileID = mp.ID
		d.MetricProfileType = mp.Type
		d.MetricSpace = mp.MetricSpace
		d.PresetID = mp.PresetID
	}

	byID := make(map[string]int, len(rs.Phases))
	for _, ph := range rs.Phases {
		if _, dup := byID[ph.ID]; !dup {
			byID[ph.ID] = len(d.Steps)
		}
		d.Steps = append(d.Steps, stepFromPhase(ph))
	}

	for _, r := range rs.Rules {
		i, ok := byID[r.Phase]
		if !ok {
			report.DroppedRules = append(report.DroppedRules, r.ID)
			continue
		}
		d.Steps[i].Checkpoints = append(d.Steps[i].Checkpoints, checkpointFromRule(r))
	}

	for i := range d.Steps {
		if len(d.Steps[i].Checkpoints) > 0 {
			continue
		}
		used := d.UsedIDs()
		cpID := nextID(draft.DefaultCheckpoint, used)
		condID := nextID(draft.DefaultCondition, used)
		d.Steps[i].Checkpoints = []draft.CheckpointDraft{draft.NewCheckpoint(cpID, d.Steps[i].ID, condID)}
		report.SynthesizedCheckpoints = append(report.SynthesizedCheckpoints, cpID)
	}
	return d, report
}

func stepFromPhase(ph model.Phase) draft.StepDraft {
	st := draft.StepDraft{
		ID:          ph.ID,
		Label:       ph.Label,
		Description: ph.Description,
		RangeType:   draft.RangeFrame,
		Joints:      draft.FormatJoints(numbersToInts(ph.JointsOfInterest)),
	}
	if ph.EventWindow != nil && len(ph.FrameRange) == 0 {
		st.RangeType = draft.RangeEvent
		st.Event = ph.EventWindow.Event
		st.WindowStartMS, st.WindowEndMS = pairText(ph.EventWindow.WindowMS)
	} else {
		st.FrameStart, st.FrameEnd = pairText(ph.FrameRange)
	}
	return st
}

func checkpointFromRule(r model.Rule) draft.CheckpointDraft {
	cp := draft.CheckpointDraft{
		ID:          r.ID,
		Label:       r.Label,
		Description: r.Description,
		Category:    r.Category,
		Severity:    r.Severity,
		Conditions:  make([]draft.ConditionDraft, 0, len(r.Conditions)),
	}
	if sig := r.Signal; sig != nil {
		cp.SignalType = sig.Type
		cp.SignalRefStepID = strings.TrimPrefix(sig.Ref, model.PhaseRefPrefix)
		cp.SignalEvent = sig.Event
		cp.SignalWindowStartMS, cp.SignalWindowEndMS = pairText(sig.WindowMS)
		cp.SignalDefaultPhase = sig.DefaultPhase
		cp.SignalFrameStart, cp.SignalFrameEnd = pairText(sig.FrameRange)
		cp.SignalJoints = draft.FormatJoints(numbersToInts(sig.Joints))
	}
	for _, c := range r.Conditions {
		cp.Conditions = append(cp.Conditions, conditionFromWire(c))
	}
	if sc := r.Score; sc != nil {
		cp.ScoreMode = sc.Mode
		cp.PassScore = numberText(sc.PassScore)
		cp.MaxScore = numberText(sc.MaxScore)
		weights := make(map[string]float64, len(sc.Weights))
		for k, v := range sc.Weights {
			if f, ok := v.Float(); ok {
				weights[k] = f
			}
		}
		cp.Weights = draft.FormatWeights(weights)
	}
	for _, fb := range r.Feedback {
		cp.Feedback = append(cp.Feedback, draft.FeedbackDraft{
			ConditionIDs: draft.FormatList(fb.ConditionIDs),
			Message:      fb.Message,
			Severity:     fb.Severity,
			AttachToTS:   fb.AttachToTS,
		})
	}
	return cp
}

func conditionFromWire(c model.Condition) draft.ConditionDraft {
	out := draft.ConditionDraft{
		ID:           c.ID,
		Type:         c.Type,
		Metric:       c.Metric,
		Op:           c.Op,
		Tolerance:    numberText(c.Tolerance),
		AbsVal:       copyBool(c.AbsVal),
		Event:        c.Event,
		WindowFrames: numberText(c.WindowFrames),
		Logic:        c.Logic,
		Refs:         draft.FormatList(c.Conditions),
		Joints:       draft.FormatInts(numbersToInts(c.Joints)),
		Pair:         draft.FormatInts(numbersToInts(c.Pair)),
		Reference:    c.Reference,
	}
	out.WindowStartMS, out.WindowEndMS = pairText(c.WindowMS)
	if lo, hi, ok := c.Value.Pair(); ok {
		out.ValueMin, out.ValueMax = draft.FormatNumber(lo), draft.FormatNumber(hi)
	} else if v, ok := c.Value.Number(); ok {
		out.Value = draft.FormatNumber(v)
	}
	return out
}

// numberText renders n for editing. Invalid input keeps its raw text so the
// author can see and fix it.
func numberText(n model.Number) draft.NumberText {
	if f, ok := n.Float(); ok {
		return draft.FormatNumber(f)
	}
	raw := n.Raw()
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return draft.NumberText(s)
	}
	return draft.NumberText(raw)
}

func pairText(list []model.Number) (draft.NumberText, draft.NumberText) {
	var a, b draft.NumberText
	if len(list) > 0 {
		a = numberText(list[0])
	}
	if len(list) > 1 {
		b = numberText(list[1])
	}
	return a, b
}

func numbersToInts(list []model.Number) []int {
	var out []int
	for _, n := range list {
		if n.IsInt() {
			f, _ := n.Float()
			out = append(out, int(f))
		}
	}
	return out
}

func globalsText(g map[string]any) string {
	if g == nil {
		return "{}"
	}
	b, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func nextID(base string, used map[string]bool) string {
	id := ident.NextUniqueID(base, used)
	used[id] = true
	return id
}
