// Package mapper converts between the editable draft and the wire rule set.
// Both directions are total: export falls back to documented defaults for
// text it cannot parse and import degrades rather than fails. The validator
// remains the authority on whether the result is correct.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/model"
)

// Fallbacks used when editable text does not parse.
var (
	FallbackNumber = 0.0
	FallbackPair   = [2]float64{0, 1}
)

// ToRuleSet converts d to the wire document.
func ToRuleSet(d draft.CoachDraft) model.RuleSet {
	rs, _ := Export(d)
	return rs
}

// ExportIssues lists every draft field that ToRuleSet would replace by its
// fallback, as unparsable_field errors located at the wire path.
func ExportIssues(d draft.CoachDraft) []model.ValidationError {
	_, issues := Export(d)
	return issues
}

// Export converts d and reports the fields that needed a fallback.
func Export(d draft.CoachDraft) (model.RuleSet, []model.ValidationError) {
	e := &exporter{}
	rs := e.ruleSet(d)
	return rs, e.issues
}

type exporter struct {
	issues []model.ValidationError
}

func (e *exporter) issue(path string, text string) {
	e.issues = append(e.issues, model.ValidationError{
		Path:   path,
		Code:   model.CodeUnparsableField,
		Params: map[string]string{"text": text},
	})
}

// number parses a required numeric field.
func (e *exporter) number(path string, t draft.NumberText) model.Number {
	f, err := t.Parse()
	if err != nil {
		e.issue(path, string(t))
		return model.N(FallbackNumber)
	}
	return model.N(f)
}

// optNumber parses an optional numeric field; blank text means absent.
func (e *exporter) optNumber(path string, t draft.NumberText) model.Number {
	if t.Empty() {
		return model.Number{}
	}
	return e.number(path, t)
}

// pair parses a required numeric pair.
func (e *exporter) pair(path string, a, b draft.NumberText) []model.Number {
	lo, errA := a.Parse()
	hi, errB := b.Parse()
	if errA != nil || errB != nil {
		e.issue(path, string(a)+", "+string(b))
		return model.Pair(FallbackPair[0], FallbackPair[1])
	}
	return model.Pair(lo, hi)
}

// optPair parses an optional pair; both sides blank means absent.
func (e *exporter) optPair(path string, a, b draft.NumberText) []model.Number {
	if a.Empty() && b.Empty() {
		return nil
	}
	return e.pair(path, a, b)
}

func (e *exporter) joints(path string, t draft.JointsText) []model.Number {
	if t.Malformed() {
		e.issue(path, string(t))
	}
	return intsToNumbers(t.Parse())
}

func (e *exporter) intList(path string, t draft.IntListText) []model.Number {
	ints, dropped := t.Parse()
	if dropped > 0 {
		e.issue(path, string(t))
	}
	return intsToNumbers(ints)
}

func (e *exporter) ruleSet(d draft.CoachDraft) model.RuleSet {
	rs := model.RuleSet{
		SchemaVersion: d.SchemaVersion,
		RuleSetID:     d.RuleSetID,
		Sport:         d.Sport,
		SportVersion:  d.SportVersion,
		Metadata: model.Metadata{
			Title:       d.Title,
			Description: d.Description,
			Authors:     d.Authors.Items(),
			Notes:       d.Notes,
			Changelog:   d.Changelog.Items(),
		},
		Inputs: model.Inputs{
			ExpectedFPS: e.optNumber("inputs.expected_fps", d.ExpectedFPS),
			Preprocess:  d.Preprocess.Items(),
		},
		Globals: e.globals(d.Globals),
		Phases:  make([]model.Phase, 0, len(d.Steps)),
		Rules:   []model.Rule{},
	}
	if d.MetricProfileID != "" || d.MetricProfileType != "" || d.MetricSpace != "" || d.PresetID != "" {
		rs.MetricProfile = &model.MetricProfile{
			ID:          d.MetricProfileID,
			Type:        d.MetricProfileType,
			MetricSpace: d.MetricSpace,
			PresetID:    d.PresetID,
		}
	}
	for i, st := range d.Steps {
		rs.Phases = append(rs.Phases, e.phase(fmt.Sprintf("phases[%d]", i), st))
		for _, cp := range st.Checkpoints {
			rp := fmt.Sprintf("rules[%d]", len(rs.Rules))
			rs.Rules = append(rs.Rules, e.rule(rp, st.ID, cp))
		}
	}
	return rs
}

func (e *exporter) globals(text string) map[string]any {
	out := map[string]any{}
	if strings.TrimSpace(text) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(text), &out); err != nil || out == nil {
		e.issue("globals", text)
		return map[string]any{}
	}
	return out
}

func (e *exporter) phase(prefix string, st draft.StepDraft) model.Phase {
	ph := model.Phase{
		ID:               st.ID,
		Label:            st.Label,
		Description:      st.Description,
		JointsOfInterest: e.joints(prefix+".joints_of_interest", st.Joints),
	}
	if st.RangeType == draft.RangeEvent {
		ph.EventWindow = &model.EventWindow{
			Event:    st.Event,
			WindowMS: e.pair(prefix+".event_window.window_ms", st.WindowStartMS, st.WindowEndMS),
		}
	} else {
		ph.FrameRange = e.pair(prefix+".frame_range", st.FrameStart, st.FrameEnd)
	}
	return ph
}

func (e *exporter) rule(prefix, stepID string, cp draft.CheckpointDraft) model.Rule {
	r := model.Rule{
		ID:          cp.ID,
		Label:       cp.Label,
		Description: cp.Description,
		Phase:       stepID,
		Category:    cp.Category,
		Severity:    cp.Severity,
		Signal:      e.signal(prefix+".signal", stepID, cp),
		Conditions:  make([]model.Condition, 0, len(cp.Conditions)),
		Score:       e.score(prefix+".score", cp),
	}
	for j, c := range cp.Conditions {
		r.Conditions = append(r.Conditions, e.condition(fmt.Sprintf("%s.conditions[%d]", prefix, j), c))
	}
	for _, fb := range cp.Feedback {
		ids := fb.ConditionIDs.Items()
		if ids == nil {
			ids = []string{}
		}
		r.Feedback = append(r.Feedback, model.Feedback{
			ConditionIDs: ids,
			Message:      fb.Message,
			Severity:     fb.Severity,
			AttachToTS:   fb.AttachToTS,
		})
	}
	return r
}

func (e *exporter) signal(prefix, stepID string, cp draft.CheckpointDraft) *model.Signal {
	sig := &model.Signal{Type: cp.SignalType}
	switch cp.SignalType {
	case model.SignalFrameRangeRef:
		ref := cp.SignalRefStepID
		if ref == "" {
			ref = stepID
		}
		sig.Ref = model.PhaseRefPrefix + ref
	case model.SignalEventWindow:
		sig.Event = cp.SignalEvent
		sig.WindowMS = e.pair(prefix+".window_ms", cp.SignalWindowStartMS, cp.SignalWindowEndMS)
		sig.DefaultPhase = cp.SignalDefaultPhase
	case model.SignalDirect:
		sig.FrameRange = e.pair(prefix+".frame_range", cp.SignalFrameStart, cp.SignalFrameEnd)
		sig.Joints = e.joints(prefix+".joints", cp.SignalJoints)
	}
	return sig
}

func (e *exporter) score(prefix string, cp draft.CheckpointDraft) *model.Score {
	sc := &model.Score{
		Mode:      cp.ScoreMode,
		PassScore: e.number(prefix+".pass_score", cp.PassScore),
		MaxScore:  e.number(prefix+".max_score", cp.MaxScore),
	}
	weights, skipped := cp.Weights.Parse()
	if skipped > 0 {
		e.issue(prefix+".weights", string(cp.Weights))
	}
	if len(weights) > 0 {
		sc.Weights = make(map[string]model.Number, len(weights))
		for k, v := range weights {
			sc.Weights[k] = model.N(v)
		}
	}
	return sc
}

func (e *exporter) condition(prefix string, c draft.ConditionDraft) model.Condition {
	out := model.Condition{ID: c.ID, Type: c.Type}
	switch c.Type {
	case model.ConditionThreshold:
		out.Metric, out.Op = c.Metric, c.Op
		out.Value = e.scalar(prefix+".value", c.Value)
		out.Tolerance = e.optNumber(prefix+".tolerance", c.Tolerance)
		out.AbsVal = copyBool(c.AbsVal)
	case model.ConditionRange:
		out.Metric, out.Op = c.Metric, c.Op
		out.Value = e.valuePair(prefix+".value", c.ValueMin, c.ValueMax)
		out.Tolerance = e.optNumber(prefix+".tolerance", c.Tolerance)
		out.AbsVal = copyBool(c.AbsVal)
	case model.ConditionBoolean:
		out.Metric, out.Op = c.Metric, c.Op
	case model.ConditionEventExists:
		out.Event = c.Event
		out.WindowMS = e.optPair(prefix+".window_ms", c.WindowStartMS, c.WindowEndMS)
	case model.ConditionTrend:
		out.Metric, out.Op = c.Metric, c.Op
		out.WindowFrames = e.optNumber(prefix+".window_frames", c.WindowFrames)
		out.WindowMS = e.optPair(prefix+".window_ms", c.WindowStartMS, c.WindowEndMS)
	case model.ConditionComposite:
		out.Logic = c.Logic
		out.Conditions = c.Refs.Items()
		if out.Conditions == nil {
			out.Conditions = []string{}
		}
	case model.ConditionAngle:
		out.Joints = e.intList(prefix+".joints", c.Joints)
		out.Op = c.Op
		out.Value = e.operand(prefix+".value", c)
		out.Reference = c.Reference
		out.Tolerance = e.optNumber(prefix+".tolerance", c.Tolerance)
	case model.ConditionDistance:
		out.Pair = e.intPair(prefix+".pair", c.Pair)
		out.Op = c.Op
		out.Value = e.operand(prefix+".value", c)
		out.Metric = c.Metric
		out.Tolerance = e.optNumber(prefix+".tolerance", c.Tolerance)
	}
	return out
}

func (e *exporter) scalar(path string, t draft.NumberText) model.Value {
	f, _ := e.number(path, t).Float()
	return model.ScalarValue(f)
}

func (e *exporter) valuePair(path string, lo, hi draft.NumberText) model.Value {
	p := e.pair(path, lo, hi)
	a, _ := p[0].Float()
	b, _ := p[1].Float()
	return model.PairValue(a, b)
}

// operand picks the pair form for the between operator and the scalar form
// otherwise.
func (e *exporter) operand(path string, c draft.ConditionDraft) model.Value {
	if c.Op == model.OpBetween {
		return e.valuePair(path, c.ValueMin, c.ValueMax)
	}
	return e.scalar(path, c.Value)
}

func (e *exporter) intPair(path string, t draft.IntListText) []model.Number {
	ints, dropped := t.Parse()
	if dropped > 0 || len(ints) != 2 {
		e.issue(path, string(t))
		return model.Pair(FallbackPair[0], FallbackPair[1])
	}
	return intsToNumbers(ints)
}

// copyBool keeps an optional flag's three states: absent, false and true.
func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	return model.Bool(*b)
}

func intsToNumbers(ints []int) []model.Number {
	if len(ints) == 0 {
		return nil
	}
	out := make([]model.Number, len(ints))
	for i, n := range ints {
		out[i] = model.N(float64(n))
	}
	return out
}
