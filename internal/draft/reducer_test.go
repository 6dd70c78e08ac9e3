package draft

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pitabwire/coachbuilder/model"
)

func TestNewState(t *testing.T) {
	s := NewState()
	if len(s.Draft.Steps) != 1 || len(s.Draft.Steps[0].Checkpoints) != 1 {
		t.Fatalf("initial draft shape = %d steps", len(s.Draft.Steps))
	}
	if s.SelectedStepID != "phase_1" {
		t.Errorf("SelectedStepID = %q, want %q", s.SelectedStepID, "phase_1")
	}
	if s.SelectedCheckpointID != "checkpoint_1" {
		t.Errorf("SelectedCheckpointID = %q, want %q", s.SelectedCheckpointID, "checkpoint_1")
	}
}

func TestReduce_does_not_mutate_input(t *testing.T) {
	s := NewState()
	before := s.Draft.Clone()
	_ = Reduce(s, StepAdd{})
	_ = Reduce(s, StepRename{StepID: "phase_1", NewID: "setup"})
	_ = Reduce(s, ConditionAdd{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionType: model.ConditionBoolean})
	if !reflect.DeepEqual(s.Draft, before) {
		t.Error("Reduce mutated its input draft")
	}
}

func TestReduce_StepAdd_selects_new_step(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Label: "Swing"})
	if len(s.Draft.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(s.Draft.Steps))
	}
	added := s.Draft.Steps[1]
	if added.ID != "phase" {
		t.Errorf("new step id = %q, want %q", added.ID, "phase")
	}
	if added.Label != "Swing" {
		t.Errorf("Label = %q, want Swing", added.Label)
	}
	if s.SelectedStepID != added.ID || s.SelectedCheckpointID != added.Checkpoints[0].ID {
		t.Errorf("selection = %q/%q", s.SelectedStepID, s.SelectedCheckpointID)
	}
	if added.Checkpoints[0].SignalRefStepID != added.ID {
		t.Errorf("SignalRefStepID = %q, want %q", added.Checkpoints[0].SignalRefStepID, added.ID)
	}
}

func TestReduce_StepRemove_repairs_selection(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Base: "swing"})
	s = Reduce(s, StepRemove{StepID: "swing"})
	if s.SelectedStepID != "phase_1" {
		t.Errorf("SelectedStepID = %q, want %q", s.SelectedStepID, "phase_1")
	}
	if s.SelectedCheckpointID != "checkpoint_1" {
		t.Errorf("SelectedCheckpointID = %q, want %q", s.SelectedCheckpointID, "checkpoint_1")
	}
	s = Reduce(s, StepRemove{StepID: "phase_1"})
	if s.SelectedStepID != "" || s.SelectedCheckpointID != "" {
		t.Errorf("selection after removing last step = %q/%q, want empty", s.SelectedStepID, s.SelectedCheckpointID)
	}
}

func TestReduce_StepRename_propagates(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Base: "c"})
	// checkpoint on step c points at phase_1 through default_phase, and at c through ref.
	cpID := s.Draft.Steps[1].Checkpoints[0].ID
	s = Reduce(s, CheckpointPatch{StepID: "c", CheckpointID: cpID, SignalDefaultPhase: ptr("phase_1")})

	s = Reduce(s, StepRename{StepID: "phase_1", NewID: "setup"})

	if s.Draft.Steps[0].ID != "setup" {
		t.Fatalf("renamed id = %q, want setup", s.Draft.Steps[0].ID)
	}
	if got := s.Draft.Steps[0].Checkpoints[0].SignalRefStepID; got != "setup" {
		t.Errorf("SignalRefStepID = %q, want setup", got)
	}
	unrelated := s.Draft.Steps[1].Checkpoints[0]
	if unrelated.SignalRefStepID != "c" {
		t.Errorf("unrelated SignalRefStepID = %q, want c", unrelated.SignalRefStepID)
	}
	if unrelated.SignalDefaultPhase != "setup" {
		t.Errorf("SignalDefaultPhase = %q, want setup", unrelated.SignalDefaultPhase)
	}
	if s.SelectedStepID != "c" {
		t.Errorf("SelectedStepID = %q, want c", s.SelectedStepID)
	}
}

func TestReduce_StepRename_rejected(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Base: "swing"})
	tests := []struct {
		name string
		a    StepRename
	}{
		{"empty", StepRename{StepID: "phase_1", NewID: "  "}},
		{"collision", StepRename{StepID: "phase_1", NewID: "swing"}},
		{"unknown", StepRename{StepID: "nope", NewID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(s, tt.a)
			if !reflect.DeepEqual(got, s) {
				t.Errorf("Reduce(%+v) changed state", tt.a)
			}
		})
	}
}

func TestReduce_StepSelect(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Base: "swing"})
	s = Reduce(s, StepSelect{StepID: "phase_1"})
	if s.SelectedStepID != "phase_1" || s.SelectedCheckpointID != "checkpoint_1" {
		t.Errorf("selection = %q/%q", s.SelectedStepID, s.SelectedCheckpointID)
	}
	same := Reduce(s, StepSelect{StepID: "missing"})
	if !reflect.DeepEqual(same, s) {
		t.Error("selecting a missing step changed state")
	}
}

func TestReduce_CheckpointSelect_moves_step(t *testing.T) {
	s := Reduce(NewState(), StepAdd{Base: "swing"})
	s = Reduce(s, CheckpointSelect{CheckpointID: "checkpoint_1"})
	if s.SelectedStepID != "phase_1" {
		t.Errorf("SelectedStepID = %q, want phase_1", s.SelectedStepID)
	}
}

func TestReduce_CheckpointRemove_prunes_expert(t *testing.T) {
	s := Reduce(NewState(), CheckpointAdd{StepID: "phase_1", Base: "grip"})
	s = Reduce(s, ExpertToggle{CheckpointID: "grip"})
	if !s.ExpertCheckpointIDs["grip"] {
		t.Fatal("expert not enabled for grip")
	}
	s = Reduce(s, CheckpointRemove{StepID: "phase_1", CheckpointID: "grip"})
	if s.ExpertCheckpointIDs["grip"] {
		t.Error("expert id survived checkpoint removal")
	}
	if s.SelectedCheckpointID != "checkpoint_1" {
		t.Errorf("SelectedCheckpointID = %q, want checkpoint_1", s.SelectedCheckpointID)
	}
}

func TestReduce_ExpertToggle(t *testing.T) {
	s := Reduce(NewState(), ExpertToggle{CheckpointID: "checkpoint_1"})
	if got := s.Expert(); !reflect.DeepEqual(got, []string{"checkpoint_1"}) {
		t.Errorf("Expert() = %v", got)
	}
	s = Reduce(s, ExpertToggle{CheckpointID: "checkpoint_1"})
	if len(s.ExpertCheckpointIDs) != 0 {
		t.Errorf("Expert() after second toggle = %v, want empty", s.Expert())
	}
	s = Reduce(s, ExpertToggle{CheckpointID: "ghost"})
	if len(s.ExpertCheckpointIDs) != 0 {
		t.Error("toggling an unknown checkpoint added it")
	}
}

func TestReduce_ConditionAdd_composite_refs_siblings(t *testing.T) {
	s := Reduce(NewState(), ConditionAdd{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionType: model.ConditionBoolean})
	s = Reduce(s, ConditionAdd{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionType: model.ConditionComposite})
	conds := s.Draft.Steps[0].Checkpoints[0].Conditions
	if len(conds) != 3 {
		t.Fatalf("conditions = %d, want 3", len(conds))
	}
	if conds[2].Refs != "cond_1, boolean" {
		t.Errorf("Refs = %q, want %q", conds[2].Refs, "cond_1, boolean")
	}
}

func TestReduce_ConditionAdd_unknown_type(t *testing.T) {
	s := NewState()
	got := Reduce(s, ConditionAdd{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionType: "magic"})
	if !reflect.DeepEqual(got, s) {
		t.Error("unknown condition type changed state")
	}
}

func TestReduce_ConditionPatch_rename_follows_refs(t *testing.T) {
	s := Reduce(NewState(), ConditionAdd{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionType: model.ConditionComposite})
	s = Reduce(s, CheckpointPatch{
		StepID:       "phase_1",
		CheckpointID: "checkpoint_1",
		ScoreMode:    ptr(model.ScoreWeighted),
		Weights:      ptr(WeightsText("cond_1:2")),
		Feedback:     &[]FeedbackDraft{{ConditionIDs: "cond_1", Message: "Keep low", Severity: "warn"}},
	})
	s = Reduce(s, ConditionPatch{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionID: "cond_1", ID: ptr("hip_drop"), Value: ptr(NumberText("0.2"))})

	cp := s.Draft.Steps[0].Checkpoints[0]
	if cp.Conditions[0].ID != "hip_drop" || cp.Conditions[0].Value != "0.2" {
		t.Errorf("condition = %+v", cp.Conditions[0])
	}
	if cp.Conditions[1].Refs != "hip_drop" {
		t.Errorf("composite Refs = %q, want hip_drop", cp.Conditions[1].Refs)
	}
	if cp.Feedback[0].ConditionIDs != "hip_drop" {
		t.Errorf("feedback ids = %q, want hip_drop", cp.Feedback[0].ConditionIDs)
	}
	if cp.Weights != "hip_drop:2" {
		t.Errorf("Weights = %q, want hip_drop:2", cp.Weights)
	}
}

func TestReduce_ConditionRemove(t *testing.T) {
	s := Reduce(NewState(), ConditionRemove{StepID: "phase_1", CheckpointID: "checkpoint_1", ConditionID: "cond_1"})
	if n := len(s.Draft.Steps[0].Checkpoints[0].Conditions); n != 0 {
		t.Errorf("conditions = %d, want 0", n)
	}
}

func TestReduce_MetaPatch(t *testing.T) {
	s := Reduce(NewState(), MetaPatch{RuleSetID: ptr("golf_drive"), ExpectedFPS: ptr(NumberText("60"))})
	if s.Draft.RuleSetID != "golf_drive" || s.Draft.ExpectedFPS != "60" {
		t.Errorf("meta = %q/%q", s.Draft.RuleSetID, s.Draft.ExpectedFPS)
	}
	if s.Draft.Sport != DefaultSport {
		t.Errorf("untouched Sport = %q, want %q", s.Draft.Sport, DefaultSport)
	}
}

func TestReduce_DraftReset(t *testing.T) {
	s := Reduce(NewState(), StepAdd{})
	s = Reduce(s, ExpertToggle{CheckpointID: "checkpoint_1"})
	s = Reduce(s, DraftReset{})
	if !reflect.DeepEqual(s, NewState()) {
		t.Errorf("Reduce(DraftReset) = %+v, want initial state", s)
	}
}

func TestReduce_DraftReplace_repairs(t *testing.T) {
	s := Reduce(NewState(), ExpertToggle{CheckpointID: "checkpoint_1"})
	d := CoachDraft{Steps: []StepDraft{NewStep("a"), NewStep("b")}}
	d.Steps[1].Checkpoints = []CheckpointDraft{NewCheckpoint("b1", "b", "c")}
	s = Reduce(s, DraftReplace{Draft: d})
	if s.SelectedStepID != "a" || s.SelectedCheckpointID != "" {
		t.Errorf("selection = %q/%q, want a/empty", s.SelectedStepID, s.SelectedCheckpointID)
	}
	if len(s.ExpertCheckpointIDs) != 0 {
		t.Errorf("expert ids = %v, want empty", s.Expert())
	}
}

func TestReduce_nil_action(t *testing.T) {
	s := NewState()
	if got := Reduce(s, nil); !reflect.DeepEqual(got, s) {
		t.Error("Reduce(nil) changed state")
	}
}

func TestReduce_properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("adding N entities with colliding bases yields N distinct ids", prop.ForAll(
		func(n int, baseIdx int) bool {
			base := collidingBases[baseIdx]
			s := NewState()
			for i := 0; i < n; i++ {
				s = Reduce(s, StepAdd{Base: base})
				s = Reduce(s, CheckpointAdd{StepID: s.SelectedStepID, Base: base})
				s = Reduce(s, ConditionAdd{StepID: s.SelectedStepID, CheckpointID: s.SelectedCheckpointID, ConditionType: model.ConditionThreshold, Base: base})
			}
			seen := make(map[string]bool)
			total := 0
			for _, st := range s.Draft.Steps {
				for _, id := range append([]string{st.ID}, checkpointAndConditionIDs(st)...) {
					total++
					seen[id] = true
				}
			}
			return len(seen) == total && len(s.Draft.Steps) == n+1
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, len(collidingBases)-1),
	))

	properties.Property("removing the selected step never leaves a dangling selection", prop.ForAll(
		func(n int, removals int) bool {
			s := NewState()
			for i := 0; i < n; i++ {
				s = Reduce(s, StepAdd{})
			}
			for i := 0; i < removals; i++ {
				s = Reduce(s, StepRemove{StepID: s.SelectedStepID})
				if s.SelectedStepID == "" {
					if len(s.Draft.Steps) != 0 {
						return false
					}
					continue
				}
				if s.Draft.StepIndex(s.SelectedStepID) < 0 {
					return false
				}
				st := s.Draft.Steps[s.Draft.StepIndex(s.SelectedStepID)]
				if s.SelectedCheckpointID != "" && st.CheckpointIndex(s.SelectedCheckpointID) < 0 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

var collidingBases = []string{"phase", "checkpoint", "cond", "x", ""}

func checkpointAndConditionIDs(st StepDraft) []string {
	var ids []string
	for _, cp := range st.Checkpoints {
		ids = append(ids, cp.ID)
		for _, c := range cp.Conditions {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func ptr[T any](v T) *T { return &v }
