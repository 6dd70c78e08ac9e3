package draft

import "sort"

// State is everything the editor holds: the draft plus selection and the set
// of checkpoints with expert editing unlocked. An empty selection id means
// nothing is selected.
type State struct {
	Draft                CoachDraft      `json:"draft"`
	SelectedStepID       string          `json:"selected_step_id"`
	SelectedCheckpointID string          `json:"selected_checkpoint_id"`
	ExpertCheckpointIDs  map[string]bool `json:"expert_checkpoint_ids"`
}

// NewState returns the state for a fresh draft with its first step and
// checkpoint selected.
func NewState() State {
	return Replace(New())
}

// Replace returns a state holding d with selection repaired.
func Replace(d CoachDraft) State {
	return repair(State{Draft: d, ExpertCheckpointIDs: map[string]bool{}})
}

// Expert returns the expert checkpoint ids in sorted order.
func (s State) Expert() []string {
	ids := make([]string, 0, len(s.ExpertCheckpointIDs))
	for id := range s.ExpertCheckpointIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s State) clone() State {
	out := s
	out.Draft = s.Draft.Clone()
	out.ExpertCheckpointIDs = make(map[string]bool, len(s.ExpertCheckpointIDs))
	for id := range s.ExpertCheckpointIDs {
		out.ExpertCheckpointIDs[id] = true
	}
	return out
}

// Action is one editor intent. The set of actions is closed.
type Action interface {
	// Type returns the action's wire name, such as "step/add".
	Type() string
	// apply returns the next state, or ok=false when the action does not
	// apply to s. It may mutate s, which is always a private clone.
	apply(s State) (next State, ok bool)
}

// Reduce applies a to s. It never fails: an action that does not apply
// returns s unchanged. The input state is never mutated.
func Reduce(s State, a Action) State {
	if a == nil {
		return s
	}
	next, ok := a.apply(s.clone())
	if !ok {
		return s
	}
	return repair(next)
}

// repair restores the selection invariant and prunes expert ids whose
// checkpoint no longer exists.
func repair(s State) State {
	present := make(map[string]bool)
	for _, step := range s.Draft.Steps {
		for _, cp := range step.Checkpoints {
			present[cp.ID] = true
		}
	}
	for id := range s.ExpertCheckpointIDs {
		if !present[id] {
			delete(s.ExpertCheckpointIDs, id)
		}
	}
	if s.ExpertCheckpointIDs == nil {
		s.ExpertCheckpointIDs = map[string]bool{}
	}

	si := s.Draft.StepIndex(s.SelectedStepID)
	if si < 0 {
		if len(s.Draft.Steps) == 0 {
			s.SelectedStepID = ""
			s.SelectedCheckpointID = ""
			return s
		}
		si = 0
		s.SelectedStepID = s.Draft.Steps[0].ID
	}
	step := &s.Draft.Steps[si]
	if step.CheckpointIndex(s.SelectedCheckpointID) < 0 {
		s.SelectedCheckpointID = ""
		if len(step.Checkpoints) > 0 {
			s.SelectedCheckpointID = step.Checkpoints[0].ID
		}
	}
	return s
}
