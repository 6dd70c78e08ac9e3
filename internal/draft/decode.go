package draft

import (
	"encoding/json"
	"fmt"
)

var actionFactories = map[string]func() Action{
	ActionStepAdd:          func() Action { return &StepAdd{} },
	ActionStepRemove:       func() Action { return &StepRemove{} },
	ActionStepRename:       func() Action { return &StepRename{} },
	ActionStepPatch:        func() Action { return &StepPatch{} },
	ActionStepSelect:       func() Action { return &StepSelect{} },
	ActionCheckpointAdd:    func() Action { return &CheckpointAdd{} },
	ActionCheckpointRemove: func() Action { return &CheckpointRemove{} },
	ActionCheckpointPatch:  func() Action { return &CheckpointPatch{} },
	ActionCheckpointSelect: func() Action { return &CheckpointSelect{} },
	ActionConditionAdd:     func() Action { return &ConditionAdd{} },
	ActionConditionRemove:  func() Action { return &ConditionRemove{} },
	ActionConditionPatch:   func() Action { return &ConditionPatch{} },
	ActionExpertToggle:     func() Action { return &ExpertToggle{} },
	ActionMetaPatch:        func() Action { return &MetaPatch{} },
	ActionDraftReset:       func() Action { return &DraftReset{} },
	ActionDraftReplace:     func() Action { return &DraftReplace{} },
}

// DecodeAction reads an action from its wire form, an object whose "type"
// member names the action and whose other members are the action's fields.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("draft: decoding action: %w", err)
	}
	factory, ok := actionFactories[head.Type]
	if !ok {
		return nil, fmt.Errorf("draft: unknown action type %q", head.Type)
	}
	a := factory()
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("draft: decoding %s: %w", head.Type, err)
	}
	return a, nil
}

// EncodeAction renders a in its wire form.
func EncodeAction(a Action) ([]byte, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	name, _ := json.Marshal(a.Type())
	fields["type"] = name
	return json.Marshal(fields)
}
