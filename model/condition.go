package model

// ConditionType is the discriminator of the Condition union.
type ConditionType string

// Condition types. The set is closed.
const (
	ConditionThreshold   ConditionType = "threshold"
	ConditionRange       ConditionType = "range"
	ConditionBoolean     ConditionType = "boolean"
	ConditionEventExists ConditionType = "event_exists"
	ConditionTrend       ConditionType = "trend"
	ConditionComposite   ConditionType = "composite"
	ConditionAngle       ConditionType = "angle"
	ConditionDistance    ConditionType = "distance"
)

// ConditionTypes lists every condition type in declaration order.
var ConditionTypes = []ConditionType{
	ConditionThreshold,
	ConditionRange,
	ConditionBoolean,
	ConditionEventExists,
	ConditionTrend,
	ConditionComposite,
	ConditionAngle,
	ConditionDistance,
}

// Known reports whether t is one of the closed set of condition types.
func (t ConditionType) Known() bool {
	switch t {
	case ConditionThreshold, ConditionRange, ConditionBoolean, ConditionEventExists,
		ConditionTrend, ConditionComposite, ConditionAngle, ConditionDistance:
		return true
	}
	return false
}

// UsesMetric reports whether conditions of this type name a metric that
// capability gating must check.
func (t ConditionType) UsesMetric() bool {
	switch t {
	case ConditionThreshold, ConditionRange, ConditionBoolean, ConditionTrend, ConditionDistance:
		return true
	}
	return false
}

// Comparison operators.
const (
	OpGTE        = "gte"
	OpGT         = "gt"
	OpLTE        = "lte"
	OpLT         = "lt"
	OpEQ         = "eq"
	OpNEQ        = "neq"
	OpBetween    = "between"
	OpIsTrue     = "is_true"
	OpIsFalse    = "is_false"
	OpIncreasing = "increasing"
	OpDecreasing = "decreasing"
)

// Composite logic values.
const (
	LogicAll  = "all"
	LogicAny  = "any"
	LogicNone = "none"
)

// Angle reference frames.
const (
	ReferenceGlobal = "global"
	ReferenceLocal  = "local"
)

// Condition is one atomic or composite test. Type selects which of the
// remaining fields are meaningful:
//
//	threshold     metric, op, value, tolerance, abs_val
//	range         metric, op=between, value pair, tolerance, abs_val
//	boolean       metric, op
//	event_exists  event, window_ms
//	trend         metric, op, window_frames, window_ms
//	composite     logic, conditions
//	angle         joints, op, value, reference, tolerance
//	distance      pair, op, value, metric, tolerance
type Condition struct {
	ID           string        `json:"id"`
	Type         ConditionType `json:"type"`
	Metric       string        `json:"metric,omitempty"`
	Op           string        `json:"op,omitempty"`
	Value        Value         `json:"value,omitzero"`
	Tolerance    Number        `json:"tolerance,omitzero"`
	AbsVal       *bool         `json:"abs_val,omitempty"`
	Event        string        `json:"event,omitempty"`
	WindowMS     []Number      `json:"window_ms,omitempty"`
	WindowFrames Number        `json:"window_frames,omitzero"`
	Logic        string        `json:"logic,omitempty"`
	Conditions   []string      `json:"conditions,omitempty"`
	Joints       []Number      `json:"joints,omitempty"`
	Pair         []Number      `json:"pair,omitempty"`
	Reference    string        `json:"reference,omitempty"`
}

// Bool returns a pointer to b, for optional boolean fields.
func Bool(b bool) *bool { return &b }
