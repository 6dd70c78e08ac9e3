package model

import (
	"fmt"
	"sort"
	"strings"
)

// Validation error codes. The set is closed; presentation layers key
// localized messages on it.
const (
	CodeRequired                = "required"
	CodeInvalidSemver           = "invalid_semver"
	CodeInvalidID               = "invalid_id"
	CodeDuplicateID             = "duplicate_id"
	CodePhaseRangeModeRequired  = "phase_range_mode_required"
	CodeInvalidFrameRange       = "invalid_frame_range"
	CodeInvalidWindow           = "invalid_window"
	CodeInvalidJoint            = "invalid_joint"
	CodeUnknownPhaseRef         = "unknown_phase_ref"
	CodeInvalidSignalRef        = "invalid_signal_ref"
	CodeInvalidSignalType       = "invalid_signal_type"
	CodeConditionsRequired      = "conditions_required"
	CodeInvalidConditionType    = "invalid_condition_type"
	CodeInvalidOp               = "invalid_op"
	CodeValueRequired           = "value_required"
	CodeValuePairRequired       = "value_pair_required"
	CodeNotANumber              = "not_a_number"
	CodeInvalidJointCount       = "invalid_joint_count"
	CodeInvalidPair             = "invalid_pair"
	CodeInvalidLogic            = "invalid_logic"
	CodeInvalidReference        = "invalid_reference"
	CodeUnknownConditionRef     = "unknown_condition_ref"
	CodeInvalidWindowFrames     = "invalid_window_frames"
	CodeInvalidScoreMode        = "invalid_score_mode"
	CodeNegativeMaxScore        = "negative_max_score"
	CodeWeightedRequiresWeights = "weighted_requires_weights"
	CodeInvalidSeverity         = "invalid_severity"
	CodeInvalidAttachToTS       = "invalid_attach_to_ts"
	CodeInvalidMetricProfile    = "invalid_metric_profile"
	CodeUnsupportedSchema       = "unsupported_schema_version"
	CodeConditionTypeNotAllowed = "condition_type_not_allowed"
	CodeMetricNotAllowed        = "metric_not_allowed"
	CodeInvalidType             = "invalid_type"
	CodeUnparsableField         = "unparsable_field"
)

// ValidationError locates one data-quality problem in a rule set. Path uses
// dotted/bracket access such as rules[0].conditions[1].value.
type ValidationError struct {
	Path   string            `json:"path"`
	Code   string            `json:"code"`
	Params map[string]string `json:"params,omitempty"`
}

func (e ValidationError) Error() string {
	if len(e.Params) == 0 {
		return fmt.Sprintf("%s: %s", e.Path, e.Code)
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Params[k])
	}
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Code, strings.Join(parts, ", "))
}

// FieldErrors converts validation errors into error-envelope details.
func FieldErrors(errs []ValidationError) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: e.Path, Code: e.Code, Message: e.Error(), Params: e.Params})
	}
	return out
}
