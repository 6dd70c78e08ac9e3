package ruleset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pitabwire/coachbuilder/model"
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	semverPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	attachPattern  = regexp.MustCompile(`^(event:.+|frame:\d+)$`)
	validSeverity  = map[string]bool{model.SeverityInfo: true, model.SeverityWarn: true, model.SeverityFail: true}
	validScoreMode = map[string]bool{model.ScoreWeighted: true, model.ScoreAllOrNothing: true, model.ScoreAverage: true}
	validLogic     = map[string]bool{model.LogicAll: true, model.LogicAny: true, model.LogicNone: true}
	validReference = map[string]bool{model.ReferenceGlobal: true, model.ReferenceLocal: true}
	validProfile   = map[string]bool{model.ProfileTypeGeneric: true, model.ProfileTypePreset: true}

	comparisonOps = []string{model.OpGTE, model.OpGT, model.OpLTE, model.OpLT, model.OpEQ, model.OpNEQ}
	geometryOps   = append(append([]string(nil), comparisonOps...), model.OpBetween)
	rangeOps      = []string{model.OpBetween}
	booleanOps    = []string{model.OpIsTrue, model.OpIsFalse}
	trendOps      = []string{model.OpIncreasing, model.OpDecreasing}
)

// Validator checks rule sets structurally and referentially. It holds no
// state; the same document always yields the same errors in the same order.
type Validator struct{}

// NewValidator creates a new Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate returns every problem in rs, ordered by the position of the
// owning entity. An empty result means the document is valid. When profile is
// non-nil, condition types and metrics are also checked against it.
func (v *Validator) Validate(rs model.RuleSet, profile *model.ProfileCapability) []model.ValidationError {
	var errs []model.ValidationError

	errs = append(errs, v.validateRoot(rs)...)

	phaseIDs := make(map[string]bool)
	for i, ph := range rs.Phases {
		pp := fmt.Sprintf("phases[%d]", i)
		errs = append(errs, v.validatePhase(pp, ph, phaseIDs)...)
		if ph.ID != "" {
			phaseIDs[ph.ID] = true
		}
	}

	// Rule references resolve against every declared phase, not only those
	// declared before the rule.
	declared := make(map[string]bool, len(rs.Phases))
	for _, ph := range rs.Phases {
		declared[ph.ID] = true
	}
	ruleIDs := make(map[string]bool)
	for i, r := range rs.Rules {
		rp := fmt.Sprintf("rules[%d]", i)
		errs = append(errs, v.validateRule(rp, r, declared, ruleIDs, profile)...)
		if r.ID != "" {
			ruleIDs[r.ID] = true
		}
	}
	return errs
}

func (v *Validator) validateRoot(rs model.RuleSet) []model.ValidationError {
	var errs []model.ValidationError

	switch {
	case rs.SchemaVersion == "":
		errs = append(errs, required("schema_version"))
	case !semverPattern.MatchString(rs.SchemaVersion):
		errs = append(errs, verr("schema_version", model.CodeInvalidSemver, "value", rs.SchemaVersion))
	default:
		if major, _ := SchemaMajor(rs.SchemaVersion); !SupportedMajor(major) {
			errs = append(errs, verr("schema_version", model.CodeUnsupportedSchema, "major", fmt.Sprint(major)))
		}
	}
	if rs.RuleSetID == "" {
		errs = append(errs, required("rule_set_id"))
	}
	if rs.Sport == "" {
		errs = append(errs, required("sport"))
	}
	switch {
	case rs.SportVersion == "":
		errs = append(errs, required("sport_version"))
	case !semverPattern.MatchString(rs.SportVersion):
		errs = append(errs, verr("sport_version", model.CodeInvalidSemver, "value", rs.SportVersion))
	}
	if mp := rs.MetricProfile; mp != nil {
		if mp.ID == "" {
			errs = append(errs, required("metric_profile.id"))
		}
		if !validProfile[mp.Type] {
			errs = append(errs, verr("metric_profile.type", model.CodeInvalidMetricProfile,
				"value", mp.Type, "allowed", model.ProfileTypeGeneric+"|"+model.ProfileTypePreset))
		}
	}
	if rs.Metadata.Title == "" {
		errs = append(errs, required("metadata.title"))
	}
	if fps := rs.Inputs.ExpectedFPS; fps.Set() && !fps.Valid() {
		errs = append(errs, verr("inputs.expected_fps", model.CodeNotANumber))
	}
	if len(rs.Phases) == 0 {
		errs = append(errs, required("phases"))
	}
	if len(rs.Rules) == 0 {
		errs = append(errs, required("rules"))
	}
	return errs
}

func (v *Validator) validatePhase(prefix string, ph model.Phase, seen map[string]bool) []model.ValidationError {
	var errs []model.ValidationError

	errs = append(errs, validateID(prefix+".id", ph.ID, seen)...)
	if ph.Label == "" {
		errs = append(errs, required(prefix+".label"))
	}

	hasFrame := ph.FrameRange != nil
	hasEvent := ph.EventWindow != nil
	switch {
	case hasFrame == hasEvent:
		errs = append(errs, verr(prefix, model.CodePhaseRangeModeRequired))
	case hasFrame:
		if !model.IsNonNegativeIntPair(ph.FrameRange) {
			errs = append(errs, verr(prefix+".frame_range", model.CodeInvalidFrameRange))
		}
	default:
		if ph.EventWindow.Event == "" {
			errs = append(errs, required(prefix+".event_window.event"))
		}
		if !model.IsNumericPair(ph.EventWindow.WindowMS) {
			errs = append(errs, verr(prefix+".event_window.window_ms", model.CodeInvalidWindow))
		}
	}
	errs = append(errs, validateJoints(prefix+".joints_of_interest", ph.JointsOfInterest)...)
	return errs
}

func (v *Validator) validateRule(prefix string, r model.Rule, phaseIDs, seen map[string]bool, profile *model.ProfileCapability) []model.ValidationError {
	var errs []model.ValidationError

	errs = append(errs, validateID(prefix+".id", r.ID, seen)...)
	if r.Label == "" {
		errs = append(errs, required(prefix+".label"))
	}
	switch {
	case r.Phase == "":
		errs = append(errs, required(prefix+".phase"))
	case !phaseIDs[r.Phase]:
		errs = append(errs, verr(prefix+".phase", model.CodeUnknownPhaseRef, "id", r.Phase))
	}
	if r.Category == "" {
		errs = append(errs, required(prefix+".category"))
	}
	if !validSeverity[r.Severity] {
		errs = append(errs, verr(prefix+".severity", model.CodeInvalidSeverity, "value", r.Severity))
	}

	if r.Signal == nil {
		errs = append(errs, required(prefix+".signal"))
	} else {
		errs = append(errs, v.validateSignal(prefix+".signal", *r.Signal, phaseIDs)...)
	}

	// Every sibling id is collected first so composite and feedback
	// references resolve regardless of declaration order.
	conditionIDs := make(map[string]bool, len(r.Conditions))
	for _, c := range r.Conditions {
		if c.ID != "" {
			conditionIDs[c.ID] = true
		}
	}
	if len(r.Conditions) == 0 {
		errs = append(errs, verr(prefix+".conditions", model.CodeConditionsRequired))
	}
	seenConditions := make(map[string]bool, len(r.Conditions))
	for j, c := range r.Conditions {
		cp := fmt.Sprintf("%s.conditions[%d]", prefix, j)
		errs = append(errs, v.validateCondition(cp, c, seenConditions, conditionIDs)...)
		if profile != nil {
			errs = append(errs, v.validateCapability(cp, c, r.Phase, profile)...)
		}
		if c.ID != "" {
			seenConditions[c.ID] = true
		}
	}

	if r.Score == nil {
		errs = append(errs, required(prefix+".score"))
	} else {
		errs = append(errs, v.validateScore(prefix+".score", *r.Score)...)
	}

	for k, fb := range r.Feedback {
		fp := fmt.Sprintf("%s.feedback[%d]", prefix, k)
		errs = append(errs, v.validateFeedback(fp, fb, conditionIDs)...)
	}
	return errs
}

func (v *Validator) validateSignal(prefix string, s model.Signal, phaseIDs map[string]bool) []model.ValidationError {
	var errs []model.ValidationError

	switch s.Type {
	case model.SignalFrameRangeRef:
		id, ok := strings.CutPrefix(s.Ref, model.PhaseRefPrefix)
		switch {
		case !ok || id == "":
			errs = append(errs, verr(prefix+".ref", model.CodeInvalidSignalRef, "value", s.Ref))
		case !phaseIDs[id]:
			errs = append(errs, verr(prefix+".ref", model.CodeUnknownPhaseRef, "id", id))
		}
	case model.SignalEventWindow:
		if s.Event == "" {
			errs = append(errs, required(prefix+".event"))
		}
		if !model.IsNumericPair(s.WindowMS) {
			errs = append(errs, verr(prefix+".window_ms", model.CodeInvalidWindow))
		}
		if s.DefaultPhase != "" && !phaseIDs[s.DefaultPhase] {
			errs = append(errs, verr(prefix+".default_phase", model.CodeUnknownPhaseRef, "id", s.DefaultPhase))
		}
	case model.SignalDirect:
		if !model.IsNonNegativeIntPair(s.FrameRange) {
			errs = append(errs, verr(prefix+".frame_range", model.CodeInvalidFrameRange))
		}
		errs = append(errs, validateJoints(prefix+".joints", s.Joints)...)
	default:
		errs = append(errs, verr(prefix+".type", model.CodeInvalidSignalType, "value", s.Type,
			"allowed", model.SignalFrameRangeRef+"|"+model.SignalDirect+"|"+model.SignalEventWindow))
	}
	return errs
}

func (v *Validator) validateCondition(prefix string, c model.Condition, seen, siblings map[string]bool) []model.ValidationError {
	var errs []model.ValidationError

	errs = append(errs, validateID(prefix+".id", c.ID, seen)...)
	if !c.Type.Known() {
		return append(errs, verr(prefix+".type", model.CodeInvalidConditionType, "value", string(c.Type)))
	}

	switch c.Type {
	case model.ConditionThreshold:
		errs = append(errs, requireMetric(prefix, c)...)
		errs = append(errs, checkOp(prefix, c.Op, comparisonOps)...)
		errs = append(errs, checkScalar(prefix+".value", c.Value)...)
		errs = append(errs, checkOptionalNumber(prefix+".tolerance", c.Tolerance)...)
	case model.ConditionRange:
		errs = append(errs, requireMetric(prefix, c)...)
		errs = append(errs, checkOp(prefix, c.Op, rangeOps)...)
		errs = append(errs, checkPair(prefix+".value", c.Value)...)
		errs = append(errs, checkOptionalNumber(prefix+".tolerance", c.Tolerance)...)
	case model.ConditionBoolean:
		errs = append(errs, requireMetric(prefix, c)...)
		errs = append(errs, checkOp(prefix, c.Op, booleanOps)...)
	case model.ConditionEventExists:
		if c.Event == "" {
			errs = append(errs, required(prefix+".event"))
		}
		if c.WindowMS != nil && !model.IsNumericPair(c.WindowMS) {
			errs = append(errs, verr(prefix+".window_ms", model.CodeInvalidWindow))
		}
	case model.ConditionTrend:
		errs = append(errs, requireMetric(prefix, c)...)
		errs = append(errs, checkOp(prefix, c.Op, trendOps)...)
		if wf := c.WindowFrames; wf.Set() {
			if f, _ := wf.Float(); !wf.IsInt() || f < 1 {
				errs = append(errs, verr(prefix+".window_frames", model.CodeInvalidWindowFrames))
			}
		}
		if c.WindowMS != nil && !model.IsNumericPair(c.WindowMS) {
			errs = append(errs, verr(prefix+".window_ms", model.CodeInvalidWindow))
		}
	case model.ConditionComposite:
		if !validLogic[c.Logic] {
			errs = append(errs, verr(prefix+".logic", model.CodeInvalidLogic, "value", c.Logic,
				"allowed", model.LogicAll+"|"+model.LogicAny+"|"+model.LogicNone))
		}
		if len(c.Conditions) == 0 {
			errs = append(errs, required(prefix+".conditions"))
		}
		for _, ref := range c.Conditions {
			if !siblings[ref] {
				errs = append(errs, verr(prefix, model.CodeUnknownConditionRef, "ref", ref))
			}
		}
	case model.ConditionAngle:
		if n := len(c.Joints); n < 2 || n > 3 {
			errs = append(errs, verr(prefix+".joints", model.CodeInvalidJointCount, "count", fmt.Sprint(n)))
		}
		errs = append(errs, validateJoints(prefix+".joints", c.Joints)...)
		errs = append(errs, checkGeometry(prefix, c)...)
		if c.Reference != "" && !validReference[c.Reference] {
			errs = append(errs, verr(prefix+".reference", model.CodeInvalidReference, "value", c.Reference))
		}
	case model.ConditionDistance:
		if len(c.Pair) != 2 || !allJoints(c.Pair) {
			errs = append(errs, verr(prefix+".pair", model.CodeInvalidPair))
		}
		errs = append(errs, checkGeometry(prefix, c)...)
	}
	return errs
}

func (v *Validator) validateCapability(prefix string, c model.Condition, phaseID string, profile *model.ProfileCapability) []model.ValidationError {
	var errs []model.ValidationError
	if !c.Type.Known() {
		return nil
	}
	if !profile.AllowsConditionType(c.Type) {
		errs = append(errs, verr(prefix+".type", model.CodeConditionTypeNotAllowed,
			"value", string(c.Type), "profile", profile.ID))
	}
	if c.Type.UsesMetric() && c.Metric != "" && !profile.AllowsMetric(phaseID, c.Metric) {
		errs = append(errs, verr(prefix+".metric", model.CodeMetricNotAllowed,
			"value", c.Metric, "phase", phaseID, "profile", profile.ID))
	}
	return errs
}

func (v *Validator) validateScore(prefix string, s model.Score) []model.ValidationError {
	var errs []model.ValidationError

	if !validScoreMode[s.Mode] {
		errs = append(errs, verr(prefix+".mode", model.CodeInvalidScoreMode, "value", s.Mode,
			"allowed", model.ScoreWeighted+"|"+model.ScoreAllOrNothing+"|"+model.ScoreAverage))
	}
	errs = append(errs, checkRequiredNumber(prefix+".pass_score", s.PassScore)...)
	if ms := s.MaxScore; ms.Valid() {
		if f, _ := ms.Float(); f < 0 {
			errs = append(errs, verr(prefix+".max_score", model.CodeNegativeMaxScore))
		}
	} else {
		errs = append(errs, checkRequiredNumber(prefix+".max_score", ms)...)
	}
	if s.Mode == model.ScoreWeighted && len(s.Weights) == 0 {
		errs = append(errs, verr(prefix+".weights", model.CodeWeightedRequiresWeights))
	}
	keys := make([]string, 0, len(s.Weights))
	for k := range s.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !s.Weights[k].Valid() {
			errs = append(errs, verr(prefix+".weights."+k, model.CodeNotANumber))
		}
	}
	return errs
}

func (v *Validator) validateFeedback(prefix string, fb model.Feedback, conditionIDs map[string]bool) []model.ValidationError {
	var errs []model.ValidationError

	if len(fb.ConditionIDs) == 0 {
		errs = append(errs, required(prefix+".condition_ids"))
	}
	for m, id := range fb.ConditionIDs {
		if !conditionIDs[id] {
			errs = append(errs, verr(fmt.Sprintf("%s.condition_ids[%d]", prefix, m), model.CodeUnknownConditionRef, "ref", id))
		}
	}
	if fb.Message == "" {
		errs = append(errs, required(prefix+".message"))
	}
	if !validSeverity[fb.Severity] {
		errs = append(errs, verr(prefix+".severity", model.CodeInvalidSeverity, "value", fb.Severity))
	}
	if fb.AttachToTS != "" && !attachPattern.MatchString(fb.AttachToTS) {
		errs = append(errs, verr(prefix+".attach_to_ts", model.CodeInvalidAttachToTS, "value", fb.AttachToTS))
	}
	return errs
}

// validateID checks presence, pattern and uniqueness against seen.
func validateID(path, id string, seen map[string]bool) []model.ValidationError {
	switch {
	case id == "":
		return []model.ValidationError{required(path)}
	case !idPattern.MatchString(id):
		return []model.ValidationError{verr(path, model.CodeInvalidID, "value", id)}
	case seen[id]:
		return []model.ValidationError{verr(path, model.CodeDuplicateID, "id", id)}
	}
	return nil
}

func validateJoints(path string, joints []model.Number) []model.ValidationError {
	var errs []model.ValidationError
	for k, j := range joints {
		if !isJoint(j) {
			errs = append(errs, verr(fmt.Sprintf("%s[%d]", path, k), model.CodeInvalidJoint))
		}
	}
	return errs
}

func isJoint(n model.Number) bool { return n.IsNonNegativeInt() }

func allJoints(list []model.Number) bool {
	for _, n := range list {
		if !isJoint(n) {
			return false
		}
	}
	return true
}

func requireMetric(prefix string, c model.Condition) []model.ValidationError {
	if c.Metric == "" {
		return []model.ValidationError{required(prefix + ".metric")}
	}
	return nil
}

func checkOp(prefix, op string, allowed []string) []model.ValidationError {
	for _, a := range allowed {
		if op == a {
			return nil
		}
	}
	return []model.ValidationError{verr(prefix+".op", model.CodeInvalidOp, "value", op, "allowed", strings.Join(allowed, "|"))}
}

// checkGeometry validates the operator and operand shared by angle and
// distance conditions: between takes a pair, every other operator a number.
func checkGeometry(prefix string, c model.Condition) []model.ValidationError {
	errs := checkOp(prefix, c.Op, geometryOps)
	if c.Op == model.OpBetween {
		errs = append(errs, checkPair(prefix+".value", c.Value)...)
	} else {
		errs = append(errs, checkScalar(prefix+".value", c.Value)...)
	}
	return append(errs, checkOptionalNumber(prefix+".tolerance", c.Tolerance)...)
}

func checkScalar(path string, v model.Value) []model.ValidationError {
	if !v.Set() {
		return []model.ValidationError{verr(path, model.CodeValueRequired)}
	}
	if _, ok := v.Number(); !ok {
		return []model.ValidationError{verr(path, model.CodeNotANumber)}
	}
	return nil
}

func checkPair(path string, v model.Value) []model.ValidationError {
	if _, _, ok := v.Pair(); !ok {
		return []model.ValidationError{verr(path, model.CodeValuePairRequired)}
	}
	return nil
}

func checkOptionalNumber(path string, n model.Number) []model.ValidationError {
	if n.Set() && !n.Valid() {
		return []model.ValidationError{verr(path, model.CodeNotANumber)}
	}
	return nil
}

func checkRequiredNumber(path string, n model.Number) []model.ValidationError {
	if !n.Set() {
		return []model.ValidationError{required(path)}
	}
	return checkOptionalNumber(path, n)
}

func required(path string) model.ValidationError {
	return model.ValidationError{Path: path, Code: model.CodeRequired}
}

// verr builds an error; kv holds alternating param keys and values.
func verr(path, code string, kv ...string) model.ValidationError {
	e := model.ValidationError{Path: path, Code: code}
	if len(kv) > 1 {
		e.Params = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Params[kv[i]] = kv[i+1]
		}
	}
	return e
}
