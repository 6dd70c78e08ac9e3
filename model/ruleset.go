package model

// RuleSet is the versioned wire document consumed by the evaluation engine.
// Field names and nesting are the compatibility contract.
type RuleSet struct {
	SchemaVersion string         `json:"schema_version"`
	RuleSetID     string         `json:"rule_set_id"`
	Sport         string         `json:"sport"`
	SportVersion  string         `json:"sport_version"`
	MetricProfile *MetricProfile `json:"metric_profile,omitempty"`
	Metadata      Metadata       `json:"metadata"`
	Inputs        Inputs         `json:"inputs"`
	Globals       map[string]any `json:"globals"`
	Phases        []Phase        `json:"phases"`
	Rules         []Rule         `json:"rules"`
}

// Metric profile types.
const (
	ProfileTypeGeneric = "generic"
	ProfileTypePreset  = "preset"
)

// MetricProfile binds a rule set to a capability profile.
type MetricProfile struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	MetricSpace string `json:"metric_space"`
	PresetID    string `json:"preset_id,omitempty"`
}

// Metadata describes the rule set for humans.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	Changelog   []string `json:"changelog,omitempty"`
}

// Inputs carries the evaluation inputs the engine reads.
type Inputs struct {
	ExpectedFPS Number   `json:"expected_fps,omitzero"`
	Preprocess  []string `json:"preprocess,omitempty"`
}

// Phase is a named time segment. Exactly one of FrameRange or EventWindow is set.
type Phase struct {
	ID               string       `json:"id"`
	Label            string       `json:"label"`
	Description      string       `json:"description,omitempty"`
	FrameRange       []Number     `json:"frame_range,omitempty"`
	EventWindow      *EventWindow `json:"event_window,omitempty"`
	JointsOfInterest []Number     `json:"joints_of_interest,omitempty"`
}

// EventWindow is a signed millisecond window around a named event.
type EventWindow struct {
	Event    string   `json:"event"`
	WindowMS []Number `json:"window_ms"`
}

// Severity levels shared by rules and feedback.
const (
	SeverityInfo = "info"
	SeverityWarn = "warn"
	SeverityFail = "fail"
)

// Rule is a checkpoint attached to a phase.
type Rule struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description,omitempty"`
	Phase       string      `json:"phase"`
	Category    string      `json:"category"`
	Severity    string      `json:"severity"`
	Signal      *Signal     `json:"signal"`
	Conditions  []Condition `json:"conditions"`
	Score       *Score      `json:"score"`
	Feedback    []Feedback  `json:"feedback,omitempty"`
}

// Signal types.
const (
	SignalFrameRangeRef = "frame_range_ref"
	SignalDirect        = "direct"
	SignalEventWindow   = "event_window"
)

// PhaseRefPrefix prefixes a frame_range_ref signal's phase reference.
const PhaseRefPrefix = "phase:"

// Signal locates the frames a rule evaluates. Fields used depend on Type.
type Signal struct {
	Type         string   `json:"type"`
	Ref          string   `json:"ref,omitempty"`
	Event        string   `json:"event,omitempty"`
	WindowMS     []Number `json:"window_ms,omitempty"`
	DefaultPhase string   `json:"default_phase,omitempty"`
	FrameRange   []Number `json:"frame_range,omitempty"`
	Joints       []Number `json:"joints,omitempty"`
}

// Score modes.
const (
	ScoreWeighted     = "weighted"
	ScoreAllOrNothing = "all-or-nothing"
	ScoreAverage      = "average"
)

// Score aggregates condition results into a rule score.
type Score struct {
	Mode      string            `json:"mode"`
	PassScore Number            `json:"pass_score"`
	MaxScore  Number            `json:"max_score"`
	Weights   map[string]Number `json:"weights,omitempty"`
}

// Feedback is a message shown when referenced conditions fail.
type Feedback struct {
	ConditionIDs []string `json:"condition_ids"`
	Message      string   `json:"message"`
	Severity     string   `json:"severity"`
	AttachToTS   string   `json:"attach_to_ts,omitempty"`
}
