package ruleset

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/coachbuilder/model"
)

const idPatternText = `^[A-Za-z0-9_.-]+$`

// SchemaDocument describes the wire document as OpenAPI 3 component schemas.
// It documents the shape for external engines; Validator remains the
// authority on correctness.
func SchemaDocument() *openapi3.T {
	phase := phaseSchema()
	condition := conditionSchema()
	rule := ruleSchema(openapi3.NewSchemaRef("#/components/schemas/Condition", condition))
	root := ruleSetSchema(
		openapi3.NewSchemaRef("#/components/schemas/Phase", phase),
		openapi3.NewSchemaRef("#/components/schemas/Rule", rule),
	)
	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "Motion rule set",
			Version: SchemaV2,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"RuleSet":   openapi3.NewSchemaRef("", root),
				"Phase":     openapi3.NewSchemaRef("", phase),
				"Rule":      openapi3.NewSchemaRef("", rule),
				"Condition": openapi3.NewSchemaRef("", condition),
			},
		},
	}
}

// JSONSchema returns the schema of a whole rule set document.
func JSONSchema() *openapi3.Schema {
	return SchemaDocument().Components.Schemas["RuleSet"].Value
}

func ruleSetSchema(phase, rule *openapi3.SchemaRef) *openapi3.Schema {
	profile := openapi3.NewObjectSchema().
		WithProperty("id", idSchema()).
		WithProperty("type", openapi3.NewStringSchema().WithEnum(model.ProfileTypeGeneric, model.ProfileTypePreset)).
		WithProperty("metric_space", openapi3.NewStringSchema()).
		WithProperty("preset_id", openapi3.NewStringSchema())
	profile.Required = []string{"id", "type"}

	metadata := openapi3.NewObjectSchema().
		WithProperty("title", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("authors", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("notes", openapi3.NewStringSchema()).
		WithProperty("changelog", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	metadata.Required = []string{"title"}

	inputs := openapi3.NewObjectSchema().
		WithProperty("expected_fps", openapi3.NewFloat64Schema().WithMin(0)).
		WithProperty("preprocess", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))

	s := openapi3.NewObjectSchema().
		WithProperty("schema_version", semverSchema()).
		WithProperty("rule_set_id", idSchema()).
		WithProperty("sport", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("sport_version", semverSchema()).
		WithProperty("metric_profile", profile).
		WithProperty("metadata", metadata).
		WithProperty("inputs", inputs).
		WithProperty("globals", openapi3.NewObjectSchema().WithNullable()).
		WithProperty("phases", nonEmptyArray(phase)).
		WithProperty("rules", nonEmptyArray(rule))
	s.Required = []string{"schema_version", "rule_set_id", "sport", "sport_version", "metadata", "phases", "rules"}
	s.Description = "Motion rule set consumed by evaluation engines."
	return s
}

func phaseSchema() *openapi3.Schema {
	window := openapi3.NewObjectSchema().
		WithProperty("event", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("window_ms", numberPair())
	window.Required = []string{"event", "window_ms"}

	s := openapi3.NewObjectSchema().
		WithProperty("id", idSchema()).
		WithProperty("label", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("frame_range", framePair()).
		WithProperty("event_window", window).
		WithProperty("joints_of_interest", openapi3.NewArraySchema().WithItems(jointSchema()))
	s.Required = []string{"id", "label"}
	s.Description = "Exactly one of frame_range and event_window is set."
	return s
}

func ruleSchema(condition *openapi3.SchemaRef) *openapi3.Schema {
	signal := openapi3.NewObjectSchema().
		WithProperty("type", openapi3.NewStringSchema().WithEnum(model.SignalFrameRangeRef, model.SignalDirect, model.SignalEventWindow)).
		WithProperty("ref", openapi3.NewStringSchema().WithPattern(`^phase:.+$`)).
		WithProperty("event", openapi3.NewStringSchema()).
		WithProperty("window_ms", numberPair()).
		WithProperty("default_phase", openapi3.NewStringSchema()).
		WithProperty("frame_range", framePair()).
		WithProperty("joints", openapi3.NewArraySchema().WithItems(jointSchema()))
	signal.Required = []string{"type"}

	score := openapi3.NewObjectSchema().
		WithProperty("mode", openapi3.NewStringSchema().WithEnum(model.ScoreWeighted, model.ScoreAllOrNothing, model.ScoreAverage)).
		WithProperty("pass_score", openapi3.NewFloat64Schema()).
		WithProperty("max_score", openapi3.NewFloat64Schema().WithMin(0)).
		WithProperty("weights", openapi3.NewObjectSchema().WithAdditionalProperties(openapi3.NewFloat64Schema()))
	score.Required = []string{"mode", "pass_score", "max_score"}

	feedback := openapi3.NewObjectSchema().
		WithProperty("condition_ids", openapi3.NewArraySchema().WithItems(idSchema()).WithMinItems(1)).
		WithProperty("message", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("severity", severitySchema()).
		WithProperty("attach_to_ts", openapi3.NewStringSchema().WithPattern(`^(event:.+|frame:\d+)$`))
	feedback.Required = []string{"condition_ids", "message", "severity"}

	s := openapi3.NewObjectSchema().
		WithProperty("id", idSchema()).
		WithProperty("label", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("phase", idSchema()).
		WithProperty("category", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("severity", severitySchema()).
		WithProperty("signal", signal).
		WithProperty("conditions", nonEmptyArray(condition)).
		WithProperty("score", score).
		WithProperty("feedback", openapi3.NewArraySchema().WithItems(feedback))
	s.Required = []string{"id", "label", "phase", "category", "severity", "signal", "conditions", "score"}
	return s
}

func conditionSchema() *openapi3.Schema {
	types := make([]any, 0, len(model.ConditionTypes))
	for _, t := range model.ConditionTypes {
		types = append(types, string(t))
	}
	ops := []any{
		model.OpGTE, model.OpGT, model.OpLTE, model.OpLT, model.OpEQ, model.OpNEQ, model.OpBetween,
		model.OpIsTrue, model.OpIsFalse, model.OpIncreasing, model.OpDecreasing,
	}

	s := openapi3.NewObjectSchema().
		WithProperty("id", idSchema()).
		WithProperty("type", openapi3.NewStringSchema().WithEnum(types...)).
		WithProperty("metric", openapi3.NewStringSchema()).
		WithProperty("op", openapi3.NewStringSchema().WithEnum(ops...)).
		WithProperty("value", openapi3.NewOneOfSchema(openapi3.NewFloat64Schema(), numberPair())).
		WithProperty("tolerance", openapi3.NewFloat64Schema()).
		WithProperty("abs_val", openapi3.NewBoolSchema()).
		WithProperty("event", openapi3.NewStringSchema()).
		WithProperty("window_ms", numberPair()).
		WithProperty("window_frames", openapi3.NewIntegerSchema().WithMin(1)).
		WithProperty("logic", openapi3.NewStringSchema().WithEnum(model.LogicAll, model.LogicAny, model.LogicNone)).
		WithProperty("conditions", openapi3.NewArraySchema().WithItems(idSchema())).
		WithProperty("joints", openapi3.NewArraySchema().WithItems(jointSchema()).WithMinItems(2).WithMaxItems(3)).
		WithProperty("pair", openapi3.NewArraySchema().WithItems(jointSchema()).WithMinItems(2).WithMaxItems(2)).
		WithProperty("reference", openapi3.NewStringSchema().WithEnum(model.ReferenceGlobal, model.ReferenceLocal))
	s.Required = []string{"id", "type"}
	s.Description = "Fields beyond id and type depend on the condition type."
	return s
}

func nonEmptyArray(items *openapi3.SchemaRef) *openapi3.Schema {
	s := openapi3.NewArraySchema().WithMinItems(1)
	s.Items = items
	return s
}

func idSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithPattern(idPatternText)
}

func semverSchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithPattern(`^\d+\.\d+\.\d+$`)
}

func severitySchema() *openapi3.Schema {
	return openapi3.NewStringSchema().WithEnum(model.SeverityInfo, model.SeverityWarn, model.SeverityFail)
}

func jointSchema() *openapi3.Schema {
	return openapi3.NewIntegerSchema().WithMin(0)
}

func numberPair() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(openapi3.NewFloat64Schema()).WithMinItems(2).WithMaxItems(2)
}

func framePair() *openapi3.Schema {
	return openapi3.NewArraySchema().WithItems(openapi3.NewIntegerSchema().WithMin(0)).WithMinItems(2).WithMaxItems(2)
}
