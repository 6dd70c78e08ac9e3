package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/model"
)

func exportDefault(t *testing.T) []byte {
	t.Helper()
	out, err := Export(draft.New(), ExportOptions{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	return out.Data
}

func TestExport_format(t *testing.T) {
	d := draft.New()
	d.RuleSetID = "golf_swing"
	d.Steps[0].Checkpoints[0].Feedback = []draft.FeedbackDraft{
		{ConditionIDs: "cond_1", Message: "Keep hips <still> & level", Severity: model.SeverityWarn},
	}

	out, err := Export(d, ExportOptions{})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if out.Filename != "golf_swing.json" {
		t.Errorf("Filename = %q, want golf_swing.json", out.Filename)
	}
	data := string(out.Data)
	if !strings.HasPrefix(data, "{\n  \"schema_version\": \"2.0.0\",\n") {
		t.Errorf("document not indented by two spaces:\n%s", data)
	}
	if !strings.HasSuffix(data, "}\n") {
		t.Error("document should end with a newline")
	}
	if !strings.Contains(data, "Keep hips <still> & level") {
		t.Error("HTML characters were escaped")
	}
	if !json.Valid(out.Data) {
		t.Error("export is not valid JSON")
	}
}

func TestExport_strict(t *testing.T) {
	d := draft.New()
	d.Steps[0].FrameEnd = "end"

	out, err := Export(d, ExportOptions{})
	if err != nil {
		t.Fatalf("lenient Export() error = %v", err)
	}
	if len(out.Issues) != 1 || out.Issues[0].Path != "phases[0].frame_range" {
		t.Errorf("Issues = %v", out.Issues)
	}

	out, err = Export(d, ExportOptions{Strict: true})
	if !errors.Is(err, ErrUnparsableFields) {
		t.Fatalf("strict Export() error = %v, want ErrUnparsableFields", err)
	}
	var verrs ruleset.Errors
	if !errors.As(err, &verrs) || len(verrs) != 1 {
		t.Errorf("strict error does not carry the issues: %v", err)
	}
	if out.Data != nil {
		t.Error("strict export should not render data")
	}
}

func TestImport_accepts(t *testing.T) {
	res, err := Import(exportDefault(t), ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if !res.Accepted() {
		t.Fatalf("Import() rejected: %v", res.Errors)
	}
	if res.Draft.Steps[0].ID != "phase_1" {
		t.Errorf("draft step = %q", res.Draft.Steps[0].ID)
	}
}

func TestImport_invalidDocument(t *testing.T) {
	for _, data := range []string{`[]`, `{"rules": [`, `42`} {
		_, err := Import([]byte(data), ImportOptions{})
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("Import(%s) error = %v, want ErrInvalidDocument", data, err)
		}
	}
}

func TestImport_rejectsInvalid(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(exportDefault(t), &doc); err != nil {
		t.Fatal(err)
	}
	doc["rule_set_id"] = ""
	doc["sport"] = ""
	data, _ := json.Marshal(doc)

	res, err := Import(data, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if res.Accepted() {
		t.Fatal("Import() accepted an invalid document")
	}
	paths := map[string]bool{}
	for _, e := range res.Errors {
		paths[e.Path] = true
	}
	if !paths["rule_set_id"] || !paths["sport"] {
		t.Errorf("Errors = %v", res.Errors)
	}
	if len(res.Draft.Steps) != 0 {
		t.Error("rejected import produced a draft")
	}
}

func TestImport_shapeMismatch(t *testing.T) {
	res, err := Import([]byte(`{"phases": {"id": "setup"}}`), ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(res.Errors) == 0 || res.Errors[0].Path != "phases" || res.Errors[0].Code != model.CodeInvalidType {
		t.Fatalf("Errors = %v, want phases: invalid_type first", res.Errors)
	}
	for _, e := range res.Errors[1:] {
		if e.Path == "phases" {
			t.Errorf("duplicate error at phases: %v", e)
		}
	}
	if !hasPath(res.Errors, "rule_set_id") {
		t.Errorf("Errors = %v, want the rest of the document checked", res.Errors)
	}
}

func TestImport_mistypedLeafKeepsCheckingDocument(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(exportDefault(t), &doc); err != nil {
		t.Fatal(err)
	}
	phases := doc["phases"].([]any)
	second := map[string]any{"id": "impact", "label": 7, "frame_range": []any{11, 20}}
	doc["phases"] = append(phases, second)
	doc["rule_set_id"] = ""
	data, _ := json.Marshal(doc)

	res, err := Import(data, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := []model.ValidationError{
		{Path: "phases[1].label", Code: model.CodeInvalidType, Params: map[string]string{"expected": "string", "got": "number"}},
		{Path: "rule_set_id", Code: model.CodeRequired},
	}
	if !reflect.DeepEqual(res.Errors, want) {
		t.Errorf("Errors = %v, want %v", res.Errors, want)
	}
	if len(res.Draft.Steps) != 0 {
		t.Error("rejected import produced a draft")
	}
}

func hasPath(errs []model.ValidationError, path string) bool {
	for _, e := range errs {
		if e.Path == path {
			return true
		}
	}
	return false
}

func TestImport_capabilityProfile(t *testing.T) {
	profile := &model.ProfileCapability{
		ID:                      "narrow",
		SupportedConditionTypes: []model.ConditionType{model.ConditionBoolean},
	}
	res, err := Import(exportDefault(t), ImportOptions{Profile: profile})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	codes := map[string]bool{}
	for _, e := range res.Errors {
		codes[e.Code] = true
	}
	if !codes[model.CodeConditionTypeNotAllowed] || !codes[model.CodeMetricNotAllowed] {
		t.Errorf("Errors = %v", res.Errors)
	}
}

type stubResolver struct {
	profile *model.ProfileCapability
	err     error
	seen    []string
}

func (r *stubResolver) ForRuleSet(rs model.RuleSet) (*model.ProfileCapability, error) {
	r.seen = append(r.seen, rs.RuleSetID)
	return r.profile, r.err
}

func TestImport_resolvesProfileFromDocument(t *testing.T) {
	resolver := &stubResolver{profile: &model.ProfileCapability{
		ID:                      "narrow",
		SupportedConditionTypes: []model.ConditionType{model.ConditionBoolean},
	}}
	res, err := Import(exportDefault(t), ImportOptions{Profiles: resolver})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(resolver.seen) != 1 {
		t.Errorf("resolver called %d times, want 1", len(resolver.seen))
	}
	if res.Accepted() {
		t.Error("Import() accepted a document outside the resolved profile")
	}
}

func TestImport_explicitProfileWins(t *testing.T) {
	resolver := &stubResolver{err: errors.New("should not be asked")}
	profile := &model.ProfileCapability{ID: "narrow"}
	_, err := Import(exportDefault(t), ImportOptions{Profile: profile, Profiles: resolver})
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(resolver.seen) != 0 {
		t.Errorf("resolver called %d times, want 0", len(resolver.seen))
	}
}

func TestValidate_unknownProfile(t *testing.T) {
	var rs model.RuleSet
	if err := json.Unmarshal(exportDefault(t), &rs); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	rs.MetricProfile = &model.MetricProfile{ID: "curling", Type: model.ProfileTypeGeneric, MetricSpace: "core_v1"}

	errs := Validate(rs, ImportOptions{Profiles: &stubResolver{err: errors.New("unknown profile")}})
	if len(errs) != 1 {
		t.Fatalf("Validate() = %v, want one error", errs)
	}
	e := errs[0]
	if e.Path != "metric_profile.id" || e.Code != model.CodeInvalidMetricProfile || e.Params["id"] != "curling" {
		t.Errorf("error = %v", e)
	}
}

func TestImport_synthesizesCheckpointForEmptyPhase(t *testing.T) {
	var doc map[string]any
	_ = json.Unmarshal(exportDefault(t), &doc)
	phases := doc["phases"].([]any)
	doc["phases"] = append(phases, map[string]any{"id": "follow", "label": "Follow", "frame_range": []any{30, 60}})
	data, _ := json.Marshal(doc)

	res, err := Import(data, ImportOptions{})
	if err != nil || !res.Accepted() {
		t.Fatalf("Import() = %v, %v", res.Errors, err)
	}
	if len(res.Report.SynthesizedCheckpoints) != 1 {
		t.Errorf("SynthesizedCheckpoints = %v", res.Report.SynthesizedCheckpoints)
	}
	if got := len(res.Draft.Steps[1].Checkpoints); got != 1 {
		t.Errorf("follow checkpoints = %d, want 1", got)
	}
}

func TestRoundTrip_bytes(t *testing.T) {
	first := exportDefault(t)
	res, err := Import(first, ImportOptions{})
	if err != nil || !res.Accepted() {
		t.Fatalf("Import() = %v, %v", res.Errors, err)
	}
	second, err := Export(res.Draft, ExportOptions{Strict: true})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !bytes.Equal(first, second.Data) {
		t.Errorf("bytes differ:\n%s\n%s", first, second.Data)
	}
}

func TestSuggestedFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"golf_swing", "golf_swing.json"},
		{"", DefaultFilename},
		{"   ", DefaultFilename},
		{"Golf Swing v2", "golf_swing_v2.json"},
		{"../etc/passwd", "_etc_passwd.json"},
		{"...", DefaultFilename},
	}
	for _, tt := range tests {
		if got := SuggestedFilename(tt.in); got != tt.want {
			t.Errorf("SuggestedFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
