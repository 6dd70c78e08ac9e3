// Package transfer moves rule sets across the file boundary: it turns
// uploaded bytes into a draft and a draft into a downloadable document.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/coachbuilder/internal/draft"
	"github.com/pitabwire/coachbuilder/internal/ident"
	"github.com/pitabwire/coachbuilder/internal/mapper"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/model"
)

// DefaultFilename is suggested when a draft has no rule_set_id.
const DefaultFilename = "rule_set.json"

// ErrInvalidDocument reports input that is not a JSON object.
var ErrInvalidDocument = ruleset.ErrInvalidDocument

// ErrUnparsableFields is returned by a strict export of a draft holding text
// that would be replaced by a fallback value.
var ErrUnparsableFields = errors.New("draft has unparsable fields")

// ProfileResolver picks the capability profile that gates a document.
type ProfileResolver interface {
	ForRuleSet(rs model.RuleSet) (*model.ProfileCapability, error)
}

// ImportOptions controls Import.
type ImportOptions struct {
	// Profile, when set, adds capability checks to validation.
	Profile *model.ProfileCapability
	// Profiles resolves the profile from the document itself when Profile
	// is nil.
	Profiles ProfileResolver
}

// ImportResult is the outcome of an import that got past parsing.
type ImportResult struct {
	// RuleSet is the decoded document.
	RuleSet model.RuleSet
	// Errors is non-empty when the document was rejected. Draft is then
	// unset and the caller's draft must stay untouched.
	Errors []model.ValidationError
	Draft  draft.CoachDraft
	Report mapper.ImportReport
}

// Accepted reports whether the document passed validation.
func (r ImportResult) Accepted() bool { return len(r.Errors) == 0 }

// Import parses, validates and maps an uploaded document. It returns an error
// wrapping ErrInvalidDocument only for malformed JSON or a non-object root;
// everything else is reported through ImportResult.Errors.
func Import(data []byte, opts ImportOptions) (ImportResult, error) {
	rs, shapeErrs, err := ruleset.Decode(data)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{RuleSet: rs}
	if errs := ruleset.MergeShapeErrors(shapeErrs, Validate(rs, opts)); len(errs) > 0 {
		res.Errors = errs
		return res, nil
	}
	res.Draft, res.Report = mapper.Import(rs)
	return res, nil
}

// Validate checks rs against the profile chosen by opts. A profile the
// resolver does not know is reported as invalid_metric_profile and the
// capability checks are skipped.
func Validate(rs model.RuleSet, opts ImportOptions) []model.ValidationError {
	profile := opts.Profile
	var errs []model.ValidationError
	if profile == nil && opts.Profiles != nil {
		p, err := opts.Profiles.ForRuleSet(rs)
		if err != nil {
			e := model.ValidationError{Path: "metric_profile.id", Code: model.CodeInvalidMetricProfile}
			if rs.MetricProfile != nil && rs.MetricProfile.ID != "" {
				e.Params = map[string]string{"id": rs.MetricProfile.ID}
			}
			errs = append(errs, e)
		}
		profile = p
	}
	return append(errs, ruleset.NewValidator().Validate(rs, profile)...)
}

// ExportOptions controls Export.
type ExportOptions struct {
	// Strict refuses to export a draft whose text needs fallback values.
	Strict bool
}

// Exported is a rendered document ready for download.
type Exported struct {
	RuleSet  model.RuleSet
	Data     []byte
	Filename string
	// Issues lists fields that were replaced by fallback values.
	Issues []model.ValidationError
}

// Export maps d to the wire document and renders it as JSON indented by two
// spaces with a trailing newline.
func Export(d draft.CoachDraft, opts ExportOptions) (Exported, error) {
	rs, issues := mapper.Export(d)
	if opts.Strict && len(issues) > 0 {
		return Exported{Issues: issues}, fmt.Errorf("%w: %w", ErrUnparsableFields, ruleset.Errors(issues))
	}
	data, err := Marshal(rs)
	if err != nil {
		return Exported{}, err
	}
	return Exported{
		RuleSet:  rs,
		Data:     data,
		Filename: SuggestedFilename(rs.RuleSetID),
		Issues:   issues,
	}, nil
}

// Marshal renders rs in the file format. HTML characters in messages are
// left unescaped.
func Marshal(rs model.RuleSet) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rs); err != nil {
		return nil, fmt.Errorf("encoding rule set %s: %w", rs.RuleSetID, err)
	}
	return buf.Bytes(), nil
}

// SuggestedFilename derives a download name from a rule_set_id.
func SuggestedFilename(ruleSetID string) string {
	if strings.TrimSpace(ruleSetID) == "" {
		return DefaultFilename
	}
	name := strings.TrimLeft(ident.Slugify(ruleSetID), ".")
	if name == "" {
		return DefaultFilename
	}
	return name + ".json"
}
