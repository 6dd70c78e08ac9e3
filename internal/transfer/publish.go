package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pitabwire/coachbuilder/internal/observability"
	"github.com/pitabwire/coachbuilder/internal/ruleset"
	"github.com/pitabwire/coachbuilder/model"
)

// Publisher admits valid documents into the published registry and, when a
// directory is configured, writes them there so the next start loads them.
type Publisher struct {
	registry *ruleset.Registry
	profiles ProfileResolver
	dir      string
}

// NewPublisher creates a Publisher. An empty dir keeps published rule sets in
// memory only.
func NewPublisher(registry *ruleset.Registry, profiles ProfileResolver, dir string) *Publisher {
	return &Publisher{registry: registry, profiles: profiles, dir: dir}
}

// Check decodes and validates a document without publishing it. The error
// is reserved for ErrInvalidDocument.
func (p *Publisher) Check(data []byte) (model.RuleSet, []model.ValidationError, error) {
	rs, shapeErrs, err := ruleset.Decode(data)
	if err != nil {
		return model.RuleSet{}, nil, err
	}
	return rs, ruleset.MergeShapeErrors(shapeErrs, Validate(rs, ImportOptions{Profiles: p.profiles})), nil
}

// Publish validates a document and replaces any published rule set with the
// same rule_set_id. Documents with validation errors are not published.
func (p *Publisher) Publish(ctx context.Context, data []byte) (ruleset.Document, []model.ValidationError, error) {
	_, span := observability.StartSpan(ctx, "ruleset.Publish")

	rs, errs, err := p.Check(data)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return ruleset.Document{}, nil, err
	}
	observability.AnnotateRuleSet(span, rs)
	observability.AnnotateValidation(span, errs)
	if len(errs) > 0 {
		span.End()
		return ruleset.Document{}, errs, nil
	}

	doc, err := ruleset.NewDocument(rs)
	if err != nil {
		observability.EndSpanWithError(span, err)
		return ruleset.Document{}, nil, err
	}
	if p.dir != "" {
		path, err := p.write(rs)
		if err != nil {
			observability.EndSpanWithError(span, err)
			return ruleset.Document{}, nil, err
		}
		doc.SourceFile = path
	}
	p.registry.Publish(doc)
	span.End()
	return doc, nil, nil
}

// write stores rs under its suggested filename, replacing the file atomically.
func (p *Publisher) write(rs model.RuleSet) (string, error) {
	data, err := Marshal(rs)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating publish directory %s: %w", p.dir, err)
	}

	path := filepath.Join(p.dir, SuggestedFilename(rs.RuleSetID))
	tmp, err := os.CreateTemp(p.dir, ".publish-*.json")
	if err != nil {
		return "", fmt.Errorf("publishing %s: %w", rs.RuleSetID, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("publishing %s: %w", rs.RuleSetID, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("publishing %s: %w", rs.RuleSetID, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("publishing %s: %w", rs.RuleSetID, err)
	}
	return path, nil
}
