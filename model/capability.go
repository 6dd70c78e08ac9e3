package model

import "sort"

// AnyPhase is the metrics_by_phase key that applies to every phase.
const AnyPhase = "*"

// DefaultProfileID is used when neither the rule set nor the catalog names a profile.
const DefaultProfileID = "generic_core"

// ProfileCapability declares which condition types and metrics are legal for
// a profile.
type ProfileCapability struct {
	ID                      string              `json:"id" yaml:"id"`
	Plugin                  string              `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Type                    string              `json:"type" yaml:"type"`
	PresetID                string              `json:"preset_id,omitempty" yaml:"preset_id,omitempty"`
	MetricSpace             string              `json:"metric_space,omitempty" yaml:"metric_space,omitempty"`
	SupportedConditionTypes []ConditionType     `json:"supported_condition_types" yaml:"supported_condition_types"`
	MetricsByPhase          map[string][]string `json:"metrics_by_phase" yaml:"metrics_by_phase"`
	AvailableMetricIDs      []string            `json:"available_metric_ids,omitempty" yaml:"available_metric_ids,omitempty"`
	MetricCatalogRef        string              `json:"metric_catalog_ref,omitempty" yaml:"metric_catalog_ref,omitempty"`
}

// AllowsConditionType reports whether t is in the profile's supported set.
func (p *ProfileCapability) AllowsConditionType(t ConditionType) bool {
	for _, s := range p.SupportedConditionTypes {
		if s == t {
			return true
		}
	}
	return false
}

// MetricsForPhase returns the metrics allowed in phaseID, merging the
// phase's own list with the "*" list. The result is sorted and unique.
func (p *ProfileCapability) MetricsForPhase(phaseID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range []string{phaseID, AnyPhase} {
		for _, m := range p.MetricsByPhase[key] {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// AllowsMetric reports whether metric may be used by a rule in phaseID.
func (p *ProfileCapability) AllowsMetric(phaseID, metric string) bool {
	for _, key := range []string{phaseID, AnyPhase} {
		for _, m := range p.MetricsByPhase[key] {
			if m == metric {
				return true
			}
		}
	}
	return false
}

// MetricCatalogRef names the shared metric catalog inside a capability file.
type MetricCatalogRef struct {
	ID                 string   `json:"id" yaml:"id"`
	MetricSpace        string   `json:"metric_space" yaml:"metric_space"`
	AvailableMetricIDs []string `json:"available_metric_ids" yaml:"available_metric_ids"`
}

// CapabilityCatalog is the profile capability table loaded at startup.
type CapabilityCatalog struct {
	Version          int                          `json:"version" yaml:"version"`
	DefaultProfileID string                       `json:"default_profile_id" yaml:"default_profile_id"`
	MetricCatalog    MetricCatalogRef             `json:"metric_catalog" yaml:"metric_catalog"`
	Profiles         map[string]ProfileCapability `json:"profiles" yaml:"profiles"`
}

// Profile returns the named profile, or nil.
func (c *CapabilityCatalog) Profile(id string) *ProfileCapability {
	p, ok := c.Profiles[id]
	if !ok {
		return nil
	}
	return &p
}

// ProfileIDs returns the catalog's profile ids in sorted order.
func (c *CapabilityCatalog) ProfileIDs() []string {
	ids := make([]string, 0, len(c.Profiles))
	for id := range c.Profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MetricDefinition describes one metric for editors.
type MetricDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        string `json:"unit,omitempty" yaml:"unit,omitempty"`
	ValueKind   string `json:"value_kind,omitempty" yaml:"value_kind,omitempty"`
}

// MetricCatalog maps metric ids to their descriptions.
type MetricCatalog struct {
	MetricSpace string             `json:"metric_space" yaml:"metric_space"`
	Metrics     []MetricDefinition `json:"metrics" yaml:"metrics"`
}

// Lookup returns the metric with the given id.
func (c *MetricCatalog) Lookup(id string) (MetricDefinition, bool) {
	for _, m := range c.Metrics {
		if m.ID == id {
			return m, true
		}
	}
	return MetricDefinition{}, false
}
