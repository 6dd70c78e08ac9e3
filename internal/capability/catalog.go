package capability

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/coachbuilder/model"
)

// Snapshot is everything a Source provides in one load.
type Snapshot struct {
	Capabilities model.CapabilityCatalog
	Metrics      model.MetricCatalog
}

// Source loads capability data.
type Source interface {
	Load() (Snapshot, error)
}

// FileSource reads the capability table and, optionally, the metric catalog
// from YAML or JSON files.
type FileSource struct {
	CapabilityPath string
	MetricPath     string
}

// Load implements Source.
func (s FileSource) Load() (Snapshot, error) {
	caps, err := LoadCatalog(s.CapabilityPath)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Capabilities: caps}
	if s.MetricPath != "" {
		snap.Metrics, err = LoadMetricCatalog(s.MetricPath)
		if err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// LoadCatalog reads a capability file. Profiles keyed by id inherit the key
// when their own id is empty, and the default profile falls back to
// generic_core.
func LoadCatalog(path string) (model.CapabilityCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.CapabilityCatalog{}, fmt.Errorf("capability: reading catalog %s: %w", path, err)
	}

	var c model.CapabilityCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return model.CapabilityCatalog{}, fmt.Errorf("capability: parsing catalog %s: %w", path, err)
	}

	for id, p := range c.Profiles {
		if p.ID == "" {
			p.ID = id
		}
		if p.ID != id {
			return model.CapabilityCatalog{}, fmt.Errorf("capability: catalog %s: profile key %q holds id %q", path, id, p.ID)
		}
		for _, t := range p.SupportedConditionTypes {
			if !t.Known() {
				return model.CapabilityCatalog{}, fmt.Errorf("capability: catalog %s: profile %s: unknown condition type %q", path, id, t)
			}
		}
		c.Profiles[id] = p
	}
	if c.DefaultProfileID == "" {
		c.DefaultProfileID = model.DefaultProfileID
	}
	return c, nil
}

// LoadMetricCatalog reads a metric catalog file.
func LoadMetricCatalog(path string) (model.MetricCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.MetricCatalog{}, fmt.Errorf("capability: reading metric catalog %s: %w", path, err)
	}

	var m model.MetricCatalog
	if err := yaml.Unmarshal(data, &m); err != nil {
		return model.MetricCatalog{}, fmt.Errorf("capability: parsing metric catalog %s: %w", path, err)
	}

	seen := make(map[string]bool, len(m.Metrics))
	for _, def := range m.Metrics {
		if def.ID == "" {
			return model.MetricCatalog{}, fmt.Errorf("capability: metric catalog %s: metric without id", path)
		}
		if seen[def.ID] {
			return model.MetricCatalog{}, fmt.Errorf("capability: metric catalog %s: duplicate metric %q", path, def.ID)
		}
		seen[def.ID] = true
	}
	return m, nil
}
