package ruleset

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pitabwire/coachbuilder/model"
)

// Document is a rule set together with where it came from.
type Document struct {
	RuleSet    model.RuleSet `json:"rule_set"`
	Checksum   string        `json:"checksum"`
	SourceFile string        `json:"source_file,omitempty"`
}

// NewDocument wraps a rule set that did not come from disk. The checksum is
// taken over its canonical JSON encoding.
func NewDocument(rs model.RuleSet) (Document, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return Document{}, fmt.Errorf("encoding %s: %w", rs.RuleSetID, err)
	}
	return Document{RuleSet: rs, Checksum: checksum(data)}, nil
}

// Loader scans directories for JSON rule set files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new rule set Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.json files and parses each into
// a Document.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	var docs []Document

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if strings.ToLower(filepath.Ext(path)) != ".json" {
				return nil
			}

			doc, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return docs, nil
}

// LoadFile loads and parses a single rule set file. Shape errors are returned
// as Errors; semantic validation is left to the caller.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}

	rs, shapeErrs, err := Decode(data)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(shapeErrs) > 0 {
		return Document{}, fmt.Errorf("parsing %s: %w", path, Errors(shapeErrs))
	}

	return Document{
		RuleSet:    rs,
		Checksum:   checksum(data),
		SourceFile: path,
	}, nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
