package ruleset

import (
	"errors"
	"testing"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	doc, err := l.LoadFile("testdata/published/golf_swing.json")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	rs := doc.RuleSet
	if rs.RuleSetID != "golf_swing" {
		t.Errorf("RuleSetID = %q, want golf_swing", rs.RuleSetID)
	}
	if len(rs.Phases) != 2 {
		t.Fatalf("Phases = %d, want 2", len(rs.Phases))
	}
	if rs.Phases[1].EventWindow == nil || rs.Phases[1].EventWindow.Event != "ball_contact" {
		t.Errorf("Phases[1].EventWindow = %+v", rs.Phases[1].EventWindow)
	}
	if len(rs.Rules) != 1 || len(rs.Rules[0].Conditions) != 2 {
		t.Fatalf("Rules = %+v", rs.Rules)
	}
	if lo, hi, ok := rs.Rules[0].Conditions[1].Value.Pair(); !ok || lo != 150 || hi != 180 {
		t.Errorf("Conditions[1].Value = %v, %v, %v", lo, hi, ok)
	}
	if len(doc.Checksum) != 64 {
		t.Errorf("Checksum = %q, want sha256 hex", doc.Checksum)
	}
	if doc.SourceFile != "testdata/published/golf_swing.json" {
		t.Errorf("SourceFile = %q", doc.SourceFile)
	}
	if errs := NewValidator().Validate(rs, nil); len(errs) != 0 {
		t.Errorf("fixture does not validate: %v", errs)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadFile("testdata/nonexistent.json"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid(t *testing.T) {
	l := NewLoader()
	for _, path := range []string{"testdata/invalid/array.json", "testdata/invalid/truncated.json"} {
		_, err := l.LoadFile(path)
		if !errors.Is(err, ErrInvalidDocument) {
			t.Errorf("LoadFile(%s) error = %v, want ErrInvalidDocument", path, err)
		}
	}

	_, err := l.LoadFile("testdata/invalid/shape.json")
	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("LoadFile(shape.json) error = %v, want Errors", err)
	}
	if verrs[0].Path != "phases" {
		t.Errorf("Path = %q, want phases", verrs[0].Path)
	}
}

func TestLoader_LoadAll(t *testing.T) {
	l := NewLoader()
	docs, err := l.LoadAll([]string{"testdata/published"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("LoadAll() returned %d documents, want 2", len(docs))
	}
	if docs[0].RuleSet.RuleSetID != "golf_swing" || docs[1].RuleSet.RuleSetID != "tennis_serve" {
		t.Errorf("ids = %q, %q", docs[0].RuleSet.RuleSetID, docs[1].RuleSet.RuleSetID)
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	l := NewLoader()
	if _, err := l.LoadAll([]string{"testdata/does-not-exist"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
	if _, err := l.LoadAll([]string{"testdata/invalid"}); err == nil {
		t.Fatal("LoadAll() with invalid documents should return error")
	}
}

func TestNewDocument(t *testing.T) {
	a, err := NewDocument(validRuleSet())
	if err != nil {
		t.Fatalf("NewDocument() error = %v", err)
	}
	b, _ := NewDocument(validRuleSet())
	if a.Checksum == "" || a.Checksum != b.Checksum {
		t.Errorf("checksums = %q, %q, want equal and non-empty", a.Checksum, b.Checksum)
	}

	rs := validRuleSet()
	rs.Metadata.Title = "Other"
	c, _ := NewDocument(rs)
	if c.Checksum == a.Checksum {
		t.Error("different documents share a checksum")
	}
}
