package draft

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/coachbuilder/internal/ident"
)

// ErrEmptyField is returned when an editable field holds no text.
var ErrEmptyField = errors.New("draft: empty field")

// NumberText is the raw text of a numeric field. The editor may hold any
// text in it; Parse reports whether it currently reads as a finite number.
type NumberText string

// Empty reports whether the field holds only whitespace.
func (t NumberText) Empty() bool { return strings.TrimSpace(string(t)) == "" }

// Parse returns the numeric value of the text.
func (t NumberText) Parse() (float64, error) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, ErrEmptyField
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("draft: %q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("draft: %q is not finite", s)
	}
	return f, nil
}

// FormatNumber renders f in its shortest exact decimal form.
func FormatNumber(f float64) NumberText {
	return NumberText(strconv.FormatFloat(f, 'f', -1, 64))
}

// JointsText is a comma-separated joint id list such as "8, 1, 12". Order
// and duplicates are kept as written so imported documents re-export
// unchanged.
type JointsText string

// Parse returns the non-negative integer tokens in order. Other tokens are
// dropped.
func (t JointsText) Parse() []int {
	var ids []int
	for _, tok := range strings.Split(string(t), ",") {
		if id, ok := jointToken(tok); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Malformed reports whether any non-empty token was dropped by Parse.
func (t JointsText) Malformed() bool {
	for _, tok := range strings.Split(string(t), ",") {
		if _, ok := jointToken(tok); !ok && strings.TrimSpace(tok) != "" {
			return true
		}
	}
	return false
}

// Selected returns the joints the skeleton picker can show: sorted, unique
// and within the BODY_25 range.
func (t JointsText) Selected() []int { return ident.ParseJointIDsCSV(string(t)) }

// FormatJoints renders ids in order.
func FormatJoints(ids []int) JointsText { return JointsText(FormatInts(ids)) }

func jointToken(tok string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// IntListText is an ordered comma-separated integer list, as in angle joints
// where the vertex is the middle entry. Negative values are kept for the
// validator to report.
type IntListText string

// Parse returns the integer tokens in order and how many tokens were dropped.
func (t IntListText) Parse() (ints []int, dropped int) {
	for _, tok := range strings.Split(string(t), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			dropped++
			continue
		}
		ints = append(ints, n)
	}
	return ints, dropped
}

// FormatInts renders ids in order.
func FormatInts(ids []int) IntListText {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return IntListText(strings.Join(parts, ", "))
}

// ListText is a comma-separated list of names.
type ListText string

// Items returns the trimmed non-empty entries in order.
func (t ListText) Items() []string { return splitNonEmpty(string(t), ",") }

// FormatList renders items.
func FormatList(items []string) ListText { return ListText(strings.Join(items, ", ")) }

// LinesText holds one entry per line.
type LinesText string

// Items returns the trimmed non-empty lines in order.
func (t LinesText) Items() []string { return splitNonEmpty(string(t), "\n") }

// FormatLines renders items one per line.
func FormatLines(items []string) LinesText { return LinesText(strings.Join(items, "\n")) }

// WeightsText is a weight map written as "key:value, key:value".
type WeightsText string

// Parse returns the well-formed pairs and how many entries were skipped.
func (t WeightsText) Parse() (weights map[string]float64, skipped int) {
	weights = make(map[string]float64)
	for _, entry := range splitNonEmpty(string(t), ",") {
		key, val, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			skipped++
			continue
		}
		f, err := NumberText(val).Parse()
		if err != nil {
			skipped++
			continue
		}
		weights[key] = f
	}
	return weights, skipped
}

// FormatWeights renders weights with keys in sorted order.
func FormatWeights(weights map[string]float64) WeightsText {
	keys := make([]string, 0, len(weights))
	for k := range weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + string(FormatNumber(weights[k]))
	}
	return WeightsText(strings.Join(parts, ", "))
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
